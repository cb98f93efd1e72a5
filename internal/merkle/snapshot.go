// Package merkle builds and persists a content-hash snapshot of a project
// tree so incremental indexing can detect added, removed, and modified
// files without re-reading unchanged content.
package merkle

import (
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// SnapshotVersion is the current on-disk format version. Bumping it lets
// Load reject snapshots written by an older, incompatible layout instead
// of mis-parsing them.
const SnapshotVersion byte = 1

// HashSize is the length in bytes of a SHA-256 content hash.
const HashSize = sha256.Size

// Snapshot is an ordered mapping from normalized relative path to the
// SHA-256 content hash of that file, as of one point-in-time walk of the
// tree. The live tree may have diverged by the time a caller reads it.
type Snapshot struct {
	Version int
	Entries map[string][HashSize]byte
}

// New returns an empty snapshot at the current version.
func New() *Snapshot {
	return &Snapshot{
		Version: int(SnapshotVersion),
		Entries: make(map[string][HashSize]byte),
	}
}

// RejectFunc reports whether a path (and, if it needs to be read to
// decide, its content) should be excluded from the snapshot. Used to wire
// in sensitive-file and directory-skip rules without merkle depending on
// those packages directly.
type RejectFunc func(relPath string) bool

// defaultSkipDirs mirrors the directories scanner.go always excludes;
// merkle walks independently of the scanner so it repeats the same
// baseline here.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
}

// BuildFromTree walks root and hashes every regular file not excluded by
// a default skip directory or by reject. Paths in the resulting snapshot
// are relative to root and use forward slashes regardless of OS.
func BuildFromTree(root string, reject RejectFunc) (*Snapshot, error) {
	snap := New()

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && defaultSkipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)

		if reject != nil && reject(relPath) {
			return nil
		}

		hash, err := hashFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				// Removed between WalkDir's readdir and our open; skip it.
				return nil
			}
			return fmt.Errorf("hash %s: %w", relPath, err)
		}
		snap.Entries[relPath] = hash
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

func hashFile(path string) ([HashSize]byte, error) {
	var zero [HashSize]byte
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return zero, err
	}

	var out [HashSize]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// Diff describes the paths that changed between an old and a new
// snapshot of the same tree.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// DiffSnapshots compares old against new and classifies every path.
// Modified means the same path is present in both with different hashes.
func DiffSnapshots(old, new *Snapshot) Diff {
	var d Diff

	for path, newHash := range new.Entries {
		oldHash, ok := old.Entries[path]
		if !ok {
			d.Added = append(d.Added, path)
			continue
		}
		if oldHash != newHash {
			d.Modified = append(d.Modified, path)
		}
	}
	for path := range old.Entries {
		if _, ok := new.Entries[path]; !ok {
			d.Removed = append(d.Removed, path)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Modified)
	return d
}

// Save writes the snapshot to path using an atomic temp-file-then-rename,
// so a crash mid-write never leaves a half-written file at the real path.
func (s *Snapshot) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}

	if err := s.encode(f); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp snapshot: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

// encode writes version byte + length-prefixed path + fixed-width hash
// for every entry, sorted by path for a deterministic byte stream.
func (s *Snapshot) encode(w io.Writer) error {
	bw := bufio.NewWriter(w)

	if err := bw.WriteByte(byte(s.Version)); err != nil {
		return err
	}

	paths := make([]string, 0, len(s.Entries))
	for p := range s.Entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var lenBuf [4]byte
	for _, p := range paths {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
		if _, err := bw.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := bw.WriteString(p); err != nil {
			return err
		}
		hash := s.Entries[p]
		if _, err := bw.Write(hash[:]); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Load reads a snapshot previously written by Save. A corrupt or
// unrecognized-version file is reported via ErrCorrupt so callers can
// fall back to a full rebuild instead of treating it as fatal.
func Load(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)

	version, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if version != SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	snap := &Snapshot{Version: int(version), Entries: make(map[string][HashSize]byte)}

	var lenBuf [4]byte
	for {
		_, err := io.ReadFull(br, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		pathLen := binary.BigEndian.Uint32(lenBuf[:])
		if pathLen == 0 || pathLen > 1<<16 {
			return nil, fmt.Errorf("%w: implausible path length %d", ErrCorrupt, pathLen)
		}

		pathBuf := make([]byte, pathLen)
		if _, err := io.ReadFull(br, pathBuf); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		var hash [HashSize]byte
		if _, err := io.ReadFull(br, hash[:]); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}

		snap.Entries[string(pathBuf)] = hash
	}

	return snap, nil
}

// LoadOrRebuild loads path, falling back to a fresh walk of root on any
// load error (missing file, corrupt format, unknown version). The
// fallback is logged, never returned as an error, matching the snapshot
// contract: a corrupt snapshot causes a rebuild, not a failed cycle.
func LoadOrRebuild(path, root string, reject RejectFunc) (*Snapshot, error) {
	snap, err := Load(path)
	if err == nil {
		return snap, nil
	}
	if !os.IsNotExist(err) {
		slog.Warn("merkle snapshot unreadable, rebuilding from tree",
			slog.String("path", path), slog.String("error", err.Error()))
	}
	return BuildFromTree(root, reject)
}

// HashString returns the hex encoding of a content hash, for logging and
// display.
func HashString(hash [HashSize]byte) string {
	return hex.EncodeToString(hash[:])
}
