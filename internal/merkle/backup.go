package merkle

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// DefaultRetentionCount is the number of rotated snapshot backups kept
// before the oldest is pruned.
const DefaultRetentionCount = 7

// BackupManager rotates point-in-time copies of a merkle snapshot so a
// bad commit can be rolled back to a known-good generation.
type BackupManager struct {
	dir       string
	retention int
}

// NewBackupManager creates dir if needed and returns a manager that keeps
// at most retention generations.
func NewBackupManager(dir string, retention int) (*BackupManager, error) {
	if retention <= 0 {
		retention = DefaultRetentionCount
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &BackupManager{dir: dir, retention: retention}, nil
}

// Dir returns the backup directory.
func (b *BackupManager) Dir() string { return b.dir }

// RetentionCount returns the configured generation count.
func (b *BackupManager) RetentionCount() int { return b.retention }

// CreateBackup snapshots snap into a new generation file and prunes old
// generations beyond the retention count. Returns the path written.
func (b *BackupManager) CreateBackup(snap *Snapshot) (string, error) {
	name := fmt.Sprintf("merkle_v%d.%d.snapshot", snap.Version, time.Now().Unix())
	path := filepath.Join(b.dir, name)

	if err := snap.Save(path); err != nil {
		return "", fmt.Errorf("save backup %s: %w", path, err)
	}

	if err := b.rotate(); err != nil {
		return path, fmt.Errorf("rotate backups: %w", err)
	}

	slog.Info("merkle snapshot backed up", slog.String("path", path))
	return path, nil
}

// RestoreLatest loads the most recently modified backup, or returns
// (nil, nil) if no backups exist.
func (b *BackupManager) RestoreLatest() (*Snapshot, error) {
	entries, err := b.listByModTime()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	latest := entries[len(entries)-1]
	slog.Info("restoring merkle snapshot from backup", slog.String("path", latest.path))
	return Load(latest.path)
}

// ListBackups returns backup file paths in no particular order.
func (b *BackupManager) ListBackups() ([]string, error) {
	entries, err := b.listByModTime()
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.path
	}
	return paths, nil
}

type backupEntry struct {
	path    string
	modTime time.Time
}

// listByModTime returns backup entries sorted oldest-first.
func (b *BackupManager) listByModTime() ([]backupEntry, error) {
	dirEntries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var entries []backupEntry
	for _, de := range dirEntries {
		if de.IsDir() || filepath.Ext(de.Name()) != ".snapshot" {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, backupEntry{
			path:    filepath.Join(b.dir, de.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].modTime.Before(entries[j].modTime)
	})
	return entries, nil
}

// rotate removes the oldest backups once the count exceeds retention.
func (b *BackupManager) rotate() error {
	entries, err := b.listByModTime()
	if err != nil {
		return err
	}
	if len(entries) <= b.retention {
		return nil
	}

	toRemove := len(entries) - b.retention
	for _, e := range entries[:toRemove] {
		if err := os.Remove(e.path); err != nil {
			return fmt.Errorf("remove old backup %s: %w", e.path, err)
		}
		slog.Info("deleted old merkle backup", slog.String("path", e.path))
	}
	return nil
}
