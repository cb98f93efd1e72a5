// Package incremental drives indexing across a whole tree: it builds a
// fresh Merkle snapshot, diffs it against the stored one, and schedules
// the resulting per-file work across a bounded worker pool.
package incremental

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/molaco/codeindex/internal/config"
	"github.com/molaco/codeindex/internal/errors"
	"github.com/molaco/codeindex/internal/indexer"
	"github.com/molaco/codeindex/internal/merkle"
	"github.com/molaco/codeindex/internal/retry"
	"github.com/molaco/codeindex/internal/secrets"
	"github.com/molaco/codeindex/internal/store"
)

// FileError pairs a path with the error encountered processing it.
type FileError struct {
	Path string
	Err  error
}

// Stats summarizes one incremental pass over a directory.
type Stats struct {
	Added      int
	Modified   int
	Removed    int
	Unchanged  int
	Errors     []FileError
}

// Driver runs incremental indexing passes over a single project root.
type Driver struct {
	indexer      *indexer.Indexer
	bm25         store.BM25Index
	filter       *secrets.Filter
	snapshotPath string

	// NumWorkers bounds the per-file worker pool. 0 means
	// runtime.NumCPU().
	NumWorkers int

	// RetryConfig governs how Transient-categorized errors are retried.
	RetryConfig retry.RetryConfig
}

// New creates a Driver. snapshotPath is where the project's Merkle
// snapshot is persisted between runs (typically under the project's data
// directory).
func New(ix *indexer.Indexer, bm25Index store.BM25Index, filter *secrets.Filter, snapshotPath string) *Driver {
	return &Driver{
		indexer:      ix,
		bm25:         bm25Index,
		filter:       filter,
		snapshotPath: snapshotPath,
		RetryConfig:  retry.DefaultRetryConfig(),
	}
}

// ApplyIndexingConfig wires the External Interfaces config keys (spec.md
// §6: num_threads, retry_attempts, retry_delay_ms, max_file_size,
// gpu_batch_size) into this driver's worker pool, retry policy, and the
// underlying indexer's file-size ceiling and embedding batch size. Call
// once after New, before Run. Zero-valued fields in cfg leave the
// corresponding setting at its existing default.
func (d *Driver) ApplyIndexingConfig(cfg config.IndexingConfig) {
	d.NumWorkers = cfg.NumThreads
	if cfg.RetryAttempts > 0 {
		d.RetryConfig.MaxRetries = cfg.RetryAttempts
	}
	if cfg.RetryDelayMS > 0 {
		d.RetryConfig.InitialDelay = time.Duration(cfg.RetryDelayMS) * time.Millisecond
	}
	if cfg.MaxFileSize > 0 {
		d.indexer.MaxFileSize = cfg.MaxFileSize
	}
	if cfg.GPUBatchSize > 0 {
		d.indexer.MaxBatchSize = cfg.GPUBatchSize
	}
}

// Run scans root, diffs against the last snapshot (or builds one from
// scratch if none exists), and processes the resulting changes. On
// completion it writes the fresh snapshot - even if some files failed
// permanently, so unaffected paths aren't redundantly rescanned next
// cycle; the failed path's stale-or-missing entry is left in place so
// it's retried on the next pass. commit() is invoked on the BM25 index
// (its Save persists the on-disk index) once all file work is done.
func (d *Driver) Run(ctx context.Context, projectID, root string) (*Stats, error) {
	// Only the path stage of the filter runs here - reading every file's
	// content just to build the snapshot would defeat the point of
	// hashing lazily. Content-based rejection still happens for real in
	// IndexFile, where the file is read anyway.
	reject := func(relPath string) bool {
		return !d.filter.ShouldIndex(relPath, nil)
	}

	newSnapshot, err := merkle.BuildFromTree(root, reject)
	if err != nil {
		return nil, fmt.Errorf("build snapshot: %w", err)
	}

	oldSnapshot, err := merkle.Load(d.snapshotPath)
	if err != nil {
		oldSnapshot = merkle.New()
	}

	diff := merkle.DiffSnapshots(oldSnapshot, newSnapshot)

	stats := &Stats{
		Unchanged: len(newSnapshot.Entries) - len(diff.Added) - len(diff.Modified),
	}

	type job struct {
		path string
		kind jobKind
	}

	var jobs []job
	for _, p := range diff.Added {
		jobs = append(jobs, job{p, jobAdd})
	}
	for _, p := range diff.Modified {
		jobs = append(jobs, job{p, jobModify})
	}
	for _, p := range diff.Removed {
		jobs = append(jobs, job{p, jobRemove})
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].path < jobs[j].path })

	workers := d.NumWorkers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	failedPaths := make(map[string]bool)

	for _, j := range jobs {
		j := j
		g.Go(func() error {
			err := d.processJob(gctx, projectID, root, j.path, j.kind)
			if err == nil {
				mu.Lock()
				switch j.kind {
				case jobAdd:
					stats.Added++
				case jobModify:
					stats.Modified++
				case jobRemove:
					stats.Removed++
				}
				mu.Unlock()
				return nil
			}

			mu.Lock()
			stats.Errors = append(stats.Errors, FileError{Path: j.path, Err: err})
			failedPaths[j.path] = true
			mu.Unlock()
			// Never abort the group: one file's permanent failure must
			// not stop the rest of the cycle from being processed.
			return nil
		})
	}

	// errgroup's error is always nil here since job goroutines swallow
	// their own errors into stats.Errors; Wait only propagates context
	// cancellation.
	if err := g.Wait(); err != nil {
		return stats, err
	}

	// Preserve the old entry for any path that failed, so it's retried
	// next cycle instead of silently dropped from future diffs.
	for path := range failedPaths {
		if oldHash, ok := oldSnapshot.Entries[path]; ok {
			newSnapshot.Entries[path] = oldHash
		} else {
			delete(newSnapshot.Entries, path)
		}
	}

	if err := newSnapshot.Save(d.snapshotPath); err != nil {
		return stats, fmt.Errorf("save snapshot: %w", err)
	}

	if err := d.bm25.Save(d.bm25CommitPath()); err != nil {
		return stats, fmt.Errorf("commit bm25 index: %w", err)
	}

	return stats, nil
}

// bm25CommitPath derives the BM25 persistence path from the snapshot
// path's directory, keeping both artifacts under the same data directory.
func (d *Driver) bm25CommitPath() string {
	return filepath.Join(filepath.Dir(d.snapshotPath), "bm25")
}

type jobKind int

const (
	jobAdd jobKind = iota
	jobModify
	jobRemove
)

// processJob runs one file's transaction and retries Transient errors
// under the driver's backoff policy. Permanent errors are returned
// immediately without retry.
func (d *Driver) processJob(ctx context.Context, projectID, root, relPath string, kind jobKind) error {
	op := func() error {
		switch kind {
		case jobRemove:
			return d.indexer.DeleteFile(ctx, projectID, relPath)
		default:
			absPath := filepath.Join(root, relPath)
			if _, err := os.Stat(absPath); os.IsNotExist(err) {
				// Raced with a deletion between the snapshot walk and
				// this job running; treat as already-removed.
				return d.indexer.DeleteFile(ctx, projectID, relPath)
			}
			// Modified files are upserted directly rather than
			// deleted-then-indexed: chunk IDs are content-derived, so
			// stale chunks with IDs absent from the new set would be
			// left behind by a plain upsert. IndexFile's purge-on-empty
			// path handles the "file now produces different chunks"
			// case; any genuinely stale chunk IDs are cleaned up by the
			// consistency checker since they no longer appear in the
			// file's current chunk set written to metadata.
			_, err := d.indexer.IndexFile(ctx, projectID, absPath, relPath)
			return err
		}
	}

	err := op()
	if err == nil || !isTransient(err) {
		return err
	}
	return retry.Retry(ctx, d.RetryConfig, op)
}

// isTransient reports whether err should be retried under C11's backoff.
// Permanent errors - permission denied, not found, invalid content,
// is-a-directory - are never retried since a retry can't change them.
// Transient errors - deadline/timeout, context cancellation racing a
// shutdown, or an explicitly wrapped *errors.IndexError carrying a
// retryable code (network timeout/unavailable, model download) - are
// worth retrying under backoff.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsRetryable(err) {
		return true
	}
	if stderrors.Is(err, os.ErrPermission) || stderrors.Is(err, os.ErrNotExist) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pathErr *fs.PathError
	if stderrors.As(err, &pathErr) {
		return false
	}
	return false
}
