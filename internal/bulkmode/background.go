package bulkmode

import (
	"context"

	"github.com/molaco/codeindex/internal/async"
)

// RunBackground runs fn as a bulk-mode pass in a background goroutine,
// reporting progress through an async.IndexProgress and guarding against a
// second concurrent bulk run with a lock file under dataDir. Callers poll
// the returned indexer's Progress() for status, or Wait() to block for
// completion. fn is expected to call progress.SetStage/UpdateFiles/
// UpdateChunks as it works; bulk-mode enter/exit and the post-run rebuild
// still go through Orchestrator.Run underneath.
//
// HasIncompleteLock(dataDir) can be checked before calling RunBackground to
// detect a bulk run that crashed without cleaning up its lock file.
func (o *Orchestrator) RunBackground(ctx context.Context, dataDir string, fn func(ctx context.Context, progress *async.IndexProgress) error, rebuild func() error) *async.BackgroundIndexer {
	indexer := async.NewBackgroundIndexer(async.IndexerConfig{DataDir: dataDir})
	indexer.IndexFunc = func(ctx context.Context, progress *async.IndexProgress) error {
		return o.Run(func() error {
			return fn(ctx, progress)
		}, rebuild)
	}
	indexer.Start(ctx)
	return indexer
}
