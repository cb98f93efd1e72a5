// Package syncmgr ticks the incremental driver over a set of tracked
// directories on a timer, so callers don't have to drive C9 by hand.
package syncmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/molaco/codeindex/internal/logging"
	"github.com/molaco/codeindex/internal/watcher"
)

// startupDelay is how long Start waits before the first tick, to avoid
// contending with whatever else is warming up right after construction.
const startupDelay = 5 * time.Second

// RunFunc runs one incremental pass over a single tracked directory.
// It's typically incremental.Driver.Run bound to a project ID.
type RunFunc func(ctx context.Context, dir string) error

// Manager holds a set of tracked directories and ticks RunFunc over each
// of them sequentially, on its own interval.
type Manager struct {
	run      RunFunc
	interval time.Duration

	mu   sync.Mutex
	dirs map[string]bool

	syncNowCh chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	running  bool
	watchers map[string]*watcher.HybridWatcher
}

// New creates a Manager. interval is the tick period; run is invoked once
// per tracked directory, per tick.
func New(run RunFunc, interval time.Duration) *Manager {
	return &Manager{
		run:       run,
		interval:  interval,
		dirs:      make(map[string]bool),
		syncNowCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		watchers:  make(map[string]*watcher.HybridWatcher),
	}
}

// NewWithLogging creates a Manager the same way New does, but first sets up
// rotating structured logging per logCfg and installs it as the process's
// default slog handler. This is the long-running entry point (C14 ticks for
// the lifetime of the process), so it's the natural place to own log setup
// for the rest of the module - every bare slog.Info/Warn call elsewhere
// (C8's indexer, C9's driver, C12's checker) flows through the handler
// configured here. The returned cleanup func closes the rotating writer and
// must be called on shutdown, after Stop.
func NewWithLogging(run RunFunc, interval time.Duration, logCfg logging.Config) (*Manager, func(), error) {
	logger, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)
	return New(run, interval), cleanup, nil
}

// Track adds a directory to the tracked set. Takes effect at the next
// tick; safe to call while the manager is running.
func (m *Manager) Track(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[dir] = true
}

// Untrack removes a directory from the tracked set. Takes effect at the
// next tick.
func (m *Manager) Untrack(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dirs, dir)
}

// TrackedDirs returns a snapshot of the currently tracked directories.
func (m *Manager) TrackedDirs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.dirs))
	for d := range m.dirs {
		out = append(out, d)
	}
	return out
}

// Start begins the tick loop in a background goroutine. The first tick
// fires after startupDelay; subsequent ticks fire every interval.
// Non-blocking; call Stop to shut down.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()

	go m.loop(ctx)
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.doneCh)

	timer := time.NewTimer(startupDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-m.syncNowCh:
			m.tick(ctx)
		case <-timer.C:
			m.tick(ctx)
			timer.Reset(m.interval)
		}
	}
}

// tick runs one pass across every tracked directory, sequentially.
// A failure in one directory is logged and does not stop the others.
func (m *Manager) tick(ctx context.Context) {
	for _, dir := range m.TrackedDirs() {
		if err := m.run(ctx, dir); err != nil {
			slog.Warn("sync failed for directory", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}
}

// Watch starts an fsnotify-backed watcher (falling back to polling if
// fsnotify is unavailable) on dir and tracks it. Every batch of file
// events the watcher reports triggers an immediate SyncNow, so changes
// are picked up between ticks instead of waiting out the full interval.
// dir is also added to the tracked set, same as Track. Calling Watch
// again for a directory already being watched is a no-op.
func (m *Manager) Watch(ctx context.Context, dir string, opts watcher.Options) error {
	m.mu.Lock()
	if _, exists := m.watchers[dir]; exists {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	w, err := watcher.NewHybridWatcher(opts)
	if err != nil {
		return fmt.Errorf("start watcher for %s: %w", dir, err)
	}
	if err := w.Start(ctx, dir); err != nil {
		return fmt.Errorf("start watcher for %s: %w", dir, err)
	}

	m.mu.Lock()
	m.watchers[dir] = w
	m.mu.Unlock()
	m.Track(dir)

	go m.forwardWatcherEvents(dir, w)
	return nil
}

func (m *Manager) forwardWatcherEvents(dir string, w *watcher.HybridWatcher) {
	for {
		select {
		case _, ok := <-w.Events():
			if !ok {
				return
			}
			m.SyncNow()
		case err, ok := <-w.Errors():
			if !ok {
				return
			}
			slog.Warn("watcher error", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}
}

// SyncNow requests an immediate tick without waiting for the timer. If a
// sync is already pending it's a no-op - the already-queued request will
// cover it.
func (m *Manager) SyncNow() {
	select {
	case m.syncNowCh <- struct{}{}:
	default:
	}
}

// Stop signals the tick loop to exit and waits for it to finish. Safe to
// call even if Start was never called.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopCh)
	<-m.doneCh

	m.mu.Lock()
	watchers := m.watchers
	m.watchers = make(map[string]*watcher.HybridWatcher)
	m.mu.Unlock()
	for dir, w := range watchers {
		if err := w.Stop(); err != nil {
			slog.Warn("failed to stop watcher", slog.String("dir", dir), slog.String("error", err.Error()))
		}
	}
}
