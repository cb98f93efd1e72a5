// Package bulkmode wraps a long-running indexing closure with a
// before/after HNSW reconfiguration: a minimal-graph config is applied for
// the duration of the closure, then the original configuration is restored
// and the index is rebuilt, regardless of whether the closure succeeded.
package bulkmode

import (
	"fmt"
	"sync"

	"github.com/molaco/codeindex/internal/vector"
)

// Reconfigurable is the subset of vector.HNSWStore's surface the
// orchestrator needs. Defined here so the orchestrator can be tested
// against a fake store.
type Reconfigurable interface {
	EnterBulkMode(cfg vector.BulkModeConfig) error
	ExitBulkMode() error
	InBulkMode() bool
}

// Orchestrator drives enter/exit of bulk mode around a closure.
type Orchestrator struct {
	store Reconfigurable
	cfg   vector.BulkModeConfig

	mu     sync.Mutex
	active bool
}

// New creates an Orchestrator around the given vector store.
func New(store Reconfigurable, cfg vector.BulkModeConfig) *Orchestrator {
	return &Orchestrator{store: store, cfg: cfg}
}

// IsActive reports whether bulk mode is currently engaged.
func (o *Orchestrator) IsActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Run executes fn with the vector store in bulk mode, then restores the
// original HNSW configuration and triggers rebuild. Restoration always
// runs, even if fn panics or returns an error; fn's error (or panic) is
// preserved and returned/re-raised after restoration completes.
//
// Double-enter is forbidden: calling Run while already active returns an
// error without invoking fn.
func (o *Orchestrator) Run(fn func() error, rebuild func() error) (err error) {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return fmt.Errorf("bulk mode already active")
	}
	o.active = true
	o.mu.Unlock()

	if enterErr := o.store.EnterBulkMode(o.cfg); enterErr != nil {
		o.mu.Lock()
		o.active = false
		o.mu.Unlock()
		return fmt.Errorf("enter bulk mode: %w", enterErr)
	}

	defer func() {
		exitErr := o.store.ExitBulkMode()
		o.mu.Lock()
		o.active = false
		o.mu.Unlock()

		if r := recover(); r != nil {
			// Restoration above already ran; re-raise after cleanup.
			panic(r)
		}

		if err == nil && exitErr != nil {
			err = fmt.Errorf("exit bulk mode: %w", exitErr)
			return
		}
		if err == nil && rebuild != nil {
			err = rebuild()
		}
	}()

	err = fn()
	return err
}
