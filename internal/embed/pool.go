package embed

import (
	"context"
	"log/slog"
	"sync"
)

// DefaultPoolSlots bounds how many embedding calls a PooledEmbedder lets
// through concurrently. Kept small: embedding providers (a local Ollama/MLX
// server, or the hash-based static path) don't benefit from unbounded
// fan-in, and a small slot count gives callers real backpressure instead of
// an internal queue that just defers the same contention.
const DefaultPoolSlots = 4

// warmupTexts is the small batch used to prime a provider on first use -
// enough to trigger model load and connection setup without doing
// meaningful work twice.
var warmupTexts = []string{"warmup"}

// PooledEmbedder wraps an Embedder with a slot-bound concurrency limit and
// a one-shot warm-up call. Concurrent callers beyond the slot count block
// until a worker is free; there is no internal queueing beyond the slots
// themselves.
type PooledEmbedder struct {
	inner Embedder
	slots chan struct{}

	warmOnce sync.Once
}

// NewPooledEmbedder wraps inner with a pool of the given slot count. A
// non-positive count falls back to DefaultPoolSlots.
func NewPooledEmbedder(inner Embedder, slots int) *PooledEmbedder {
	if slots <= 0 {
		slots = DefaultPoolSlots
	}
	return &PooledEmbedder{
		inner: inner,
		slots: make(chan struct{}, slots),
	}
}

// warmUp runs once per PooledEmbedder, embedding a small batch so the first
// real caller isn't the one paying for cold model load.
func (p *PooledEmbedder) warmUp(ctx context.Context) {
	p.warmOnce.Do(func() {
		if _, err := p.inner.EmbedBatch(ctx, warmupTexts); err != nil {
			slog.Warn("embedder_warmup_failed", slog.String("error", err.Error()))
		}
	})
}

// acquire blocks until a slot is free or ctx is done.
func (p *PooledEmbedder) acquire(ctx context.Context) error {
	select {
	case p.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PooledEmbedder) release() {
	<-p.slots
}

// Embed acquires a slot, warming up the pool first if this is the first call.
func (p *PooledEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	p.warmUp(ctx)
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()
	return p.inner.Embed(ctx, text)
}

// EmbedBatch acquires a slot, warming up the pool first if this is the
// first call. A batch still occupies exactly one slot: batching is the
// caller's own concurrency control, the pool only bounds concurrent calls.
func (p *PooledEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.warmUp(ctx)
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}
	defer p.release()
	return p.inner.EmbedBatch(ctx, texts)
}

// Dimensions passes through to the inner embedder.
func (p *PooledEmbedder) Dimensions() int { return p.inner.Dimensions() }

// ModelName passes through to the inner embedder.
func (p *PooledEmbedder) ModelName() string { return p.inner.ModelName() }

// Available passes through to the inner embedder.
func (p *PooledEmbedder) Available(ctx context.Context) bool { return p.inner.Available(ctx) }

// Close releases resources and closes the inner embedder.
func (p *PooledEmbedder) Close() error { return p.inner.Close() }

// SetBatchIndex passes through to the inner embedder for thermal timeout progression.
func (p *PooledEmbedder) SetBatchIndex(idx int) { p.inner.SetBatchIndex(idx) }

// SetFinalBatch passes through to the inner embedder for final batch timeout boost.
func (p *PooledEmbedder) SetFinalBatch(isFinal bool) { p.inner.SetFinalBatch(isFinal) }

// Inner returns the underlying embedder.
func (p *PooledEmbedder) Inner() Embedder { return p.inner }
