package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/eugener/radagast/internal/ratelimit"
)

const evictEvery = time.Minute

// BucketEvictor periodically drops idle rate-limit buckets so the registry
// does not grow without bound across many short-lived API keys.
type BucketEvictor struct {
	registry *ratelimit.Registry
	every    time.Duration
}

// NewBucketEvictor sweeps the registry on the given interval; zero means
// once a minute.
func NewBucketEvictor(registry *ratelimit.Registry, every time.Duration) *BucketEvictor {
	if every <= 0 {
		every = evictEvery
	}
	return &BucketEvictor{registry: registry, every: every}
}

// Name returns the worker identifier.
func (e *BucketEvictor) Name() string { return "bucket_evictor" }

// Run sweeps until ctx is cancelled.
func (e *BucketEvictor) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := e.registry.EvictIdle(time.Now()); n > 0 {
				slog.Debug("idle rate-limit buckets evicted", slog.Int("count", n))
			}
		}
	}
}
