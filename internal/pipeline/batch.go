package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	gateway "github.com/eugener/radagast/internal"
)

// DefaultBatchConcurrency bounds in-flight pipelines per batch.
const DefaultBatchConcurrency = 10

// Outcome is one slot of a batch result. Exactly one of Completion and Err
// is set.
type Outcome struct {
	Completion *gateway.Completion
	Err        error
}

// Batch fans requests out through the pipeline under a shared concurrency
// cap and returns outcomes in input order. Partial failure is allowed; a
// failed slot never affects its siblings. A positive deadline bounds the
// whole batch; per-request deadlines take the minimum.
func (p *Pipeline) Batch(ctx context.Context, reqs []*gateway.GenerationRequest, concurrency int, deadline time.Duration) []Outcome {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	if deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}
	if p.metrics != nil {
		p.metrics.BatchSize.Observe(float64(len(reqs)))
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	outcomes := make([]Outcome, len(reqs))
	done := make(chan int, len(reqs))

	for i, req := range reqs {
		go func(i int, req *gateway.GenerationRequest) {
			defer func() { done <- i }()
			if err := sem.Acquire(ctx, 1); err != nil {
				outcomes[i] = Outcome{Err: gateway.Errorf(gateway.KindTimeout, "batch deadline exceeded before dispatch")}
				return
			}
			defer sem.Release(1)
			c, err := p.Generate(ctx, req)
			outcomes[i] = Outcome{Completion: c, Err: err}
		}(i, req)
	}
	for range reqs {
		<-done
	}
	return outcomes
}
