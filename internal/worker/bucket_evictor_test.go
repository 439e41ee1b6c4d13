package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eugener/radagast/internal/ratelimit"
)

func TestBucketEvictor_SweepsAndStops(t *testing.T) {
	t.Parallel()
	reg := ratelimit.NewRegistry(ratelimit.Rate{Capacity: 5, RefillPerSec: 1}, nil)
	reg.Allow("k")

	ev := NewBucketEvictor(reg, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ev.Run(ctx) }()

	// Let a few sweeps happen; a fresh bucket must survive them.
	time.Sleep(50 * time.Millisecond)
	if reg.Len() != 1 {
		t.Errorf("fresh bucket evicted, registry len = %d", reg.Len())
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("evictor did not stop after cancel")
	}
}

func TestBucketEvictor_Name(t *testing.T) {
	t.Parallel()
	if got := NewBucketEvictor(nil, 0).Name(); got != "bucket_evictor" {
		t.Errorf("name = %q", got)
	}
}
