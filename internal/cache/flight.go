package cache

import (
	"context"
	"sync"
)

// slot is a promise-like shared result for one fingerprint being computed.
// At most one slot exists per fingerprint per process.
type slot struct {
	done chan struct{}
	val  *Entry
	err  error

	mu      sync.Mutex
	waiters int
	cancel  context.CancelFunc
}

// flightGroup coalesces concurrent computations per fingerprint. The
// computation runs detached from any single caller's context: a cancelled
// caller leaves the slot, and only when the last waiter leaves is the
// computation itself cancelled. This is the leader-handoff rule -- a flapping
// client cannot abort work other callers still depend on.
type flightGroup struct {
	mu    sync.Mutex
	slots map[string]*slot
}

func newFlightGroup() *flightGroup {
	return &flightGroup{slots: make(map[string]*slot)}
}

// do returns the shared result for key, computing it if no slot exists.
// coalesced is true when the caller joined an existing slot.
func (g *flightGroup) do(ctx context.Context, key string, compute ComputeFunc) (val *Entry, coalesced bool, err error) {
	g.mu.Lock()
	s, found := g.slots[key]
	if !found {
		cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s = &slot{done: make(chan struct{}), waiters: 1, cancel: cancel}
		g.slots[key] = s
		g.mu.Unlock()

		go func() {
			s.val, s.err = compute(cctx)
			g.mu.Lock()
			delete(g.slots, key)
			g.mu.Unlock()
			cancel()
			close(s.done)
		}()
	} else {
		s.mu.Lock()
		s.waiters++
		s.mu.Unlock()
		g.mu.Unlock()
	}

	select {
	case <-s.done:
		return s.val, found, s.err
	case <-ctx.Done():
		s.leave()
		return nil, found, ctx.Err()
	}
}

// leave decrements the waiter count; the last waiter out cancels the compute.
func (s *slot) leave() {
	s.mu.Lock()
	s.waiters--
	last := s.waiters == 0
	s.mu.Unlock()
	if last {
		s.cancel()
	}
}
