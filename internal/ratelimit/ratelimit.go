// Package ratelimit implements per-key token buckets with lazy refill.
// Buckets refill continuously at a configured rate; no background goroutine
// touches them, so the critical section per request is O(1).
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Rate describes a bucket: burst capacity and sustained refill rate.
type Rate struct {
	Capacity     float64 `yaml:"capacity"`
	RefillPerSec float64 `yaml:"refill_per_second"`
}

// Valid reports whether the rate is usable.
func (r Rate) Valid() bool { return r.Capacity > 0 && r.RefillPerSec > 0 }

// fillPeriod is the time to refill the bucket from empty. Eviction idles are
// measured in multiples of it.
func (r Rate) fillPeriod() time.Duration {
	return time.Duration(r.Capacity / r.RefillPerSec * float64(time.Second))
}

// Result is the outcome of an admission check.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration // hint for rejected requests
}

// bucket is a token bucket with lazy refill.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	rate     Rate
	lastFill time.Time
	lastUsed time.Time
}

func newBucket(rate Rate, now time.Time) *bucket {
	return &bucket{tokens: rate.Capacity, rate: rate, lastFill: now, lastUsed: now}
}

// take refills proportionally to elapsed time, then tries to consume one token.
func (b *bucket) take(now time.Time) Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastUsed = now

	if elapsed := now.Sub(b.lastFill).Seconds(); elapsed > 0 {
		b.tokens = min(b.rate.Capacity, b.tokens+elapsed*b.rate.RefillPerSec)
		b.lastFill = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return Result{Allowed: true, Remaining: int64(b.tokens)}
	}

	deficit := 1 - b.tokens
	retry := time.Duration(math.Ceil(deficit/b.rate.RefillPerSec*1000)) * time.Millisecond
	return Result{Allowed: false, RetryAfter: retry}
}

// Registry manages per-key buckets. Keys not listed in the per-key table get
// the default rate. Idle buckets are evicted to bound memory.
type Registry struct {
	mu          sync.RWMutex
	buckets     map[string]*bucket
	defaultRate Rate
	perKey      map[string]Rate
}

// NewRegistry creates a Registry with the given default rate and optional
// per-key overrides.
func NewRegistry(defaultRate Rate, perKey map[string]Rate) *Registry {
	if !defaultRate.Valid() {
		defaultRate = Rate{Capacity: 60, RefillPerSec: 1}
	}
	return &Registry{
		buckets:     make(map[string]*bucket),
		defaultRate: defaultRate,
		perKey:      perKey,
	}
}

// rateFor returns the configured rate for a key.
func (r *Registry) rateFor(key string) Rate {
	if rate, ok := r.perKey[key]; ok && rate.Valid() {
		return rate
	}
	return r.defaultRate
}

// Allow admits or rejects one request for the key, creating the bucket on
// first use. The limiter never queues: a rejected caller gets a retry hint.
func (r *Registry) Allow(key string) Result {
	now := time.Now()

	r.mu.RLock()
	b, ok := r.buckets[key]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		// Double-check after acquiring write lock.
		if b, ok = r.buckets[key]; !ok {
			b = newBucket(r.rateFor(key), now)
			r.buckets[key] = b
		}
		r.mu.Unlock()
	}

	return b.take(now)
}

// idleFactor is how many fill periods a bucket may sit unused before eviction.
const idleFactor = 10

// EvictIdle removes buckets idle for more than idleFactor fill periods
// (at least a minute). Returns the number evicted.
func (r *Registry) EvictIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, b := range r.buckets {
		b.mu.Lock()
		idle := max(b.rate.fillPeriod()*idleFactor, time.Minute)
		stale := now.Sub(b.lastUsed) > idle
		b.mu.Unlock()
		if stale {
			delete(r.buckets, k)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of live buckets. Test helper.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.buckets)
}
