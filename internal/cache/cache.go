// Package cache provides completion caching with TTLs, single-flight gating,
// and negative caching, backed by a pluggable key-value store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// Store is the key-value backend contract. Implementations must treat an
// expired entry as a miss. SetNX is the set-if-absent primitive; backends
// without native support may emulate it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// SetNX stores val only if key is absent; reports whether the write happened.
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Entry is an immutable cached completion. Negative entries record a
// deterministic failure instead of a response.
type Entry struct {
	Fingerprint      string    `json:"fingerprint"`
	Response         string    `json:"response,omitempty"`
	Model            string    `json:"model,omitempty"`
	PromptTokens     *int      `json:"prompt_tokens,omitempty"`
	CompletionTokens *int      `json:"completion_tokens,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	TTLSeconds       int64     `json:"ttl_s"`

	Negative  bool   `json:"negative,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	ErrorMsg  string `json:"error_msg,omitempty"`
}

// Config holds cache behavior settings.
type Config struct {
	DefaultTTL  time.Duration // TTL for successful completions
	NegativeTTL time.Duration // short TTL for deterministic failures
}

// Cache combines the external store with the per-process single-flight
// registry. Single-flight is a local optimization only: across replicas two
// computations may race, which is accepted because writes are idempotent per
// fingerprint.
type Cache struct {
	store  Store
	flight *flightGroup
	cfg    Config
}

// New creates a Cache over the given store.
func New(store Store, cfg Config) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = 30 * time.Second
	}
	return &Cache{store: store, flight: newFlightGroup(), cfg: cfg}
}

// Ping verifies connectivity to the backing store.
func (c *Cache) Ping(ctx context.Context) error { return c.store.Ping(ctx) }

// Result is the outcome of GetOrCompute.
type Result struct {
	Entry     *Entry
	Status    gateway.CacheStatus
	Coalesced bool // served by another caller's in-flight computation
}

// ComputeFunc produces a fresh entry on a cache miss. It runs at most once
// per fingerprint per process at a time.
type ComputeFunc func(ctx context.Context) (*Entry, error)

// Get looks up a fingerprint, honoring TTL. Store errors degrade to a miss:
// the backend is the source of truth and an unreachable cache must not fail
// requests.
func (c *Cache) Get(ctx context.Context, key string) (*Entry, bool) {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("cache get failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		slog.Warn("cache entry corrupt, dropping", "key", key, "error", err)
		_ = c.store.Delete(ctx, key)
		return nil, false
	}
	return &e, true
}

// Invalidate removes an entry. Eventual consistency is tolerated.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// GetOrCompute is the canonical entry point implementing the policy matrix:
//
//	use:     return a valid hit; otherwise compute under single-flight and
//	         write with SetNX (an existing entry wins over a racing write).
//	refresh: ignore hits; compute under single-flight and overwrite.
//	bypass:  call compute directly; no reads, no writes, no single-flight.
//
// A negative hit replays the recorded failure without touching the backend.
// Deterministic failures from compute are negative-cached with a short TTL;
// transient failures and timeouts are never cached.
func (c *Cache) GetOrCompute(ctx context.Context, key string, policy gateway.CachePolicy, compute ComputeFunc) (*Result, error) {
	if policy == gateway.CacheBypass {
		e, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return &Result{Entry: e, Status: gateway.StatusBypass}, nil
	}

	if policy != gateway.CacheRefresh {
		if e, ok := c.Get(ctx, key); ok {
			if e.Negative {
				return nil, gateway.Errorf(gateway.Kind(e.ErrorKind), "%s", e.ErrorMsg)
			}
			return &Result{Entry: e, Status: gateway.StatusHit}, nil
		}
	}

	e, coalesced, err := c.flight.do(ctx, key, func(fctx context.Context) (*Entry, error) {
		e, err := compute(fctx)
		if err != nil {
			c.maybeCacheFailure(key, err)
			return nil, err
		}
		c.write(key, e, policy)
		return e, nil
	})
	if err != nil {
		return nil, err
	}

	status := gateway.StatusMiss
	if policy == gateway.CacheRefresh {
		status = gateway.StatusRefresh
	}
	return &Result{Entry: e, Status: status, Coalesced: coalesced}, nil
}

// write commits a successful entry. Refresh overwrites; use yields to any
// entry that appeared since the miss (newer write wins only under refresh).
func (c *Cache) write(key string, e *Entry, policy gateway.CachePolicy) {
	ttl := c.cfg.DefaultTTL
	if e.TTLSeconds > 0 {
		ttl = time.Duration(e.TTLSeconds) * time.Second
	} else {
		e.TTLSeconds = int64(ttl / time.Second)
	}
	e.CreatedAt = time.Now().UTC()

	raw, err := json.Marshal(e)
	if err != nil {
		slog.Error("cache entry marshal failed", "key", key, "error", err)
		return
	}

	// Detached context: a cancelled caller must not lose a committed result
	// for future requests.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if policy == gateway.CacheRefresh {
		err = c.store.Set(ctx, key, raw, ttl)
	} else {
		_, err = c.store.SetNX(ctx, key, raw, ttl)
	}
	if err != nil {
		slog.Warn("cache write failed", "key", key, "error", err)
	}
}

// maybeCacheFailure negative-caches deterministic failures to break
// hot-failure loops. SetNX keeps racing replicas from extending the window.
func (c *Cache) maybeCacheFailure(key string, err error) {
	kind := gateway.KindOf(err)
	if !kind.Cacheable() {
		return
	}
	e := Entry{
		Fingerprint: key,
		Negative:    true,
		ErrorKind:   string(kind),
		ErrorMsg:    errMessage(err),
		CreatedAt:   time.Now().UTC(),
		TTLSeconds:  int64(c.cfg.NegativeTTL / time.Second),
	}
	raw, merr := json.Marshal(&e)
	if merr != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, werr := c.store.SetNX(ctx, key, raw, c.cfg.NegativeTTL); werr != nil {
		slog.Warn("negative cache write failed", "key", key, "error", werr)
	}
}

func errMessage(err error) string {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		return ge.Message
	}
	return err.Error()
}
