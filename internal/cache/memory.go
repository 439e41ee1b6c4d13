package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

// memEntry wraps a stored value with its expiration time.
type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is an in-memory W-TinyLFU store backed by otter. Intended for
// development and tests; production deployments use the Redis store so
// entries survive restarts and are shared across replicas.
type Memory struct {
	cache *otter.Cache[string, memEntry]
	nxMu  sync.Mutex // serializes SetNX check-then-set
}

// NewMemory creates an in-memory store with the given max entry count.
func NewMemory(maxSize int, defaultTTL time.Duration) (*Memory, error) {
	c, err := otter.New[string, memEntry](&otter.Options[string, memEntry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, memEntry](defaultTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c}, nil
}

// Get retrieves a value if present and not expired. Expired entries are
// lazily deleted.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		m.cache.Invalidate(key)
		return nil, false, nil
	}
	return e.data, true, nil
}

// Set stores a value with per-entry TTL.
func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.cache.Set(key, memEntry{data: val, expiresAt: time.Now().Add(ttl)})
	return nil
}

// SetNX stores val only when key is absent or expired.
func (m *Memory) SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	m.nxMu.Lock()
	defer m.nxMu.Unlock()
	if _, ok, _ := m.Get(ctx, key); ok {
		return false, nil
	}
	return true, m.Set(ctx, key, val, ttl)
}

// Delete removes a value.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

// Ping always succeeds for the in-process store.
func (m *Memory) Ping(_ context.Context) error { return nil }

// Purge removes all values. Test helper.
func (m *Memory) Purge() { m.cache.InvalidateAll() }
