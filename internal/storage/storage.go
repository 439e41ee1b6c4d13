// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"

	gateway "github.com/eugener/radagast/internal"
)

// UsageStore persists per-request usage accounting records.
type UsageStore interface {
	InsertUsage(ctx context.Context, records []gateway.UsageRecord) error
	CountUsage(ctx context.Context, keyID string) (int, error)
	SumTokens(ctx context.Context, keyID string) (prompt, completion int64, err error)
}

// Store is the full persistence surface plus lifecycle.
type Store interface {
	UsageStore
	Ping(ctx context.Context) error
	Close() error
}
