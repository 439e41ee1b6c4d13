package sqlite

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	gateway "github.com/eugener/radagast/internal"
)

// InsertUsage batch-inserts usage records. Records without an ID are
// assigned one.
func (s *Store) InsertUsage(ctx context.Context, records []gateway.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 10
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		id := r.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = time.Now().UTC()
		}
		args = append(args,
			id, r.KeyID, r.Model,
			r.PromptTokens, r.CompletionTokens,
			r.CacheStatus, r.Outcome, r.LatencyMs,
			r.RequestID, created.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO usage_records
		(id, key_id, model, prompt_tokens, completion_tokens,
		 cache_status, outcome, latency_ms, request_id, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// CountUsage returns the number of records for a key; an empty key counts
// everything.
func (s *Store) CountUsage(ctx context.Context, keyID string) (int, error) {
	query := `SELECT COUNT(*) FROM usage_records`
	var args []any
	if keyID != "" {
		query += ` WHERE key_id = ?`
		args = append(args, keyID)
	}
	var n int
	err := s.read.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// SumTokens returns the accumulated prompt and completion tokens for a key;
// an empty key sums everything.
func (s *Store) SumTokens(ctx context.Context, keyID string) (int64, int64, error) {
	query := `SELECT COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(completion_tokens), 0) FROM usage_records`
	var args []any
	if keyID != "" {
		query += ` WHERE key_id = ?`
		args = append(args, keyID)
	}
	var prompt, completion int64
	err := s.read.QueryRowContext(ctx, query, args...).Scan(&prompt, &completion)
	return prompt, completion, err
}
