package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a structured failure. Kinds decide retryability, HTTP
// status mapping, and whether an outcome may be negative-cached.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindUnauthorized     Kind = "unauthorized"
	KindRateLimited      Kind = "rate_limited"
	KindModelUnavailable Kind = "model_unavailable"
	KindBackendTransient Kind = "backend_transient"
	KindBackendRejected  Kind = "backend_rejected"
	KindTimeout          Kind = "timeout"
	KindInternal         Kind = "internal"
)

// Error is the structured failure surfaced by the pipeline. The single-flight
// machinery propagates the same *Error value to all waiters.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // only set for rate_limited
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Errorf builds a structured error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the structured kind from err. Context expiry maps to
// timeout; anything else unclassified is an internal error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	return KindInternal
}

// Cacheable reports whether a failure of this kind may be negative-cached.
// Only deterministic backend rejections qualify; transient failures never do.
func (k Kind) Cacheable() bool { return k == KindBackendRejected }
