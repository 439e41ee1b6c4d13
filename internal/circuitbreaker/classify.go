package circuitbreaker

import (
	"errors"

	gateway "github.com/eugener/radagast/internal"
)

// Weight returns the error weight for breaker tracking, derived from the
// gateway error taxonomy.
//
// Weights:
//   - timeout -> 1.5 (slowest failure mode, weighted hardest)
//   - backend throttling (transient with a Retry-After hint) -> 0.5
//   - backend_transient (conn errors, 5xx) -> 1.0
//   - backend_rejected and everything client-side -> 0.0 (not a host fault)
//   - nil -> 0.0
func Weight(err error) float64 {
	if err == nil {
		return 0
	}
	switch gateway.KindOf(err) {
	case gateway.KindTimeout:
		return 1.5
	case gateway.KindBackendTransient:
		var ge *gateway.Error
		if errors.As(err, &ge) && ge.RetryAfter > 0 {
			return 0.5
		}
		return 1.0
	default:
		return 0
	}
}
