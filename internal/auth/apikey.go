// Package auth implements admission for the Radagast gateway: API keys from
// the X-API-Key header are validated against the configured set and tagged
// with the quota identity the rate limiter buckets on.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/ratelimit"
)

// Header carries the API key.
const Header = "X-API-Key"

// DevKey is accepted only when no keys are configured. Deployments must
// replace it.
const DevKey = "default-key-change-in-production"

// Key is one accepted API key with an optional per-key rate override.
type Key struct {
	Key  string          `yaml:"key"`
	Name string          `yaml:"name"`
	Rate *ratelimit.Rate `yaml:"rate"`
}

// APIKeyAuth validates keys by SHA-256 lookup, so raw keys are never held in
// the comparison path and lookups stay constant-time per key length.
type APIKeyAuth struct {
	byHash map[string]*gateway.Identity
}

// New builds an APIKeyAuth from the configured keys. With an empty set the
// development key is enrolled and a warning logged.
func New(keys []Key) *APIKeyAuth {
	a := &APIKeyAuth{byHash: make(map[string]*gateway.Identity, len(keys))}
	for _, k := range keys {
		if k.Key == "" {
			continue
		}
		name := k.Name
		if name == "" {
			name = keyID(k.Key)
		}
		a.byHash[hashKey(k.Key)] = &gateway.Identity{KeyID: keyID(k.Key), Name: name}
	}
	if len(a.byHash) == 0 {
		slog.Warn("no api keys configured, accepting the development key")
		a.byHash[hashKey(DevKey)] = &gateway.Identity{KeyID: keyID(DevKey), Name: "development"}
	}
	return a
}

// Rates returns the per-key rate override table keyed by quota identity,
// for wiring into the rate limiter registry.
func Rates(keys []Key) map[string]ratelimit.Rate {
	out := make(map[string]ratelimit.Rate)
	for _, k := range keys {
		if k.Key != "" && k.Rate != nil && k.Rate.Valid() {
			out[keyID(k.Key)] = *k.Rate
		}
	}
	return out
}

// Authenticate validates the X-API-Key header and returns the caller identity.
func (a *APIKeyAuth) Authenticate(_ context.Context, r *http.Request) (*gateway.Identity, error) {
	raw := r.Header.Get(Header)
	if raw == "" {
		return nil, gateway.Errorf(gateway.KindUnauthorized, "missing %s header", Header)
	}
	id, ok := a.byHash[hashKey(raw)]
	if !ok {
		return nil, gateway.Errorf(gateway.KindUnauthorized, "unknown api key")
	}
	return id, nil
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// keyID is the quota identity: a short hash prefix, stable per key but safe
// to log and label metrics with.
func keyID(raw string) string {
	return hashKey(raw)[:12]
}
