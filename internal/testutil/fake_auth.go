// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"net/http"

	gateway "github.com/eugener/radagast/internal"
)

// FakeAuth always authenticates successfully.
type FakeAuth struct{}

// Authenticate returns a fixed test identity.
func (FakeAuth) Authenticate(_ context.Context, _ *http.Request) (*gateway.Identity, error) {
	return &gateway.Identity{KeyID: "test-key-id", Name: "test"}, nil
}

// RejectAuth always rejects authentication.
type RejectAuth struct{}

// Authenticate always returns an unauthorized error.
func (RejectAuth) Authenticate(context.Context, *http.Request) (*gateway.Identity, error) {
	return nil, gateway.Errorf(gateway.KindUnauthorized, "unknown api key")
}
