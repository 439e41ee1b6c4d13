package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/ratelimit"
)

func request(key string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/generate", nil)
	if key != "" {
		r.Header.Set(Header, key)
	}
	return r
}

func TestAuthenticate_KnownKey(t *testing.T) {
	t.Parallel()
	a := New([]Key{{Key: "secret-1", Name: "sim-a"}})

	id, err := a.Authenticate(context.Background(), request("secret-1"))
	if err != nil {
		t.Fatal(err)
	}
	if id.Name != "sim-a" || id.KeyID == "" {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestAuthenticate_UnknownKey(t *testing.T) {
	t.Parallel()
	a := New([]Key{{Key: "secret-1"}})

	_, err := a.Authenticate(context.Background(), request("wrong"))
	var ge *gateway.Error
	if !errors.As(err, &ge) || ge.Kind != gateway.KindUnauthorized {
		t.Fatalf("got %v, want unauthorized", err)
	}
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	t.Parallel()
	a := New([]Key{{Key: "secret-1"}})

	_, err := a.Authenticate(context.Background(), request(""))
	if gateway.KindOf(err) != gateway.KindUnauthorized {
		t.Fatalf("got %v, want unauthorized", err)
	}
}

func TestDevKeyOnlyWhenUnconfigured(t *testing.T) {
	t.Parallel()
	empty := New(nil)
	if _, err := empty.Authenticate(context.Background(), request(DevKey)); err != nil {
		t.Error("dev key should be accepted when no keys are configured")
	}

	configured := New([]Key{{Key: "secret-1"}})
	if _, err := configured.Authenticate(context.Background(), request(DevKey)); err == nil {
		t.Error("dev key must be rejected once real keys exist")
	}
}

func TestQuotaIdentityStable(t *testing.T) {
	t.Parallel()
	a := New([]Key{{Key: "secret-1"}})

	id1, _ := a.Authenticate(context.Background(), request("secret-1"))
	id2, _ := a.Authenticate(context.Background(), request("secret-1"))
	if id1.KeyID != id2.KeyID {
		t.Error("quota identity must be stable across requests")
	}
}

func TestRatesTable(t *testing.T) {
	t.Parallel()
	keys := []Key{
		{Key: "vip", Rate: &ratelimit.Rate{Capacity: 100, RefillPerSec: 10}},
		{Key: "plain"},
		{Key: "broken", Rate: &ratelimit.Rate{}},
	}

	rates := Rates(keys)
	if len(rates) != 1 {
		t.Fatalf("got %d overrides, want 1", len(rates))
	}
	if r, ok := rates[keyID("vip")]; !ok || r.Capacity != 100 {
		t.Errorf("vip override missing or wrong: %+v", rates)
	}
}
