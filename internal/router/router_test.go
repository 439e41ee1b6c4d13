package router

import (
	"context"
	"errors"
	"testing"

	gateway "github.com/eugener/radagast/internal"
)

type fakeLister struct {
	names []string
	err   error
}

func (f *fakeLister) Models(context.Context) ([]string, error) { return f.names, f.err }

func refreshed(t *testing.T, l *fakeLister, cfg Config) *Router {
	t.Helper()
	r := New(l, cfg, nil, nil)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestResolve_Exact(t *testing.T) {
	t.Parallel()
	r := refreshed(t, &fakeLister{names: []string{"mistral:7b", "llama3:8b"}}, Config{})

	name, err := r.Resolve("mistral:7b")
	if err != nil || name != "mistral:7b" {
		t.Errorf("got (%q, %v), want exact match", name, err)
	}
}

func TestResolve_SuffixStripped(t *testing.T) {
	t.Parallel()
	r := refreshed(t, &fakeLister{names: []string{"mistral:7b"}}, Config{})

	name, err := r.Resolve("mistral")
	if err != nil || name != "mistral:7b" {
		t.Errorf("got (%q, %v), want mistral:7b via base name", name, err)
	}

	// A tagged request for a model only served under a different tag still
	// lands on the served one.
	name, err = r.Resolve("mistral:latest")
	if err != nil || name != "mistral:7b" {
		t.Errorf("got (%q, %v), want mistral:7b via base name", name, err)
	}
}

func TestResolve_Alias(t *testing.T) {
	t.Parallel()
	r := refreshed(t, &fakeLister{names: []string{"mistral:7b"}},
		Config{Aliases: map[string]string{"default": "mistral"}})

	name, err := r.Resolve("default")
	if err != nil || name != "mistral:7b" {
		t.Errorf("got (%q, %v), want mistral:7b via alias", name, err)
	}
}

func TestResolve_Unknown(t *testing.T) {
	t.Parallel()
	r := refreshed(t, &fakeLister{names: []string{"mistral:7b"}}, Config{})

	_, err := r.Resolve("gpt-4")
	if gateway.KindOf(err) != gateway.KindModelUnavailable {
		t.Errorf("got %v, want model_unavailable", err)
	}
}

func TestMarkUnavailable_FailsFast(t *testing.T) {
	t.Parallel()
	r := refreshed(t, &fakeLister{names: []string{"mistral:7b"}}, Config{})

	r.MarkUnavailable("mistral:7b")
	if _, err := r.Resolve("mistral:7b"); gateway.KindOf(err) != gateway.KindModelUnavailable {
		t.Errorf("got %v, want model_unavailable after invalidation", err)
	}
	if r.Ready() {
		t.Error("no ready models left, Ready() must be false")
	}
}

func TestRefresh_WalksBackThroughWarming(t *testing.T) {
	t.Parallel()
	l := &fakeLister{names: []string{"mistral:7b"}}
	r := refreshed(t, l, Config{})
	r.MarkUnavailable("mistral:7b")

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := r.Models()[0].State; got != Warming {
		t.Fatalf("state after first refresh = %s, want warming", got)
	}
	// Warming models resolve; they just don't count toward readiness.
	if _, err := r.Resolve("mistral:7b"); err != nil {
		t.Errorf("warming model should resolve: %v", err)
	}
	if r.Ready() {
		t.Error("warming-only snapshot must not be ready")
	}

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := r.Models()[0].State; got != Ready {
		t.Errorf("state after second refresh = %s, want ready", got)
	}
	if !r.Ready() {
		t.Error("ready model present, Ready() must be true")
	}
}

func TestRefresh_BackendDownKeepsModelsUnready(t *testing.T) {
	t.Parallel()
	l := &fakeLister{names: []string{"mistral:7b"}}
	r := refreshed(t, l, Config{})
	if !r.Ready() {
		t.Fatal("precondition: router ready")
	}

	l.err = errors.New("connection refused")
	if err := r.Refresh(context.Background()); err == nil {
		t.Fatal("refresh should surface the backend error")
	}

	// Known models still resolve from the stale snapshot, but readiness drops.
	if _, err := r.Resolve("mistral:7b"); err != nil {
		t.Errorf("stale snapshot should keep resolving: %v", err)
	}
	if r.Ready() {
		t.Error("unreachable backend must report not ready")
	}
}

func TestNew_EmptyUntilRefreshed(t *testing.T) {
	t.Parallel()
	r := New(&fakeLister{names: []string{"mistral:7b"}}, Config{}, nil, nil)

	if _, err := r.Resolve("mistral:7b"); gateway.KindOf(err) != gateway.KindModelUnavailable {
		t.Errorf("got %v, want model_unavailable before first refresh", err)
	}
	if r.Ready() {
		t.Error("router must not be ready before first refresh")
	}
}
