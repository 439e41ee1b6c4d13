// Package server implements the HTTP transport layer for the Radagast gateway.
package server

import (
	"context"
	"time"

	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/pipeline"
	"github.com/eugener/radagast/internal/ratelimit"
	"github.com/eugener/radagast/internal/router"
	"github.com/eugener/radagast/internal/telemetry"
)

// Pipeline is the request orchestration surface the handlers drive.
type Pipeline interface {
	Generate(ctx context.Context, req *gateway.GenerationRequest) (*gateway.Completion, error)
	Chat(ctx context.Context, req *gateway.ChatRequest) (*gateway.Completion, error)
	Batch(ctx context.Context, reqs []*gateway.GenerationRequest, concurrency int, deadline time.Duration) []pipeline.Outcome
}

// ModelLister exposes the router's snapshot for /models and /ready.
type ModelLister interface {
	Models() []router.ModelRecord
	Ready() bool
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth             gateway.Authenticator
	Pipeline         Pipeline
	Models           ModelLister
	RateLimiter      *ratelimit.Registry // nil = no rate limiting
	Metrics          *telemetry.Metrics  // nil = no metrics
	MaxTokensCeiling int                 // 0 = default ceiling
	BatchConcurrency int                 // 0 = pipeline default
	BatchDeadline    time.Duration       // 0 = no whole-batch deadline
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)

	// System endpoints (no auth)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	// Client-facing API (auth required)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Post("/generate", s.handleGenerate)
		r.Post("/chat", s.handleChat)
		r.Post("/batch/generate", s.handleBatch)
		r.Get("/models", s.handleModels)
	})

	return r
}

type server struct {
	deps Deps
}
