// Package router maps logical model names to the identifiers the backend
// actually serves, and health-gates requests against a periodically
// refreshed snapshot of available models.
package router

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/telemetry"
)

// Health is the availability state of one backend model.
type Health string

const (
	Ready       Health = "ready"
	Warming     Health = "warming"
	Unavailable Health = "unavailable"
)

// ModelRecord is the router's view of one backend model.
type ModelRecord struct {
	Name      string    `json:"name"`
	State     Health    `json:"state"`
	LastCheck time.Time `json:"last_check"`
}

// Lister is the slice of the backend client the router needs.
type Lister interface {
	Models(ctx context.Context) ([]string, error)
}

// Config holds router settings.
type Config struct {
	Aliases         map[string]string // logical name -> backend name
	RefreshInterval time.Duration     // default 30s
}

const defaultRefreshInterval = 30 * time.Second

// snapshot is an immutable view of backend models. Readers load it through
// an atomic pointer; refresh and invalidation install replacements.
type snapshot struct {
	models  map[string]ModelRecord
	byBase  map[string]string // name before the ":" tag -> full name
	healthy bool              // last refresh reached the backend
}

// Router resolves logical model names against the current snapshot.
type Router struct {
	lister  Lister
	cfg     Config
	metrics *telemetry.Metrics
	log     *slog.Logger

	mu   sync.Mutex // serializes snapshot replacement
	snap atomic.Pointer[snapshot]
}

// New builds a Router. The snapshot starts empty and unhealthy; call Refresh
// (or start Run) before serving traffic. Metrics may be nil.
func New(lister Lister, cfg Config, metrics *telemetry.Metrics, log *slog.Logger) *Router {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaultRefreshInterval
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Router{lister: lister, cfg: cfg, metrics: metrics, log: log}
	r.snap.Store(&snapshot{models: map[string]ModelRecord{}, byBase: map[string]string{}})
	return r
}

// Refresh pulls the model list from the backend and installs a new snapshot.
// Models that were marked unavailable and are listed again come back through
// the warming state for one refresh cycle before turning ready.
func (r *Router) Refresh(ctx context.Context) error {
	names, err := r.lister.Models(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.snap.Load()

	if err != nil {
		// Keep the previous model set but mark the backend unhealthy.
		next := &snapshot{models: prev.models, byBase: prev.byBase, healthy: false}
		r.snap.Store(next)
		r.gauge(next)
		return err
	}

	now := time.Now()
	next := &snapshot{
		models:  make(map[string]ModelRecord, len(names)),
		byBase:  make(map[string]string, len(names)),
		healthy: true,
	}
	sort.Strings(names)
	for _, name := range names {
		state := Ready
		if old, ok := prev.models[name]; ok {
			switch old.State {
			case Unavailable:
				state = Warming
			case Warming:
				state = Ready
			}
		}
		next.models[name] = ModelRecord{Name: name, State: state, LastCheck: now}
		if base, _, ok := strings.Cut(name, ":"); ok {
			if _, taken := next.byBase[base]; !taken {
				next.byBase[base] = name
			}
		}
	}
	r.snap.Store(next)
	r.gauge(next)
	return nil
}

// Resolve maps a logical model name to the backend identifier. Rules in
// order: exact match, base-name match with the ":tag" suffix stripped, then
// the configured alias map (whose target is resolved the same way). Models
// marked unavailable fail fast with model_unavailable.
func (r *Router) Resolve(logical string) (string, error) {
	snap := r.snap.Load()
	if name, ok := snap.lookup(logical); ok {
		return r.gate(snap, name)
	}
	if target, ok := r.cfg.Aliases[logical]; ok {
		if name, ok := snap.lookup(target); ok {
			return r.gate(snap, name)
		}
	}
	return "", gateway.Errorf(gateway.KindModelUnavailable, "model %q not available", logical)
}

func (s *snapshot) lookup(name string) (string, bool) {
	if _, ok := s.models[name]; ok {
		return name, true
	}
	base, _, _ := strings.Cut(name, ":")
	if full, ok := s.byBase[base]; ok {
		return full, true
	}
	return "", false
}

func (r *Router) gate(snap *snapshot, name string) (string, error) {
	if snap.models[name].State == Unavailable {
		return "", gateway.Errorf(gateway.KindModelUnavailable, "model %q is unavailable", name)
	}
	return name, nil
}

// MarkUnavailable flips a backend model to unavailable after a hard failure.
// The next successful Refresh walks it back through warming.
func (r *Router) MarkUnavailable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.snap.Load()
	rec, ok := prev.models[name]
	if !ok || rec.State == Unavailable {
		return
	}

	next := &snapshot{
		models:  make(map[string]ModelRecord, len(prev.models)),
		byBase:  prev.byBase,
		healthy: prev.healthy,
	}
	for k, v := range prev.models {
		next.models[k] = v
	}
	rec.State = Unavailable
	rec.LastCheck = time.Now()
	next.models[name] = rec
	r.snap.Store(next)
	r.gauge(next)
	r.log.Warn("model marked unavailable", slog.String("model", name))
}

// Ready reports whether the backend answered the last refresh and at least
// one model is in the ready state.
func (r *Router) Ready() bool {
	snap := r.snap.Load()
	if !snap.healthy {
		return false
	}
	for _, rec := range snap.models {
		if rec.State == Ready {
			return true
		}
	}
	return false
}

// Models returns the current snapshot sorted by name, for the /models handler.
func (r *Router) Models() []ModelRecord {
	snap := r.snap.Load()
	out := make([]ModelRecord, 0, len(snap.models))
	for _, rec := range snap.models {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Run refreshes the snapshot on the configured interval until ctx is done.
// It satisfies the worker runner's Worker shape.
func (r *Router) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil && ctx.Err() == nil {
				r.log.Warn("model refresh failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Router) gauge(snap *snapshot) {
	if r.metrics == nil {
		return
	}
	ready := 0
	for _, rec := range snap.models {
		if rec.State == Ready {
			ready++
		}
	}
	r.metrics.ModelsReady.Set(float64(ready))
}
