// Package pipeline orchestrates a single generation request: fingerprint,
// cache policy dispatch, single-flight, model resolution, prompt assembly,
// the backend call, and accounting.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/backend"
	"github.com/eugener/radagast/internal/cache"
	"github.com/eugener/radagast/internal/fingerprint"
	"github.com/eugener/radagast/internal/prompt"
	"github.com/eugener/radagast/internal/telemetry"
	"github.com/eugener/radagast/internal/tokencount"
)

// Generator is the slice of the backend client the pipeline calls.
type Generator interface {
	Generate(ctx context.Context, req *gateway.GenerationRequest, prompt string) (*backend.Result, error)
}

// Resolver maps logical model names and absorbs hard-failure feedback.
type Resolver interface {
	Resolve(logical string) (string, error)
	MarkUnavailable(name string)
}

// UsageSink receives one accounting record per pipeline invocation. Record
// must not block; the worker behind it buffers.
type UsageSink interface {
	Record(rec gateway.UsageRecord)
}

// Config holds pipeline settings.
type Config struct {
	SchemaVersion uint8 // fingerprint schema version; 0 means current
}

// Pipeline drives admitted requests through to a completion.
type Pipeline struct {
	cache     *cache.Cache
	backend   Generator
	router    Resolver
	assembler *prompt.Assembler
	metrics   *telemetry.Metrics
	usage     UsageSink
	log       *slog.Logger
	version   uint8
}

// New wires a Pipeline. Metrics and usage may be nil; log nil means the
// default logger.
func New(c *cache.Cache, gen Generator, res Resolver, asm *prompt.Assembler,
	metrics *telemetry.Metrics, usage UsageSink, log *slog.Logger, cfg Config) *Pipeline {
	if asm == nil {
		asm = &prompt.Assembler{}
	}
	if log == nil {
		log = slog.Default()
	}
	version := cfg.SchemaVersion
	if version == 0 {
		version = fingerprint.SchemaVersion
	}
	return &Pipeline{
		cache:     c,
		backend:   gen,
		router:    res,
		assembler: asm,
		metrics:   metrics,
		usage:     usage,
		log:       log,
		version:   version,
	}
}

// Generate runs one request through the pipeline. The request must already be
// validated; Generate works on a defaulted copy and never mutates req.
func (p *Pipeline) Generate(ctx context.Context, req *gateway.GenerationRequest) (*gateway.Completion, error) {
	start := time.Now()
	if p.metrics != nil {
		p.metrics.ActivePipelines.Inc()
		defer p.metrics.ActivePipelines.Dec()
	}

	ctx, span := telemetry.Tracer("pipeline").Start(ctx, "pipeline.generate",
		trace.WithAttributes(attribute.String("model", req.Model)))
	defer span.End()

	req = req.WithDefaults()
	key := fingerprint.New(req, p.version).Key(p.version)

	res, err := p.cache.GetOrCompute(ctx, key, req.CachePolicy, func(cctx context.Context) (*cache.Entry, error) {
		return p.compute(cctx, req, key)
	})

	latency := time.Since(start)
	if err != nil {
		span.RecordError(err)
		p.observe(req.Model, string(gateway.KindOf(err)), "", latency, nil)
		p.account(ctx, req, nil, string(gateway.KindOf(err)), "", latency)
		return nil, err
	}
	span.SetAttributes(attribute.String("cache_status", string(res.Status)))

	entry := res.Entry
	promptTokens, completionTokens := entry.PromptTokens, entry.CompletionTokens
	if tokencount.Fill(&promptTokens, &completionTokens, req.Prompt, entry.Response) {
		p.log.Debug("token counts estimated",
			slog.String("model", entry.Model),
			slog.String("fingerprint", key))
	}

	completion := &gateway.Completion{
		Response:         entry.Response,
		Model:            entry.Model,
		CacheStatus:      res.Status,
		LatencyMs:        latency.Milliseconds(),
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		RequestID:        req.RequestID,
	}

	p.observe(entry.Model, "ok", res.Status, latency, completion)
	if res.Coalesced && p.metrics != nil {
		p.metrics.FlightCoalesced.Inc()
	}
	p.account(ctx, req, completion, "ok", res.Status, latency)
	return completion, nil
}

// Chat flattens a chat transcript into a generation request and runs it
// through the same pipeline, so chat shares fingerprint and cache semantics.
func (p *Pipeline) Chat(ctx context.Context, req *gateway.ChatRequest) (*gateway.Completion, error) {
	flat := &gateway.GenerationRequest{
		Model:        req.Model,
		Prompt:       p.assembler.AssembleChat(req.Messages, nil),
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		AgentProfile: req.AgentProfile,
		CachePolicy:  req.CachePolicy,
		RequestID:    req.RequestID,
	}
	return p.Generate(ctx, flat)
}

// compute is the single-flight body: resolve, assemble, call the backend,
// and shape the cache entry. It runs at most once per fingerprint at a time.
func (p *Pipeline) compute(ctx context.Context, req *gateway.GenerationRequest, key string) (*cache.Entry, error) {
	model, err := p.router.Resolve(req.Model)
	if err != nil {
		return nil, err
	}

	assembled := p.assembler.Assemble(req.Prompt, req.AgentProfile)

	resolved := *req
	resolved.Model = model

	backendStart := time.Now()
	out, err := p.backend.Generate(ctx, &resolved, assembled)
	if p.metrics != nil {
		p.metrics.BackendDuration.WithLabelValues(model).Observe(time.Since(backendStart).Seconds())
	}
	if err != nil {
		if gateway.KindOf(err) == gateway.KindBackendTransient {
			p.router.MarkUnavailable(model)
		}
		return nil, err
	}

	usedModel := out.Model
	if usedModel == "" {
		usedModel = model
	}
	p.log.Debug("backend completion",
		slog.String("model", usedModel),
		slog.Duration("backend_duration", out.TotalDuration))

	return &cache.Entry{
		Fingerprint:      key,
		Response:         out.Response,
		Model:            usedModel,
		PromptTokens:     out.PromptTokens,
		CompletionTokens: out.CompletionTokens,
	}, nil
}

func (p *Pipeline) observe(model, outcome string, status gateway.CacheStatus, latency time.Duration, c *gateway.Completion) {
	if p.metrics == nil {
		return
	}
	p.metrics.RequestsTotal.WithLabelValues(model, outcome).Inc()
	p.metrics.RequestDuration.WithLabelValues(model).Observe(latency.Seconds())
	if status != "" {
		p.metrics.CacheEvents.WithLabelValues(string(status)).Inc()
	}
	if c != nil {
		if c.PromptTokens != nil {
			p.metrics.TokensProcessed.WithLabelValues(model, "prompt").Add(float64(*c.PromptTokens))
		}
		if c.CompletionTokens != nil {
			p.metrics.TokensProcessed.WithLabelValues(model, "completion").Add(float64(*c.CompletionTokens))
		}
	}
}

func (p *Pipeline) account(ctx context.Context, req *gateway.GenerationRequest, c *gateway.Completion,
	outcome string, status gateway.CacheStatus, latency time.Duration) {
	if p.usage == nil {
		return
	}
	rec := gateway.UsageRecord{
		KeyID:       identityKey(ctx),
		Model:       req.Model,
		CacheStatus: string(status),
		Outcome:     outcome,
		LatencyMs:   latency.Milliseconds(),
		RequestID:   req.RequestID,
		CreatedAt:   time.Now().UTC(),
	}
	if c != nil {
		if c.PromptTokens != nil {
			rec.PromptTokens = *c.PromptTokens
		}
		if c.CompletionTokens != nil {
			rec.CompletionTokens = *c.CompletionTokens
		}
		rec.Model = c.Model
	}
	p.usage.Record(rec)
}

func identityKey(ctx context.Context) string {
	if id := gateway.IdentityFromContext(ctx); id != nil {
		return id.KeyID
	}
	return ""
}
