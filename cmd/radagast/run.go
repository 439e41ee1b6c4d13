package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	"github.com/eugener/radagast/internal/auth"
	"github.com/eugener/radagast/internal/backend"
	"github.com/eugener/radagast/internal/cache"
	"github.com/eugener/radagast/internal/config"
	"github.com/eugener/radagast/internal/pipeline"
	"github.com/eugener/radagast/internal/ratelimit"
	"github.com/eugener/radagast/internal/router"
	"github.com/eugener/radagast/internal/server"
	"github.com/eugener/radagast/internal/storage/sqlite"
	"github.com/eugener/radagast/internal/telemetry"
	"github.com/eugener/radagast/internal/worker"
)

const dnsRefreshEvery = 5 * time.Minute

func run(configPath string) int {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfig
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid config: %v\n", err)
		return exitConfig
	}

	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("starting radagast", "version", version, "addr", cfg.Server.BindAddress)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics registry; the scrape endpoint is bound later only when enabled.
	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg)

	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			slog.Error("tracing setup failed", "error", err)
			return exitConfig
		}
		defer shutdown(context.Background()) //nolint:errcheck
	}

	// Cache store.
	var store cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		r, err := cache.NewRedis(cache.RedisConfig{
			Addr:      cfg.Cache.Redis.Addr,
			Password:  cfg.Cache.Redis.Password,
			DB:        cfg.Cache.Redis.DB,
			Namespace: cfg.Cache.Redis.Namespace,
		})
		if err != nil {
			slog.Error("redis cache init failed", "error", err)
			return exitCache
		}
		defer r.Close()
		store = r
	default:
		m, err := cache.NewMemory(cfg.Cache.MaxSize, time.Duration(cfg.Cache.DefaultTTLs)*time.Second)
		if err != nil {
			slog.Error("memory cache init failed", "error", err)
			return exitCache
		}
		store = m
	}
	if err := pingStore(ctx, store); err != nil {
		if cfg.Cache.Strict {
			slog.Error("cache unreachable", "error", err)
			return exitCache
		}
		slog.Warn("cache unreachable, continuing degraded", "error", err)
	}
	responseCache := cache.New(store, cache.Config{
		DefaultTTL:  time.Duration(cfg.Cache.DefaultTTLs) * time.Second,
		NegativeTTL: time.Duration(cfg.Cache.NegativeTTLs) * time.Second,
	})

	// Backend client with a shared DNS cache for the generation host.
	resolver := &dnscache.Resolver{}
	client := backend.New(backend.Config{
		BaseURL:       cfg.Backend.URL,
		Timeout:       time.Duration(cfg.Backend.TimeoutS) * time.Second,
		MaxRetries:    cfg.Backend.MaxRetries,
		TotalDeadline: time.Duration(cfg.Backend.TotalDeadlineS) * time.Second,
	}, resolver, metrics)

	// Router: the initial refresh doubles as the startup backend probe.
	rt := router.New(client, router.Config{
		Aliases:         cfg.Models.Aliases,
		RefreshInterval: time.Duration(cfg.Models.RefreshIntervalS) * time.Second,
	}, metrics, slog.Default())
	if err := rt.Refresh(ctx); err != nil {
		if cfg.Backend.Strict {
			slog.Error("backend unreachable", "url", cfg.Backend.URL, "error", err)
			return exitBackend
		}
		slog.Warn("initial model refresh failed, starting unready", "error", err)
	}

	workers := []worker.Worker{
		worker.NewFunc("model_refresh", rt.Run),
		worker.NewFunc("dns_refresh", func(ctx context.Context) error {
			ticker := time.NewTicker(dnsRefreshEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					resolver.Refresh(true)
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}),
	}

	// Usage accounting is optional; an empty DSN disables it.
	var usage pipeline.UsageSink
	if cfg.Database.DSN != "" {
		db, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			slog.Error("usage store init failed", "dsn", cfg.Database.DSN, "error", err)
			return exitCache
		}
		defer db.Close()
		rec := worker.NewUsageRecorder(db, metrics)
		usage = rec
		workers = append(workers, rec)
	}

	limiter := ratelimit.NewRegistry(cfg.Rate.Default, auth.Rates(cfg.APIKeys))
	workers = append(workers, worker.NewBucketEvictor(limiter, 0))

	pipe := pipeline.New(responseCache, client, rt, nil, metrics, usage, slog.Default(),
		pipeline.Config{SchemaVersion: uint8(cfg.Cache.SchemaVersion)})

	handler := server.New(server.Deps{
		Auth:             auth.New(cfg.APIKeys),
		Pipeline:         pipe,
		Models:           rt,
		RateLimiter:      limiter,
		Metrics:          metrics,
		MaxTokensCeiling: cfg.Models.MaxTokensCeiling,
		BatchConcurrency: cfg.Batch.MaxConcurrency,
		BatchDeadline:    time.Duration(cfg.Batch.DeadlineS) * time.Second,
	})

	srv := &http.Server{
		Addr:         cfg.Server.BindAddress,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var metricsSrv *http.Server
	if cfg.Telemetry.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		metricsSrv = &http.Server{Addr: cfg.Server.MetricsBindAddress, Handler: mux}
	}

	// Workers run on their own context so they keep draining (usage records,
	// in particular) while the HTTP server shuts down.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	errCh := make(chan error, 3)
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := worker.NewRunner(workers...).Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	if metricsSrv != nil {
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	slog.Info("radagast ready", "addr", cfg.Server.BindAddress, "cache", cfg.Cache.Backend, "backend", cfg.Backend.URL)

	code := exitOK
	select {
	case <-ctx.Done():
		slog.Info("shutting down on signal")
		code = exitInterrupt
	case err := <-errCh:
		slog.Error("component failed", "error", err)
		code = exitFailure
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}

	cancelWorkers()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		slog.Warn("workers did not stop before the shutdown deadline")
	}

	slog.Info("radagast stopped")
	return code
}

func pingStore(ctx context.Context, store cache.Store) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return store.Ping(pingCtx)
}
