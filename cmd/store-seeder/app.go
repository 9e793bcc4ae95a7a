package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JasonWangA/bk-ci/internal/api"
	"github.com/JasonWangA/bk-ci/internal/clients"
	"github.com/JasonWangA/bk-ci/internal/config"
	"github.com/JasonWangA/bk-ci/internal/lock"
	"github.com/JasonWangA/bk-ci/internal/orchestrator"
	"github.com/JasonWangA/bk-ci/internal/store"
	"github.com/JasonWangA/bk-ci/internal/telemetry"
)

// AppContext holds all constructed application dependencies shared across
// subcommands. It is built once in PersistentPreRunE and referenced by
// server.go and bootstrap.go.
type AppContext struct {
	cfg          *config.Config
	otelProvider *telemetry.Provider
	orchestrator *orchestrator.Orchestrator
	router       *api.Router

	closers []func()
}

// buildAppContext constructs all application dependencies from cfg:
//  1. Initialises the OTEL provider (best-effort, non-fatal)
//  2. Creates one circuit breaker per client
//  3. Creates the lock store, existence guard, platform and event clients
//  4. Creates the orchestrator
//  5. Creates the HTTP router
func buildAppContext(cfg *config.Config) (*AppContext, error) {
	app := &AppContext{cfg: cfg}
	bc := cfg.Bootstrap

	// An empty endpoint disables telemetry, which keeps the periodic reader
	// quiet when no collector runs locally.
	if cfg.Telemetry.OTLPEndpoint == "" {
		slog.Info("OTEL telemetry disabled (no endpoint configured)")
	} else {
		tp, err := telemetry.InitProvider(
			context.Background(),
			cfg.Telemetry.OTLPEndpoint,
			cfg.Telemetry.ServiceName,
			cfg.Telemetry.OTLPInsecure,
		)
		if err != nil {
			slog.Warn("OTEL provider init failed, telemetry disabled", "err", err)
		} else {
			app.otelProvider = tp
			// Keep stdout and add the OTEL log pipeline.
			slog.SetDefault(slog.New(telemetry.NewTeeHandler(
				slog.Default().Handler(),
				tp.LogHandler,
			)))
		}
	}

	// One circuit breaker per client so each dependency trips independently.
	pg := clients.NewPostgresClient(bc.Postgres, clients.NewCircuitBreaker("postgres"))
	projects := clients.NewProjectClient(bc.Project, clients.NewCircuitBreaker("project"))
	images := clients.NewImageClient(bc.Store, clients.NewCircuitBreaker("store"))
	app.closers = append(app.closers, pg.Close)

	probers := map[string]orchestrator.Prober{
		"postgres": pg,
		"project":  projects,
		"store":    images,
	}

	var lockStore lock.Store
	switch bc.Lock.Backend {
	case config.LockBackendRedis:
		redis := clients.NewRedisClient(bc.Redis, clients.NewCircuitBreaker("redis"))
		app.closers = append(app.closers, func() { _ = redis.Close() })
		probers["redis"] = redis
		lockStore = redis
	case config.LockBackendMemory:
		slog.Warn("in-memory lock backend only excludes bootstraps within this process")
		lockStore = lock.NewMemoryStore()
	default:
		return nil, fmt.Errorf("unknown lock backend %q", bc.Lock.Backend)
	}

	deps := orchestrator.Deps{
		Locker:    lock.New(lockStore),
		Projects:  projects,
		Images:    images,
		Guard:     pg,
		LockKey:   bc.Lock.Key,
		LockLease: bc.Lock.Lease,
	}

	if bc.NATS.URL != "" {
		events := clients.NewNATSClient(bc.NATS, clients.NewCircuitBreaker("nats"))
		provCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := events.ProvisionStream(provCtx); err != nil {
			// PublishEvent retries provisioning on first use.
			slog.Warn("provisioning bootstrap event stream failed", "stream", bc.NATS.Stream, "err", err)
		}
		cancel()
		deps.Events = events
		probers["nats"] = events
	} else {
		slog.Info("bootstrap event publishing disabled (no NATS url configured)")
	}

	sample := store.DemoSample(bc.Sample.ProjectCode, bc.Sample.UserID, bc.Sample.ImageCode)
	app.orchestrator = orchestrator.New(deps, sample, probers)
	app.router = api.NewRouter(app.orchestrator, cfg.Telemetry.ServiceName, bc.Timeout)

	return app, nil
}

// Close releases client connections and flushes telemetry.
func (a *AppContext) Close() {
	for _, c := range a.closers {
		c()
	}
	if a.otelProvider != nil {
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.otelProvider.Shutdown(shutCtx); err != nil {
			slog.Warn("OTEL shutdown error", "err", err)
		}
	}
}
