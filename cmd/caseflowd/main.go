// Package main is the entry point for the caseflow workflow engine daemon.
// It wires all dependencies together and starts the ops HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/resolvehq/caseflow/internal/config"
	"github.com/resolvehq/caseflow/internal/definition"
	"github.com/resolvehq/caseflow/internal/dispatch"
	"github.com/resolvehq/caseflow/internal/engine"
	"github.com/resolvehq/caseflow/internal/observability"
	"github.com/resolvehq/caseflow/internal/script"
	"github.com/resolvehq/caseflow/internal/store"
	"github.com/resolvehq/caseflow/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "caseflowd", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load definitions, validate, build registry.
	loader := definition.NewLoader()
	defs, err := loader.LoadAll(cfg.Definitions.Directories)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}

	validator := definition.NewValidator()
	verrs := validator.Validate(defs)
	if len(verrs) > 0 {
		for _, ve := range verrs {
			logger.Error("definition validation error", zap.String("error", ve.Error()))
		}
		logger.Error("definition validation failed", zap.Int("errors", len(verrs)))
		return 1
	}

	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(len(defs)))

	// Step 5: Initialize the instance store.
	instStore, storeCloser, err := buildInstanceStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("instance store initialization failed", zap.Error(err))
		return 1
	}

	// Step 6: Initialize the dispatch dedup store (optional).
	dedupStore, dedupCloser, err := buildDedupStore(ctx, cfg.Dedup, logger)
	if err != nil {
		logger.Error("dedup store initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Build the resolver and register configured predicates.
	resolver := engine.NewResolver(engine.NewEvaluator(logger))
	if len(cfg.Predicates) > 0 {
		provider := script.NewProvider(logger)
		if err := provider.Register(resolver.Evaluator(), cfg.Predicates); err != nil {
			logger.Error("predicate compilation failed", zap.Error(err))
			return 1
		}
		logger.Info("custom predicates registered", zap.Strings("names", provider.Names()))
	}

	// Step 8: Build the action dispatcher.
	execs := dispatch.NewLogExecutors(logger).All()
	dispatcher := dispatch.NewDispatcher(
		execs,
		dedupStore,
		cfg.Dedup.DefaultTTL,
		cfg.Engine.DispatchQueueSize,
		logger,
		metrics,
	)

	// Step 9: Build the engine.
	eng := engine.NewEngine(registry, instStore, resolver, dispatcher, logger, metrics)

	// Step 10: Build the ops HTTP router.
	readinessChecks := observability.ReadinessChecks{
		DefinitionsLoaded: func() bool { return registry.Len() > 0 },
	}
	if hc, ok := instStore.(observability.HealthChecker); ok {
		readinessChecks.InstanceStore = hc
	}
	if hc, ok := dedupStore.(observability.HealthChecker); ok {
		readinessChecks.DedupStore = hc
	}

	router := chi.NewRouter()
	router.Get("/healthz", observability.HandleHealth())
	router.Get("/readyz", observability.HandleReady(readinessChecks))
	if cfg.Observability.Metrics.Enabled {
		router.Handle(cfg.Observability.Metrics.Path, observability.Handler())
	}

	handler := metrics.MetricsMiddleware(observability.TracingMiddleware(router))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 11: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	dispatcher.Run(bgCtx)
	go runSLAPoller(bgCtx, eng, instStore, cfg.Engine, logger, metrics)

	if cfg.Definitions.HotReload {
		go runDefinitionReloader(bgCtx, loader, validator, registry, cfg.Definitions, logger, metrics)
	}

	// Step 12: Start the HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", len(defs)),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("dedup_driver", cfg.Dedup.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop background tasks, then drain the dispatch queue.
	bgCancel()
	dispatcher.Close()

	// Close stores.
	if dedupCloser != nil {
		dedupCloser()
	}
	if storeCloser != nil {
		storeCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildInstanceStore creates the configured instance store. The returned
// closer may be nil.
func buildInstanceStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.InstanceStore, func(), error) {
	switch cfg.Driver {
	case "memory":
		return store.NewMemoryInstanceStore(), nil, nil

	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("store driver postgres requires %s", cfg.DSNEnv)
		}
		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		logger.Info("postgres instance store connected")
		return store.NewPgInstanceStore(pool), pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// buildDedupStore creates the configured dispatch dedup store. Driver
// "none" disables deduplication entirely; the returned store and closer
// may be nil.
func buildDedupStore(ctx context.Context, cfg config.DedupConfig, logger *zap.Logger) (dispatch.DedupStore, func(), error) {
	switch cfg.Driver {
	case "none":
		return nil, nil, nil

	case "memory":
		return dispatch.NewMemoryDedupStore(), nil, nil

	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("dedup driver redis requires %s", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("redis dedup store connected", zap.Int("db", cfg.DB))
		return dispatch.NewRedisDedupStore(client), func() { client.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown dedup driver %q", cfg.Driver)
	}
}

// runSLAPoller periodically sweeps active instances and flags those whose
// current stage has blown its time budget. The sweep only observes and
// records; escalation stays a workflow decision.
func runSLAPoller(
	ctx context.Context,
	eng *engine.Engine,
	instStore store.InstanceStore,
	cfg config.EngineConfig,
	logger *zap.Logger,
	metrics *observability.Metrics,
) {
	ticker := time.NewTicker(cfg.SLAPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			sweepOverdue(ctx, eng, instStore, cfg.SLAPollBatchSize, logger, metrics)
			metrics.RecordSLAPoll(time.Since(start))
		}
	}
}

// sweepOverdue pages through active instances and records an SLA breach for
// every one sitting past its current stage's duration budget. TimeProgress
// is the raw unclamped ratio, so >100 means the budget is blown.
func sweepOverdue(
	ctx context.Context,
	eng *engine.Engine,
	instStore store.InstanceStore,
	batchSize int,
	logger *zap.Logger,
	metrics *observability.Metrics,
) {
	offset := 0
	for {
		batch, err := instStore.FindActive(ctx, store.Filters{Limit: batchSize, Offset: offset})
		if err != nil {
			logger.Error("SLA sweep query failed", zap.Error(err))
			return
		}
		for i := range batch {
			inst := &batch[i]
			report, err := eng.Progress(ctx, inst.ID, nil)
			if err != nil {
				logger.Warn("SLA sweep progress failed",
					zap.String("instance_id", inst.ID),
					zap.Error(err),
				)
				continue
			}
			if report.TimeProgress > 100 {
				metrics.RecordSLABreach(inst.WorkflowID, inst.CurrentStageID)
				logger.Warn("stage time budget exceeded",
					zap.String("instance_id", inst.ID),
					zap.String("workflow_id", inst.WorkflowID),
					zap.String("stage_id", inst.CurrentStageID),
					zap.Float64("time_progress", report.TimeProgress),
				)
			}
		}
		if len(batch) < batchSize {
			return
		}
		offset += batchSize
	}
}

// runDefinitionReloader periodically re-reads the definition directories and
// swaps the registry when the content changes. A load or validation failure
// keeps the previous definitions serving.
func runDefinitionReloader(
	ctx context.Context,
	loader *definition.Loader,
	validator *definition.Validator,
	registry *definition.Registry,
	cfg config.DefinitionsConfig,
	logger *zap.Logger,
	metrics *observability.Metrics,
) {
	ticker := time.NewTicker(cfg.ReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			defs, err := loader.LoadAll(cfg.Directories)
			if err != nil {
				logger.Error("definition reload failed", zap.Error(err))
				metrics.RecordDefinitionReload("error")
				continue
			}
			if verrs := validator.Validate(defs); len(verrs) > 0 {
				for _, ve := range verrs {
					logger.Error("definition validation error", zap.String("error", ve.Error()))
				}
				metrics.RecordDefinitionReload("error")
				continue
			}
			if checksum(defs) == registry.Checksum() {
				continue
			}
			registry.Replace(defs)
			metrics.RecordDefinitionReload("success")
			metrics.SetDefinitionsLoaded(float64(len(defs)))
			logger.Info("definitions reloaded", zap.Int("count", len(defs)))
		}
	}
}

// checksum combines per-definition checksums the same way the registry does,
// so an unchanged directory tree skips the swap.
func checksum(defs []model.WorkflowDefinition) string {
	return definition.NewRegistry(defs).Checksum()
}
