// Package main is the entry point for the document processing service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/anders-planck/parseur/internal/api"
	"github.com/anders-planck/parseur/internal/api/handlers"
	"github.com/anders-planck/parseur/internal/api/middleware"
	"github.com/anders-planck/parseur/internal/business/dispatch"
	"github.com/anders-planck/parseur/internal/business/pipeline"
	"github.com/anders-planck/parseur/internal/business/prompts"
	"github.com/anders-planck/parseur/internal/config"
	"github.com/anders-planck/parseur/internal/core"
	"github.com/anders-planck/parseur/internal/core/rules"
	"github.com/anders-planck/parseur/internal/database"
	"github.com/anders-planck/parseur/internal/database/postgres"
	"github.com/anders-planck/parseur/internal/infrastructure/llm"
	"github.com/anders-planck/parseur/internal/infrastructure/objectstore"
	"github.com/anders-planck/parseur/internal/infrastructure/repository"
	"github.com/anders-planck/parseur/internal/realtime"
	"github.com/anders-planck/parseur/pkg/logger"
	"github.com/anders-planck/parseur/pkg/metrics"
)

const (
	serviceName    = "parseur"
	serviceVersion = "1.0.0"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to YAML config file (optional)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)
	log.Info("starting service", "service", serviceName, "version", serviceVersion)

	if err := run(cfg, log); err != nil {
		log.Error("service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database and migrations.
	if err := database.Migrate(ctx, cfg.Database.URL, log); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	pool, err := postgres.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Object store.
	objects, err := objectstore.New(ctx, cfg.ObjectStore, log)
	if err != nil {
		return err
	}

	// Metric sets.
	pipelineMetrics := metrics.NewPipelineMetrics()
	llmMetrics := metrics.NewLLMMetrics()
	realtimeMetrics := metrics.NewRealtimeMetrics()
	httpMetrics := metrics.NewHTTPMetrics()

	// Stores.
	documents := repository.NewPostgresDocumentStore(pool, log)
	audits := repository.NewPostgresAuditStore(pool, log)

	// Event bus.
	bus := realtime.NewEventBus(cfg.Realtime.SubscriberLimit, log, realtimeMetrics)
	bus.Start(ctx)
	publisher := realtime.NewPublisher(bus, log)

	// LLM providers and dispatch.
	registry := llm.NewRegistry(cfg.LLM.Providers, log)
	providers, err := registry.All()
	if err != nil {
		return err
	}
	orchestrator, err := dispatch.New(providers, dispatch.Options{
		Timeout:      cfg.Pipeline.ProviderTimeout,
		RequireAll:   cfg.Pipeline.RequireAll,
		Primary:      cfg.LLM.DefaultProvider,
		ShouldFanOut: fanOutPredicate(cfg),
	}, log)
	if err != nil {
		return err
	}

	// Pipeline and its consumer.
	ruleEngine := rules.NewEngine(log)
	promptRegistry := prompts.NewRegistry()
	pipe, err := pipeline.New(pipeline.Config{},
		documents, audits, objects, orchestrator, ruleEngine, promptRegistry,
		publisher, log, pipelineMetrics, llmMetrics)
	if err != nil {
		return err
	}
	consumer := pipeline.NewConsumer(pipe, pipeline.ConsumerConfig{
		Workers:   cfg.Pipeline.Workers,
		QueueSize: cfg.Pipeline.QueueSize,
		Retries:   cfg.Pipeline.StepRetries,
	}, log, pipelineMetrics)
	if err := consumer.Start(ctx); err != nil {
		return err
	}

	// HTTP surface.
	documentHandler := handlers.NewDocumentHandler(
		cfg, documents, audits, objects, consumer, pipe, publisher, log)
	sseHandler := handlers.NewSSEHandler(bus, cfg.Realtime.HeartbeatInterval, log)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthChecker{
		"database":     pool,
		"object_store": objects,
	}, log)
	statsHandler := handlers.NewStatsHandler(audits, log)

	router := api.NewRouter(api.Deps{
		Documents:   documentHandler,
		SSE:         sseHandler,
		Health:      healthHandler,
		Stats:       statsHandler,
		Auth:        middleware.AuthConfig{APIKeys: cfg.Auth.APIKeys},
		HTTPMetrics: httpMetrics,
		Logger:      log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP server shutdown incomplete", "error", err)
	}
	if err := consumer.Stop(shutdownCtx); err != nil {
		log.Warn("consumer shutdown incomplete", "error", err)
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		log.Warn("event bus shutdown incomplete", "error", err)
	}
	log.Info("shutdown complete")
	return nil
}

// fanOutPredicate limits multi-provider dispatch to the configured document
// types and to large files. With no configuration, every call fans out.
func fanOutPredicate(cfg *config.Config) func(dispatch.FanOutContext) bool {
	types := cfg.Pipeline.MultiProviderTypes
	minSize := cfg.Pipeline.MultiProviderMinSize
	if len(types) == 0 && minSize <= 0 {
		return nil
	}
	typeSet := make(map[core.DocumentType]struct{}, len(types))
	for _, t := range types {
		typeSet[core.DocumentType(t)] = struct{}{}
	}
	return func(fc dispatch.FanOutContext) bool {
		if minSize > 0 && fc.FileSize >= minSize {
			return true
		}
		if len(typeSet) == 0 {
			return false
		}
		_, important := typeSet[fc.DocumentType]
		return important
	}
}
