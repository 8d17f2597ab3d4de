// Copyright (C) 2025 Kodiak AI (maintainers@kodiakai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package coordinator assembles the KodiakLocal coordination service:
// the query router with context augmentation, the value-scored
// telemetry pipeline with pattern extraction, and the self-healing
// health supervisor.
//
// # Degradation
//
// Every external dependency is optional except the SQLite telemetry
// store. When Weaviate is unreachable the service runs in lightweight
// mode: augmentation passes queries through unmodified and routing
// falls back to remote. The supervisor keeps probing and the service
// picks the dependency back up on its own once it recovers.
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := coordinator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/KodiakAI/KodiakLocal/services/coordinator/config"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/contextstore"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/contextstore/embedcache"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/datatypes"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/extraction"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/handlers"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/observability"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/router"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/routes"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/scoring"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/supervisor"
	"github.com/KodiakAI/KodiakLocal/services/coordinator/telemetry"
)

// Service is the coordinator lifecycle contract. Run blocks until
// shutdown; Router exposes the gin engine for integration tests.
type Service interface {
	Run() error
	Router() *gin.Engine
}

// service implements Service for production use.
type service struct {
	config config.KodiakConfig

	engine       *gin.Engine
	store        telemetry.Store
	contextStore *contextstore.Client
	cache        *embedcache.Cache
	queryRouter  *router.Router
	extractor    *extraction.Worker
	supervisor   *supervisor.Supervisor

	weaviateClient *weaviate.Client
	tracerCleanup  func(context.Context)
}

// New assembles the coordinator from configuration. The SQLite store
// is the only hard dependency; everything else degrades.
func New(cfg config.KodiakConfig) (Service, error) {
	s := &service{config: cfg}

	if cfg.Observability.Enabled {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	metrics := observability.InitMetrics()

	store, err := telemetry.OpenSQLite(cfg.Telemetry.SQLitePath)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to open telemetry store: %w", err)
	}
	s.store = store

	if cfg.ContextStore.Enabled {
		if err := s.initContextStore(); err != nil {
			slog.Warn("Context store initialization failed, running in lightweight mode",
				"error", err)
		}
	} else {
		slog.Info("Context store disabled, running in lightweight mode")
	}

	if cfg.Supervisor.Enabled && len(cfg.Supervisor.Services) > 0 {
		s.initSupervisor(metrics)
	}

	scorer := scoring.NewScorer(scoring.Weights{
		Complexity:  cfg.Scoring.Complexity,
		Reusability: cfg.Scoring.Reusability,
		Novelty:     cfg.Scoring.Novelty,
		Impact:      cfg.Scoring.Impact,
	})

	var readiness router.Readiness
	if s.supervisor != nil {
		readiness = s.supervisor
	}
	var searcher router.ContextSearcher
	if s.contextStore != nil {
		searcher = s.contextStore
	}
	s.queryRouter = router.New(searcher, s.store, scorer, metrics, readiness, router.Config{
		MaxQueryBytes:      cfg.Routing.MaxQueryBytes,
		ContextBudgetBytes: cfg.Routing.ContextBudgetBytes,
		TopK:               cfg.ContextStore.TopK,
		Collections:        cfg.ContextStore.Collections,
		Policy:             router.Policy{ConfidenceThreshold: cfg.Routing.ConfidenceThreshold},
	})

	if err := s.initExtractor(metrics); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize extraction worker: %w", err)
	}

	s.initRouter()

	return s, nil
}

// Run starts the HTTP server and the background workers, then blocks
// until SIGINT/SIGTERM or a fatal server error. Cleanup is automatic
// on return.
func (s *service) Run() error {
	defer s.cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if s.extractor != nil {
		go s.extractor.Run(ctx)
	}
	if s.supervisor != nil {
		go s.supervisor.Run(ctx)
	}

	server := &http.Server{
		Addr:    s.config.Server.ListenAddr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting coordinator server", "addr", s.config.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// Router returns the underlying gin engine for integration tests.
func (s *service) Router() *gin.Engine {
	return s.engine
}

// =============================================================================
// Initialization
// =============================================================================

// initTracer sets up the OTLP trace exporter. Uses an insecure gRPC
// connection, appropriate for the local collector.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.Observability.OTLPEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("coordinator-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initContextStore builds the Weaviate-backed retrieval client with
// the Badger embedding cache in front of it.
func (s *service) initContextStore() error {
	cache, err := embedcache.Open(embedcache.Config{
		Path:     s.config.ContextStore.CachePath,
		InMemory: s.config.ContextStore.CachePath == "",
		TTL:      s.config.ContextStore.CacheTTL,
	})
	if err != nil {
		slog.Warn("Embedding cache unavailable, searches go uncached", "error", err)
		cache = nil
	}
	s.cache = cache

	client, err := contextstore.NewClient(s.config.ContextStore.WeaviateURL, contextstore.Config{
		DefaultTopK:        s.config.ContextStore.TopK,
		MinScore:           s.config.ContextStore.MinScore,
		DefaultCollections: s.config.ContextStore.Collections,
		Cache:              cache,
	})
	if err != nil {
		return err
	}
	s.contextStore = client
	s.weaviateClient = client.Weaviate()

	datatypes.EnsureWeaviateSchema(s.weaviateClient)
	slog.Info("Context store initialized", "url", s.config.ContextStore.WeaviateURL)
	return nil
}

func (s *service) initSupervisor(metrics *observability.Metrics) {
	services := make([]supervisor.ManagedService, 0, len(s.config.Supervisor.Services))
	for _, svc := range s.config.Supervisor.Services {
		services = append(services, supervisor.ManagedService{
			Name:     svc.Name,
			ProbeURL: svc.ProbeURL,
		})
	}

	controller := supervisor.NewComposeController(nil, s.config.Supervisor.StackDir)
	prober := supervisor.NewHTTPProber(0)

	s.supervisor = supervisor.New(prober, controller, s.store, metrics, supervisor.Config{
		Services:           services,
		Interval:           s.config.Supervisor.Interval,
		FailureThreshold:   s.config.Supervisor.FailureThreshold,
		Cooldown:           s.config.Supervisor.Cooldown,
		MaxAttempts:        s.config.Supervisor.MaxAttempts,
		LocalEngineService: s.config.Supervisor.LocalEngine,
	})
	slog.Info("Health supervisor configured", "services", len(services))
}

func (s *service) initExtractor(metrics *observability.Metrics) error {
	var exporter *extraction.JSONLExporter
	if s.config.Telemetry.ExportPath != "" {
		var err error
		exporter, err = extraction.NewJSONLExporter(s.config.Telemetry.ExportPath)
		if err != nil {
			return err
		}
	}

	// The context store doubles as the pattern publisher; nil keeps
	// patterns SQLite-only in lightweight mode.
	var publisher extraction.PatternPublisher
	if s.contextStore != nil {
		publisher = s.contextStore
	}

	s.extractor = extraction.New(s.store, publisher, exporter, metrics, extraction.Config{
		Interval:  s.config.Extraction.Interval,
		Threshold: s.config.Extraction.Threshold,
	})
	return nil
}

func (s *service) initRouter() {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware("coordinator-service"))

	var snapshotter handlers.HealthSnapshotter
	if s.supervisor != nil {
		snapshotter = s.supervisor
	}
	var contextProbe handlers.ReadinessProbe
	if s.contextStore != nil {
		contextProbe = s.contextStore
	}

	routes.Setup(engine, routes.Dependencies{
		Router:       s.queryRouter,
		Store:        s.store,
		ContextStore: contextProbe,
		Supervisor:   snapshotter,
	})
	s.engine = engine
}

// cleanup releases everything New acquired, in reverse order. Safe to
// call with partially initialized state.
func (s *service) cleanup() {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			slog.Error("failed to close embedding cache", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("failed to close telemetry store", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

var _ Service = (*service)(nil)
