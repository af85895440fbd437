// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the core orchestrator service for AleutianCost.
//
// This package contains the main service type that coordinates all components
// of the cost-analysis backend: HTTP routing, workflow execution, job
// tracking, the event bus, the websocket streaming registry, the result
// cache, the upstream analysis client, and observability infrastructure.
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 12230}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc.Run()
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianCost/services/analyzer"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/cache"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/events"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/jobs"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianCost/services/orchestrator/stream"
	"github.com/AleutianAI/AleutianCost/services/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Description
//
// Service abstracts the orchestrator lifecycle, enabling testing and
// alternative implementations. The interface follows the minimal surface
// area principle - only essential lifecycle methods are exposed.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
//
// # Assumptions
//
//   - Service is fully initialized before Run() is called
//   - Run() is called at most once per Service instance
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// # Assumptions
	//
	//   - Caller will not modify the router
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds orchestrator configuration options.
//
// # Description
//
// Config centralizes all configuration for the orchestrator service.
// Values can be populated from environment variables, config files,
// or programmatically for testing.
//
// # Required Fields
//
// None - all fields have sensible defaults.
//
// # Examples
//
//	// Minimal config (uses all defaults)
//	cfg := Config{}
//
//	// Custom port with InfluxDB persistence
//	cfg := Config{
//	    Port:        8080,
//	    InfluxURL:   "http://localhost:8086",
//	    InfluxToken: os.Getenv("INFLUXDB_TOKEN"),
//	    InfluxOrg:   "aleutian",
//	    InfluxBucket: "cloud_costs",
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12230
	Port int

	// InfluxURL is the InfluxDB server URL.
	// If empty, records are held in memory only.
	// Example: "http://localhost:8086"
	InfluxURL string

	// InfluxToken authenticates against InfluxDB.
	InfluxToken string

	// InfluxOrg is the InfluxDB organization. Default: "aleutian"
	InfluxOrg string

	// InfluxBucket is the InfluxDB bucket for cost data.
	// Default: "cloud_costs"
	InfluxBucket string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// MaxActiveJobs caps concurrently running workflows. Default: 16
	MaxActiveJobs int

	// JobHistorySize bounds the terminal-job history. Default: 100
	JobHistorySize int

	// IdleTimeout evicts websocket connections with no inbound
	// activity for this long. Default: 5 minutes
	IdleTimeout time.Duration

	// SweepInterval is how often idle connections are swept.
	// Default: 30 seconds
	SweepInterval time.Duration

	// CacheJanitorInterval is how often expired cache entries are
	// purged in the background. Default: 1 minute
	CacheJanitorInterval time.Duration

	// ResultTTL is how long workflow results stay cached.
	// Default: 15 minutes
	ResultTTL time.Duration

	// RetryMaxAttempts bounds upstream analysis call attempts.
	// Default: 3
	RetryMaxAttempts int

	// RetryBaseDelay is the initial backoff between upstream attempts.
	// Default: 500ms
	RetryBaseDelay time.Duration
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Description
//
// service is the main implementation that coordinates:
//   - HTTP routing via Gin
//   - Workflow execution and job tracking
//   - Event bus and websocket streaming
//   - Result caching
//   - Upstream analysis client with retry
//   - InfluxDB persistence (optional)
//   - OpenTelemetry tracing
//   - Prometheus metrics
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
//
// # Assumptions
//
//   - External services (OpenAI, InfluxDB, OTel) are reachable if configured
type service struct {
	config        Config
	router        *gin.Engine
	bus           *events.Bus
	jobManager    *jobs.Manager
	resultCache   *cache.Cache
	registry      *stream.Registry
	orchestrator  *pipeline.Orchestrator
	costStore     store.Store
	tracerCleanup func(context.Context)
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all orchestrator components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing
//  3. Initializes Prometheus metrics
//  4. Creates the event bus, job manager, and result cache
//  5. Creates the upstream analysis client with retry
//  6. Connects to InfluxDB if configured, falling back to in-memory storage
//  7. Starts the websocket streaming registry
//  8. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if initialization fails
//
// # Examples
//
//	cfg := Config{Port: 12230}
//	svc, err := New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// # Assumptions
//
//   - OPENAI_API_KEY is set (env var or /run/secrets/openai_api_key)
//   - Network is available for external service connections
func New(cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
	}

	// Initialize OpenTelemetry tracer
	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	// Initialize Prometheus metrics
	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for orchestration")
	}

	// Event bus, job manager, result cache
	s.bus = events.NewBus()
	s.jobManager = jobs.NewManager(s.bus, jobs.Config{
		MaxActive:   s.config.MaxActiveJobs,
		HistorySize: s.config.JobHistorySize,
	})
	s.resultCache = cache.New(s.config.CacheJanitorInterval)

	// Upstream analysis client with retry
	upstream, err := s.initUpstream()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize upstream client: %w", err)
	}

	// Storage backend (optional InfluxDB)
	s.initStore()

	// Workflow orchestrator
	s.orchestrator = pipeline.New(s.jobManager, upstream, s.resultCache,
		s.costStore, nil, s.bus, pipeline.Config{
			ResultTTL: s.config.ResultTTL,
		})

	// Streaming registry with snapshot support for late subscribers
	s.registry = stream.NewRegistry(s.bus, stream.Config{
		IdleTimeout:   s.config.IdleTimeout,
		SweepInterval: s.config.SweepInterval,
		Snapshot:      s.snapshotTopic,
	})
	if err := s.registry.Start(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to start streaming registry: %w", err)
	}

	// Setup HTTP router
	s.initRouter()

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until shutdown or error.
//
// # Limitations
//
//   - Blocks until server stops
//   - Cleanup is automatic on return
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting orchestrator server", "port", s.config.Port)

	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12230
	}
	if cfg.InfluxOrg == "" {
		cfg.InfluxOrg = "aleutian"
	}
	if cfg.InfluxBucket == "" {
		cfg.InfluxBucket = "cloud_costs"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	// EnableMetrics defaults to true (zero value is false, so we need explicit check)
	// We'll handle this by always enabling unless explicitly disabled via a setter
	cfg.EnableMetrics = true

	if cfg.CacheJanitorInterval == 0 {
		cfg.CacheJanitorInterval = time.Minute
	}

	// Remaining zero values are defaulted by the owning packages
	// (jobs.Config, stream.Config, pipeline.Config, analyzer.RetryConfig).
	return cfg
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// Sets up OTLP trace exporter to send spans to the configured collector.
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
//
// # Assumptions
//
//   - OTel collector is reachable at configured endpoint
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("orchestrator-service")))
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

// initUpstream builds the retrying upstream analysis client.
//
// # Outputs
//
//   - analyzer.Analyzer: Retry-wrapped OpenAI client
//   - error: Non-nil if no API key is available
func (s *service) initUpstream() (analyzer.Analyzer, error) {
	inner, err := analyzer.NewOpenAIAnalyzer()
	if err != nil {
		return nil, err
	}

	client := analyzer.NewRetryingClient(inner, analyzer.RetryConfig{
		MaxAttempts: s.config.RetryMaxAttempts,
		BaseDelay:   s.config.RetryBaseDelay,
	})
	slog.Info("Using OpenAI analysis backend with retry",
		"max_attempts", s.config.RetryMaxAttempts)

	return client, nil
}

// initStore connects the storage backend.
//
// # Description
//
// Connects to InfluxDB if a URL is configured. Connection failure is not
// fatal: the service falls back to in-memory storage so workflows keep
// working in lightweight deployments.
func (s *service) initStore() {
	if s.config.InfluxURL == "" {
		slog.Info("InfluxDB URL not configured, running in lightweight mode")
		s.costStore = store.NewMemoryStore()
		return
	}

	influx, err := store.NewInfluxStore(s.config.InfluxURL, s.config.InfluxToken,
		s.config.InfluxOrg, s.config.InfluxBucket)
	if err != nil {
		slog.Warn("InfluxDB initialization failed, running in lightweight mode",
			"error", err)
		s.costStore = store.NewMemoryStore()
		return
	}

	slog.Info("InfluxDB store initialized", "url", s.config.InfluxURL)
	s.costStore = influx
}

// snapshotTopic returns current state for a topic, delivered to freshly
// subscribed connections. Job progress gets the live active set; the data
// topics get the most recent cached workflow result, if any.
func (s *service) snapshotTopic(topic events.Topic) any {
	var key string
	switch topic {
	case events.TopicJobProgress:
		return s.jobManager.ListActive()
	case events.TopicCostUpdates:
		key = pipeline.CacheKeySyncSummary
	case events.TopicInsights:
		key = pipeline.CacheKeyInsights
	case events.TopicAnomalyAlerts:
		key = pipeline.CacheKeyAnomalies
	case events.TopicRecommendations:
		key = pipeline.CacheKeyRecommendations
	default:
		return nil
	}

	if v, ok := s.resultCache.Get(key); ok {
		return v
	}
	return nil
}

// initRouter sets up the Gin HTTP router with all routes.
//
// # Assumptions
//
//   - All dependencies (orchestrator, registry, job manager) are initialized
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("orchestrator-service"))

	routes.SetupRoutes(s.router, s.orchestrator, s.jobManager, s.registry,
		s.config.EnableMetrics)
}

// cleanup releases all resources held by the service.
//
// # Description
//
// Called when Run() exits or on initialization failure.
// Stops the streaming registry, closes the cache, and shuts down the tracer.
func (s *service) cleanup() {
	if s.registry != nil {
		s.registry.Stop()
	}

	if s.resultCache != nil {
		s.resultCache.Close()
	}

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
