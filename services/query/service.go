// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package query provides the grounded query engine service.
//
// This package contains the Service type that coordinates all components
// of the engine: HTTP routing, retrieval, generation, grounding
// verification, trace storage, and observability infrastructure.
//
// # Usage
//
//	cfg := query.Config{Port: 12310, LLMBackend: "ollama"}
//	svc, err := query.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package query

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianQuery/services/embed"
	"github.com/AleutianAI/AleutianQuery/services/llm"
	"github.com/AleutianAI/AleutianQuery/services/query/grounding"
	"github.com/AleutianAI/AleutianQuery/services/query/observability"
	"github.com/AleutianAI/AleutianQuery/services/query/orchestrator"
	"github.com/AleutianAI/AleutianQuery/services/query/routes"
	"github.com/AleutianAI/AleutianQuery/services/query/search"
	"github.com/AleutianAI/AleutianQuery/services/query/store"
	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the query engine service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run() blocks and should
// only be called once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds query engine configuration options.
//
// All fields are optional with defaults applied by New().
type Config struct {
	// Port is the HTTP server port. Default: 12310
	Port int

	// LLMBackend specifies the LLM provider.
	// Valid values: "openai", "ollama", "claude", "anthropic"
	// Default: "ollama"
	LLMBackend string

	// EmbedBackend specifies the embedding provider.
	// Valid values: "openai", "ollama"
	// Default: follows LLMBackend where possible, else "ollama"
	EmbedBackend string

	// StoreBackend specifies where traces persist.
	// Valid values: "weaviate", "badger"
	// Default: "weaviate" when WeaviateURL is set, else "badger"
	StoreBackend string

	// WeaviateURL is the Weaviate vector database URL.
	// Required for retrieval. Example: "http://localhost:8080"
	WeaviateURL string

	// BadgerPath is the directory for the embedded trace store when
	// StoreBackend is "badger". Default: "./data/traces"
	BadgerPath string

	// OTelEndpoint is the OpenTelemetry collector endpoint. The special
	// value "stdout" prints spans locally, "off" disables tracing export.
	// Default: "aleutian-otel-collector:4317"
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint.
	EnableMetrics bool

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	GinMode string

	// RetrievalDepth is the per-leg candidate depth for hybrid fusion.
	RetrievalDepth int

	// GroundingThreshold is the cosine similarity an answer must reach.
	GroundingThreshold float64

	// RequireFullCoverage makes verification demand a citation for every
	// retrieved passage.
	RequireFullCoverage bool
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "ollama"
	}
	if cfg.EmbedBackend == "" {
		switch cfg.LLMBackend {
		case "openai":
			cfg.EmbedBackend = "openai"
		default:
			cfg.EmbedBackend = "ollama"
		}
	}
	if cfg.StoreBackend == "" {
		if cfg.WeaviateURL != "" {
			cfg.StoreBackend = "weaviate"
		} else {
			cfg.StoreBackend = "badger"
		}
	}
	if cfg.BadgerPath == "" {
		cfg.BadgerPath = "./data/traces"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "aleutian-otel-collector:4317"
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config         Config
	router         *gin.Engine
	weaviateClient *weaviate.Client
	orch           *orchestrator.Orchestrator
	deps           orchestrator.Dependencies
	tracerCleanup  func(context.Context)
}

// New creates a new query engine Service with the given configuration.
//
// # Description
//
// New initializes all components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing and Prometheus metrics
//  3. Connects to Weaviate and ensures the schema exists
//  4. Creates the embedding provider and LLM client
//  5. Creates the trace store (Weaviate or embedded BadgerDB)
//  6. Wires the search engine, verifier, and orchestrator
//  7. Sets up HTTP routes
//
// # Outputs
//
//   - Service: Ready-to-run query engine.
//   - error: Non-nil if any required component fails to initialize.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	var metrics *observability.QueryMetrics
	if s.config.EnableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for query engine")
	}

	if err := s.initWeaviate(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize Weaviate: %w", err)
	}

	embedder, err := s.initEmbedder()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	llmClient, err := s.initLLMClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	traceStore, err := s.initStore()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize trace store: %w", err)
	}

	searchConfig := search.DefaultConfig()
	if s.config.RetrievalDepth > 0 {
		searchConfig.RetrievalDepth = s.config.RetrievalDepth
	}

	groundingConfig := grounding.DefaultConfig()
	if s.config.GroundingThreshold > 0 {
		groundingConfig.SimilarityThreshold = s.config.GroundingThreshold
	}
	groundingConfig.RequireFullCoverage = s.config.RequireFullCoverage

	s.deps = orchestrator.Dependencies{
		Search:   search.NewWeaviateSearchEngine(s.weaviateClient, embedder, searchConfig),
		LLM:      llmClient,
		Verifier: grounding.NewVerifier(embedder, groundingConfig),
		Store:    traceStore,
		Detector: store.NewPrefixCorrectionDetector(),
		Metrics:  metrics,
	}
	s.orch = orchestrator.NewOrchestrator(s.deps, orchestrator.DefaultConfig())

	s.initRouter()
	return s, nil
}

// Run starts the HTTP server and blocks until shutdown or error.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting query engine server", "port", s.config.Port)
	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Limitations
//
//   - Uses an insecure gRPC connection (appropriate for internal
//     networks).
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	if s.config.OTelEndpoint == "off" {
		slog.Info("Tracing export disabled")
		return func(context.Context) {}, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	if s.config.OTelEndpoint == "stdout" {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	} else {
		conn, dialErr := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", dialErr)
		}
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("query-service")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
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
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown trace exporter", "error", err)
		}
	}
	return cleanup, nil
}

// initWeaviate initializes the Weaviate client and ensures the schema.
// Retrieval cannot run without it, so a missing URL is fatal here unlike
// in services that treat the vector store as optional.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		return fmt.Errorf("WeaviateURL is required for retrieval")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	s.weaviateClient, err = weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.NewWeaviateTraceStore(s.weaviateClient).EnsureSchema(schemaCtx); err != nil {
		slog.Warn("Schema check failed, continuing with existing schema", "error", err)
	}
	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

// initEmbedder creates the embedding provider.
func (s *service) initEmbedder() (embed.Provider, error) {
	switch s.config.EmbedBackend {
	case "openai":
		slog.Info("Using OpenAI embedding backend")
		return embed.NewOpenAIEmbedder()
	case "ollama":
		slog.Info("Using Ollama embedding backend")
		return embed.NewOllamaEmbedder()
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s", s.config.EmbedBackend)
	}
}

// initLLMClient creates the LLM provider client.
func (s *service) initLLMClient() (llm.LLMClient, error) {
	switch s.config.LLMBackend {
	case "openai":
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	case "claude", "anthropic":
		slog.Info("Using Anthropic (Claude) LLM backend")
		return llm.NewAnthropicClient()
	default:
		return nil, fmt.Errorf("unknown LLM backend: %s", s.config.LLMBackend)
	}
}

// initStore creates the trace store backend.
func (s *service) initStore() (store.TraceStore, error) {
	switch s.config.StoreBackend {
	case "weaviate":
		slog.Info("Using Weaviate trace store")
		return store.NewWeaviateTraceStore(s.weaviateClient), nil
	case "badger":
		slog.Info("Using embedded BadgerDB trace store", "path", s.config.BadgerPath)
		return store.NewBadgerTraceStore(store.DefaultBadgerConfig(s.config.BadgerPath))
	default:
		return nil, fmt.Errorf("unknown store backend: %s", s.config.StoreBackend)
	}
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("query-service"))

	routes.SetupRoutes(s.router, s.orch, s.config.EnableMetrics)
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	if err := s.deps.Close(); err != nil {
		slog.Warn("Dependency close error", "error", err)
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
