// Copyright (C) 2026 Driftline AI (dev@driftline.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/DriftlineAI/driftline/services/query/backends"
	"github.com/DriftlineAI/driftline/services/query/cache"
	"github.com/DriftlineAI/driftline/services/query/config"
	"github.com/DriftlineAI/driftline/services/query/middleware"
	"github.com/DriftlineAI/driftline/services/query/observability"
	"github.com/DriftlineAI/driftline/services/query/pipeline"
	"github.com/DriftlineAI/driftline/services/query/resilience"
	"github.com/DriftlineAI/driftline/services/query/routes"
	"github.com/DriftlineAI/driftline/services/query/safety"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "driftline-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("query-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	metrics := observability.InitMetrics()

	// --- Weaviate client ---
	weaviateClient, err := weaviate.NewClient(weaviate.Config{
		Host:   cfg.Retriever.WeaviateHost,
		Scheme: cfg.Retriever.WeaviateScheme,
	})
	if err != nil {
		log.Fatalf("Failed to create Weaviate client: %v", err)
	}

	// --- OpenAI client ---
	openaiCfg := openai.DefaultConfig(cfg.LLM.APIKey)
	if cfg.LLM.BaseURL != "" {
		openaiCfg.BaseURL = cfg.LLM.BaseURL
	}
	openaiClient := openai.NewClientWithConfig(openaiCfg)

	// --- Shared cache ---
	// pipelineCache stays a nil interface when caching is off so the
	// cache.SafeGet/SafeSet nil checks short-circuit.
	var memCache *cache.MemoryCache
	var pipelineCache cache.Cache
	if cfg.Cache.Enabled {
		memCache = cache.NewMemoryCache(cfg.Cache.TTL)
		defer memCache.Close()
		pipelineCache = memCache
		slog.Info("Cache enabled", "ttl", cfg.Cache.TTL,
			"retrieval", cfg.Cache.Retrieval, "llm", cfg.Cache.LLM,
			"embeddings", cfg.Cache.Embeddings)
	}

	// --- Resilience guards, one breaker per dependency ---
	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: cfg.Resilience.FailureThreshold,
		ResetTimeout:     cfg.Resilience.ResetTimeout,
		MonitoringPeriod: cfg.Resilience.MonitoringPeriod,
		OnStateChange: func(name string, state resilience.State) {
			metrics.ObserveBreakerState(name, float64(state))
		},
	}
	retryCfg := resilience.RetryConfig{
		MaxRetries:        cfg.Resilience.MaxRetries,
		InitialDelay:      cfg.Resilience.InitialDelay,
		MaxDelay:          cfg.Resilience.MaxDelay,
		BackoffMultiplier: cfg.Resilience.BackoffMultiplier,
	}
	guards := map[string]*resilience.Guard{
		"retrieval":  resilience.NewGuard("retrieval", breakerCfg, retryCfg, cfg.Resilience.EmbeddingTimeout),
		"embeddings": resilience.NewGuard("embeddings", breakerCfg, retryCfg, cfg.Resilience.EmbeddingTimeout),
		"generation": resilience.NewGuard("generation", breakerCfg, retryCfg, cfg.Resilience.GenerationTimeout),
		"moderation": resilience.NewGuard("moderation", breakerCfg, retryCfg, cfg.Safety.ModerationTimeout),
	}
	for name, guard := range guards {
		metrics.ObserveBreakerState(name, float64(guard.Breaker.State()))
	}

	// --- Backends ---
	// Layering: the cache sits outside the guard so cache hits never
	// touch the embeddings breaker.
	var embedder backends.Embedder = backends.NewOpenAIEmbedder(openaiClient, cfg.LLM.EmbeddingModel)
	embedder = backends.NewGuardedEmbedder(embedder, guards["embeddings"], cfg.Resilience.BulkEmbeddingTimeout)
	if cfg.Cache.Enabled && cfg.Cache.Embeddings {
		embedder = backends.NewCachingEmbedder(embedder, memCache, cfg.Cache.TTL,
			cfg.LLM.EmbeddingModel, metrics)
	}
	retriever := backends.NewWeaviateRetriever(weaviateClient, embedder,
		cfg.Retriever.ClassName, cfg.Retriever.TopK)
	generator := backends.NewOpenAIGenerator(openaiClient, cfg.LLM.Model)
	moderation := backends.NewOpenAIModeration(openaiClient)

	gate := safety.NewGate(moderation, guards["moderation"], cfg.Safety.Enabled)

	p := pipeline.New(pipeline.Options{
		Config:          cfg,
		Cache:           pipelineCache,
		Gate:            gate,
		Retriever:       retriever,
		Generator:       generator,
		Estimator:       pipeline.NewTiktokenEstimator(cfg.LLM.Model),
		RetrievalGuard:  guards["retrieval"],
		GenerationGuard: guards["generation"],
		Metrics:         metrics,
	})

	router := gin.Default()
	router.Use(otelgin.Middleware("query-service"))
	router.Use(middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst).Middleware())

	routes.SetupRoutes(router, p, guards, memCache)

	log.Println("Starting the query server on port ", cfg.Server.Port)
	if err := router.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
