// Copyright (C) 2026 Medgate AI (maintainers@medgate.ai)
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
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/MedgateAI/MedgateLocal/pkg/logging"
	"github.com/MedgateAI/MedgateLocal/services/llm"
	"github.com/MedgateAI/MedgateLocal/services/triage/assembler"
	"github.com/MedgateAI/MedgateLocal/services/triage/config"
	"github.com/MedgateAI/MedgateLocal/services/triage/escalation"
	"github.com/MedgateAI/MedgateLocal/services/triage/observability"
	"github.com/MedgateAI/MedgateLocal/services/triage/retrieval"
	"github.com/MedgateAI/MedgateLocal/services/triage/routes"
	"github.com/MedgateAI/MedgateLocal/services/triage/store"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "medgate-otel-collector:4317"
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
		resource.WithAttributes(semconv.ServiceNameKey.String("triage-service")))
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

// newSearchClient builds the Weaviate search client, or nil when the URL is
// unset or invalid. A nil client runs the service in ungrounded mode.
func newSearchClient(rawURL string) retrieval.SearchClient {
	rawURL = strings.Trim(rawURL, "\"' ")
	if rawURL == "" || !strings.Contains(rawURL, "http") {
		slog.Info("Weaviate URL not set. Running ungrounded (no retrieval).")
		return retrieval.NoopSearchClient{}
	}
	parsedURL, err := url.Parse(rawURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		slog.Warn("Weaviate URL is invalid. Running ungrounded.", "url", rawURL, "error", err)
		return retrieval.NoopSearchClient{}
	}
	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		slog.Error("Failed to create Weaviate client", "error", err)
		return retrieval.NoopSearchClient{}
	}
	return retrieval.NewWeaviateSearchClient(client)
}

// newGenerator wires the generation backend with offline failover.
func newGenerator(backend string, timeout time.Duration) llm.Generator {
	offline := llm.NewOfflineGenerator()
	if backend != "openai" {
		slog.Info("Using offline generation backend")
		return offline
	}
	online, err := llm.NewOpenAIGenerator()
	if err != nil {
		slog.Warn("OpenAI backend unavailable, falling back to offline", "error", err)
		return offline
	}
	slog.Info("Using OpenAI generation backend with offline failover")
	failover := llm.NewFailoverGenerator(online, offline, timeout)
	failover.OnFallback(observability.RecordGeneratorFallback)
	return failover
}

func main() {
	logger := logging.New(logging.Config{
		Service: "triage",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	cfg, err := config.Load(os.Getenv("TRIAGE_CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	st, err := store.OpenBadger(store.Config{
		Path:       cfg.DataPath,
		SyncWrites: true,
		Logger:     logger.Slog(),
	})
	if err != nil {
		log.Fatalf("failed to open storage at %s: %v", cfg.DataPath, err)
	}
	defer st.Close()

	searchClient := newSearchClient(cfg.WeaviateURL)
	gateway := retrieval.NewGateway(searchClient, retrieval.Config{
		TopK:            cfg.Retrieval.TopK,
		SimilarityFloor: cfg.Retrieval.SimilarityFloor,
		Timeout:         cfg.Retrieval.Timeout,
	})

	generator := newGenerator(cfg.GeneratorBackend, cfg.GenerateTimeout)
	escalations := escalation.NewManager(st)

	a := assembler.New(st, gateway, generator, escalations, assembler.Config{
		MaxClarificationTurns: cfg.MaxClarificationTurns,
		AdvisoryThreshold:     cfg.Thresholds.Advisory,
		SuppressionFloor:      cfg.Thresholds.SuppressionFloor,
	})

	router := gin.Default()
	router.Use(otelgin.Middleware("triage-service"))
	routes.SetupRoutes(router, a, cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	log.Println("Starting the triage server on port", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
