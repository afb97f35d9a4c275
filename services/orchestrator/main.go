// Copyright (C) 2025 Mashura AI (engineering@mashura.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	openai "github.com/sashabaranov/go-openai"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/mashura-ai/mashura/services/orchestrator/config"
	"github.com/mashura-ai/mashura/services/orchestrator/engine"
	"github.com/mashura-ai/mashura/services/orchestrator/governor"
	"github.com/mashura-ai/mashura/services/orchestrator/handlers"
	"github.com/mashura-ai/mashura/services/orchestrator/middleware"
	"github.com/mashura-ai/mashura/services/orchestrator/observability"
	"github.com/mashura-ai/mashura/services/orchestrator/routes"
	"github.com/mashura-ai/mashura/services/orchestrator/services"
	"github.com/mashura-ai/mashura/services/orchestrator/store"
)

const (
	serviceName        = "mashura-orchestrator"
	guestSweepInterval = 5 * time.Minute
	shutdownGrace      = 10 * time.Second
)

// initTracer wires the OTLP exporter when a collector endpoint is set.
// Without one the service runs with the default noop tracer provider.
func initTracer(ctx context.Context) (func(context.Context), error) {
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
		return func(context.Context) {}, nil
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
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// newWeaviateClient accepts either a bare host ("weaviate:8080") or a full
// URL and builds the client, attaching API key auth when configured.
func newWeaviateClient(cfg config.Config) (*weaviate.Client, error) {
	raw := strings.Trim(cfg.Weaviate.URL, "\"' ")
	host, scheme := raw, "http"
	if strings.Contains(raw, "://") {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			return nil, errors.New("invalid weaviate url: " + raw)
		}
		host, scheme = parsed.Host, parsed.Scheme
	}

	clientConf := weaviate.Config{Host: host, Scheme: scheme}
	if cfg.Weaviate.APIKey != "" {
		clientConf.AuthConfig = auth.ApiKey{Value: cfg.Weaviate.APIKey}
	}
	return weaviate.NewClient(clientConf)
}

func newAnswerEngine(cfg config.Config, wc *weaviate.Client) *engine.OpenAIEngine {
	llmConf := openai.DefaultConfig(cfg.LLM.APIKey)
	llmConf.BaseURL = cfg.LLM.BaseURL
	client := openai.NewClientWithConfig(llmConf)

	retriever := engine.NewWeaviateRetriever(wc)
	return engine.NewOpenAIEngine(client, retriever, cfg.LLM.Model)
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := os.Getenv("MASHURA_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cleanup, err := initTracer(ctx)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	weaviateClient, err := newWeaviateClient(cfg)
	if err != nil {
		log.Fatalf("failed to create Weaviate client: %v", err)
	}

	userStore := store.NewWeaviateStore(weaviateClient)
	if err := userStore.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure Weaviate schema: %v", err)
	}

	metrics := observability.InitMetrics()
	guestStore := store.NewGuestStore(
		store.WithGuestIdleTTL(cfg.GuestIdleTTL()),
		store.WithGuestEvictionHook(metrics.RecordGuestEvictions))

	govOpts := []governor.Option{}
	var usageDB *badger.DB
	if cfg.GovernorDir != "" {
		usageDB, err = badger.Open(badger.DefaultOptions(cfg.GovernorDir).WithLogger(nil))
		if err != nil {
			log.Fatalf("failed to open usage database: %v", err)
		}
		defer usageDB.Close()
		govOpts = append(govOpts, governor.WithStore(usageDB))
	} else {
		slog.Warn("governor_dir not set, usage cycles will not survive restarts")
	}
	gov := governor.NewGovernor(governor.Limits{
		GuestMax: cfg.Limits.GuestMax,
		UserMax:  cfg.Limits.UserMax,
		Cooldown: cfg.Cooldown(),
	}, govOpts...)

	svc := services.NewChatService(gov, newAnswerEngine(cfg, weaviateClient),
		userStore, guestStore,
		services.WithContextWindow(cfg.ContextWindow))

	chatHandler := handlers.NewChatHandler(svc, metrics)
	convHandler := handlers.NewConversationHandler(svc)

	router := gin.Default()
	router.Use(otelgin.Middleware(serviceName))
	routes.SetupRoutes(router, routes.Options{
		Chat:          chatHandler,
		Conversations: convHandler,
		Tokens:        middleware.StaticTokenResolver(cfg.AuthTokens),
		RequestsPerS:  cfg.RateLimit.RequestsPerSecond,
		Burst:         cfg.RateLimit.Burst,
	})

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: router,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting the orchestrator server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		guestStore.Run(gCtx, guestSweepInterval)
		return nil
	})

	// Quota limits reload without a restart when the config file changes.
	if _, statErr := os.Stat(configPath); statErr == nil {
		g.Go(func() error {
			return config.Watch(gCtx, configPath, slog.Default(), func(next config.Config) {
				gov.SetLimits(governor.Limits{
					GuestMax: next.Limits.GuestMax,
					UserMax:  next.Limits.UserMax,
					Cooldown: next.Cooldown(),
				})
			})
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}
