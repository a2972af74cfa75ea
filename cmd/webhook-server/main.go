/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command webhook-server is the real-time entry point: it wires
// GraphStore, LMClient, ModelCascade, and RalphLoop behind
// WebhookHandler's chi router and serves it until terminated.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/internal/config"
	"github.com/jordigilh/ralph-core/internal/logging"
	"github.com/jordigilh/ralph-core/pkg/cascade"
	"github.com/jordigilh/ralph-core/pkg/graphstore"
	"github.com/jordigilh/ralph-core/pkg/graphstore/memory"
	"github.com/jordigilh/ralph-core/pkg/graphstore/postgres"
	"github.com/jordigilh/ralph-core/pkg/graphstore/rediscache"
	"github.com/jordigilh/ralph-core/pkg/llmclient"
	"github.com/jordigilh/ralph-core/pkg/llmclient/anthropic"
	"github.com/jordigilh/ralph-core/pkg/llmclient/bedrock"
	"github.com/jordigilh/ralph-core/pkg/metrics"
	"github.com/jordigilh/ralph-core/pkg/notification"
	"github.com/jordigilh/ralph-core/pkg/ralphloop"
	"github.com/jordigilh/ralph-core/pkg/webhook"

	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "./config.yaml"), "path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("webhook-server: no .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("webhook-server: failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("webhook-server: failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := buildGraphStore(ctx, cfg.GraphStore)
	if err != nil {
		logger.Fatal("failed to build graph store", zap.Error(err))
	}

	llm, err := buildLLMClient(ctx, cfg.Cascade, logger)
	if err != nil {
		logger.Fatal("failed to build LLM client", zap.Error(err))
	}

	cascadeRunner := cascade.New(llm, cascade.Config{
		Tiers:                   tiersFor(cfg.Cascade.Tiers),
		CostPerMTok:             costPerMTok(cfg.Cascade.CostPerMTok),
		MaxConfidenceAdjustment: cfg.Ralph.MaxConfidenceAdjustment,
		SmallFailureThreshold:   cfg.Cascade.SmallFailureThreshold,
		MaxOutputTokens:         1024,
	}, logger)

	var notifier notification.Notifier
	if cfg.Notification.Enabled {
		notifier = notification.NewSlackNotifier(cfg.Notification.WebhookURL)
	}

	loop, err := ralphloop.New(ctx, store, cascadeRunner, nil, notifier, ralphConfigFrom(cfg.Ralph), logger)
	if err != nil {
		logger.Fatal("failed to build RalphLoop", zap.Error(err))
	}

	recorder := metrics.NewRecorder()
	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, logger)
	metricsServer.StartAsync()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Stop(shutdownCtx)
	}()

	handler, err := webhook.NewHandlerWithMetrics(webhook.Config{
		SigningSecret:     cfg.Webhook.SigningSecret,
		AllowedOrigins:    cfg.Webhook.AllowedOrigins,
		SourceCredibility: cfg.Webhook.SourceCredibility,
	}, loop, recorder, logger)
	if err != nil {
		logger.Fatal("failed to build webhook handler", zap.Error(err))
	}

	server := &http.Server{
		Addr:    ":" + cfg.Server.WebhookPort,
		Handler: handler.Router(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("webhook-server: shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
		cancel()
	}()

	logger.Info("webhook-server: listening", zap.String("port", cfg.Server.WebhookPort))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("webhook-server: server failed", zap.Error(err))
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func buildGraphStore(ctx context.Context, cfg config.GraphStoreConfig) (graphstore.Store, error) {
	var store graphstore.Store
	switch cfg.Driver {
	case "postgres":
		pgStore, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		store = pgStore
	default:
		store = memory.New()
	}

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		store = rediscache.New(store, client, cfg.RedisCacheTTL)
	}
	return store, nil
}

func buildLLMClient(ctx context.Context, cfg config.CascadeConfig, logger *zap.Logger) (llmclient.Client, error) {
	switch cfg.Provider {
	case "bedrock":
		return bedrock.NewClient(ctx, bedrock.Config{
			Region:    cfg.Region,
			ModelARNs: tieredModels(cfg.Models),
		}, logger)
	default:
		return anthropic.NewClient(anthropic.Config{
			APIKey: cfg.APIKey,
			Models: tieredModels(cfg.Models),
		}, logger)
	}
}

func tieredModels(models map[string]string) map[llmclient.Tier]string {
	out := make(map[llmclient.Tier]string, len(models))
	for tier, model := range models {
		out[llmclient.Tier(tier)] = model
	}
	return out
}

func tiersFor(tiers []string) []llmclient.Tier {
	out := make([]llmclient.Tier, len(tiers))
	for i, t := range tiers {
		out[i] = llmclient.Tier(t)
	}
	return out
}

func costPerMTok(m map[string]float64) map[llmclient.Tier]float64 {
	out := make(map[llmclient.Tier]float64, len(m))
	for tier, cost := range m {
		out[llmclient.Tier(tier)] = cost
	}
	return out
}

func ralphConfigFrom(cfg config.RalphConfig) ralphloop.Config {
	return ralphloop.Config{
		MinEvidence:                 cfg.MinEvidence,
		MinConfidence:               cfg.MinConfidence,
		MinEvidenceCredibility:      cfg.MinEvidenceCredibility,
		MaxConfidenceAdjustment:     cfg.MaxConfidenceAdjustment,
		ConfidenceReviewThreshold:   cfg.ConfidenceReviewThreshold,
		EnableConfidenceValidation:  cfg.EnableConfidenceValidation,
		DedupSimilarityThreshold:    cfg.DedupSimilarityThreshold,
		DedupWindowDays:             cfg.DedupWindowDays,
		Pass1EnrichmentLookbackDays: cfg.Pass1EnrichmentLookbackDays,
		FanoutPerEntity:             cfg.FanoutPerEntity,
		DedupWeightType:             cfg.DedupWeightType,
		DedupWeightTemporal:         cfg.DedupWeightTemporal,
		DedupWeightURL:              cfg.DedupWeightURL,
		DedupWeightText:             cfg.DedupWeightText,
		RetryBufferCapacity:         cfg.RetryBufferCapacity,
	}
}
