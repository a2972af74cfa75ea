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

// Command daily-runner is the batch entry point: one DailyOrchestrator
// run per invocation, intended to be cron-scheduled. It wires the same
// GraphStore/LMClient/ModelCascade/RalphLoop stack as webhook-server,
// plus PriorityScheduler, and persists the resulting Report via
// internal/reportstore for report-server to serve.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/internal/config"
	"github.com/jordigilh/ralph-core/internal/logging"
	"github.com/jordigilh/ralph-core/internal/reportstore"
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
	"github.com/jordigilh/ralph-core/pkg/orchestrator"
	"github.com/jordigilh/ralph-core/pkg/ralphloop"
	"github.com/jordigilh/ralph-core/pkg/schema"
	"github.com/jordigilh/ralph-core/pkg/scheduler"

	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "./config.yaml"), "path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("daily-runner: no .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("daily-runner: failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("daily-runner: failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("daily-runner: shutdown signal received, cancelling run")
		cancel()
	}()

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

	sched := scheduler.New(store, scheduler.Config{
		TierPoolSizes:      cfg.Scheduler.TierPoolSizes,
		TierTimeoutSeconds: cfg.Scheduler.TierTimeoutSeconds,
		TierStrategy:       cfg.Scheduler.TierStrategy,
	}, logger)

	recorder := metrics.NewRecorder()
	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, logger)
	metricsServer.StartAsync()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Stop(shutdownCtx)
	}()

	healthChecks := map[string]orchestrator.HealthCheckFunc{
		"graphstore": func(ctx context.Context) error {
			_, err := store.GetAllEntities(ctx)
			return err
		},
		"llmclient": func(ctx context.Context) error {
			_, err := llm.Complete(ctx, llmclient.TierSmall, "ping", 8)
			return err
		},
	}

	orc := orchestrator.New(sched, loop, fetchRawSignals(store, cfg.Ralph.Pass1EnrichmentLookbackDays), healthChecks, recorder, orchestrator.Config{}, logger)

	timer := metrics.NewTimer()
	report := orc.RunDaily(ctx)
	timer.RecordOrchestratorRun(report.Status)

	logger.Info("daily-runner: run finished",
		zap.String("run_id", report.RunID),
		zap.String("status", report.Status),
		zap.Int("total_validated", report.TotalValidated),
		zap.Int("total_rejected", report.TotalRejected),
		zap.Float64("total_cost_usd", report.TotalCostUSD))

	if err := reportstore.Save(cfg.Server.ReportsDir, report); err != nil {
		logger.Error("daily-runner: failed to persist report", zap.Error(err))
		os.Exit(1)
	}

	if report.Status != orchestrator.StatusCompleted {
		os.Exit(1)
	}
}

// fetchRawSignals is the orchestrator's external raw-signal dependency —
// in this deployment, the signals GraphStore already holds for the
// entity within the lookback window, re-offered for a fresh validation
// pass. A production deployment would instead point this at a live
// scraper or ingestion feed; GraphStore is the conservative default
// with zero additional wiring.
func fetchRawSignals(store graphstore.Store, lookbackDays int) orchestrator.RawSignalSource {
	return func(ctx context.Context, entityID string) ([]schema.Signal, error) {
		return store.GetEntitySignals(ctx, entityID, lookbackDays)
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
