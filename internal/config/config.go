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

// Package config loads the closed configuration surface described in
// SPEC_FULL.md §1.1 / spec.md §6.5 from a YAML file, applies environment
// overrides, and validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP ports for the webhook, metrics, and report
// entry points, plus the filesystem directory the daily runner and the
// report server exchange daily reports through.
type ServerConfig struct {
	WebhookPort string `yaml:"webhook_port"`
	MetricsPort string `yaml:"metrics_port"`
	ReportPort  string `yaml:"report_port"`
	ReportsDir  string `yaml:"reports_dir"`
}

// RalphConfig is the closed RalphLoop configuration surface (spec.md §4.5,
// §6.5).
type RalphConfig struct {
	MinEvidence                 int     `yaml:"min_evidence"`
	MinConfidence                float64 `yaml:"min_confidence"`
	MinEvidenceCredibility       float64 `yaml:"min_evidence_credibility"`
	MaxConfidenceAdjustment      float64 `yaml:"max_confidence_adjustment"`
	ConfidenceReviewThreshold    float64 `yaml:"confidence_review_threshold"`
	EnableConfidenceValidation   bool    `yaml:"enable_confidence_validation"`
	DedupSimilarityThreshold     float64 `yaml:"dedup_similarity_threshold"`
	DedupWindowDays              int     `yaml:"dedup_window_days"`
	Pass1EnrichmentLookbackDays  int     `yaml:"pass1_enrichment_lookback_days"`
	FanoutPerEntity              int     `yaml:"fanout_per_entity"`
	DedupWeightType              float64 `yaml:"dedup_weight_type"`
	DedupWeightTemporal          float64 `yaml:"dedup_weight_temporal"`
	DedupWeightURL               float64 `yaml:"dedup_weight_url"`
	DedupWeightText              float64 `yaml:"dedup_weight_text"`
	RetryBufferCapacity          int     `yaml:"retry_buffer_capacity"`
}

// CascadeConfig configures the ModelCascade (spec.md §4.4).
type CascadeConfig struct {
	Provider   string             `yaml:"provider"` // "anthropic" or "bedrock"
	Tiers      []string           `yaml:"tiers"`     // ordered, e.g. ["small","medium","large"]
	Models     map[string]string  `yaml:"models"`    // tier -> concrete model id
	CostPerMTok map[string]float64 `yaml:"cost_per_mtok_usd"`
	APIKey     string             `yaml:"api_key"`
	Region     string             `yaml:"region"`
	// SmallFailureThreshold is the consecutive-failure count that shifts
	// the cascade's starting tier to medium for the rest of the batch.
	SmallFailureThreshold int `yaml:"small_failure_threshold"`
}

// GraphStoreConfig configures the GraphStore adapter (spec.md §4.2).
type GraphStoreConfig struct {
	Driver         string        `yaml:"driver"` // "memory" or "postgres"
	DSN            string        `yaml:"dsn"`
	MigrationsPath string        `yaml:"migrations_path"`
	RedisAddr      string        `yaml:"redis_addr"`
	RedisCacheTTL  time.Duration `yaml:"redis_cache_ttl"`
}

// SchedulerConfig configures PriorityScheduler resource profiles (spec.md
// §4.7).
type SchedulerConfig struct {
	TierPoolSizes      map[string]int    `yaml:"tier_pool_sizes"`
	TierTimeoutSeconds map[string]int    `yaml:"tier_timeout_seconds"`
	TierStrategy       map[string]string `yaml:"tier_strategy"`
}

// WebhookConfig configures the inbound signal webhook's signature
// verification and CORS policy.
type WebhookConfig struct {
	SigningSecret   string   `yaml:"signing_secret"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	SourceCredibility map[string]float64 `yaml:"source_credibility"`
}

// NotificationConfig configures the manual-review Slack notifier.
type NotificationConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration object.
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Ralph        RalphConfig         `yaml:"ralph"`
	Cascade      CascadeConfig       `yaml:"cascade"`
	GraphStore   GraphStoreConfig    `yaml:"graph_store"`
	Scheduler    SchedulerConfig     `yaml:"scheduler"`
	Webhook      WebhookConfig      `yaml:"webhook"`
	Notification NotificationConfig `yaml:"notification"`
	Logging      LoggingConfig      `yaml:"logging"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			WebhookPort: "8080",
			MetricsPort: "9090",
			ReportPort:  "8090",
			ReportsDir:  "./reports",
		},
		Ralph: RalphConfig{
			MinEvidence:                3,
			MinConfidence:              0.7,
			MinEvidenceCredibility:     0.6,
			MaxConfidenceAdjustment:    0.15,
			ConfidenceReviewThreshold:  0.2,
			EnableConfidenceValidation: true,
			DedupSimilarityThreshold:   0.85,
			DedupWindowDays:            7,
			Pass1EnrichmentLookbackDays: 30,
			FanoutPerEntity:            5,
			DedupWeightType:            0.4,
			DedupWeightTemporal:        0.2,
			DedupWeightURL:             0.2,
			DedupWeightText:            0.2,
			RetryBufferCapacity:        1000,
		},
		Cascade: CascadeConfig{
			Provider: "anthropic",
			Tiers:    []string{"small", "medium", "large"},
			Models: map[string]string{
				"small":  "claude-haiku-4-5",
				"medium": "claude-sonnet-4-5",
				"large":  "claude-opus-4-5",
			},
			CostPerMTok: map[string]float64{
				"small":  0.8,
				"medium": 3.0,
				"large":  15.0,
			},
			SmallFailureThreshold: 3,
		},
		GraphStore: GraphStoreConfig{
			Driver:        "memory",
			RedisCacheTTL: 5 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			TierPoolSizes: map[string]int{
				"premium": 10,
				"active":  5,
				"dormant": 2,
			},
			TierTimeoutSeconds: map[string]int{
				"premium": 300,
				"active":  600,
				"dormant": 900,
			},
			TierStrategy: map[string]string{
				"premium": "cascade",
				"active":  "cascade",
				"dormant": "small_only",
			},
		},
		Webhook: WebhookConfig{
			AllowedOrigins: []string{"*"},
			SourceCredibility: map[string]float64{
				"linkedin":  0.8,
				"press":     0.9,
				"sec_filing": 0.95,
				"blog":      0.5,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads, parses, defaults, overrides from environment, and validates
// the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("CASCADE_PROVIDER"); v != "" {
		cfg.Cascade.Provider = v
	}
	if v := os.Getenv("CASCADE_API_KEY"); v != "" {
		cfg.Cascade.APIKey = v
	}
	if v := os.Getenv("WEBHOOK_PORT"); v != "" {
		cfg.Server.WebhookPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("REPORT_PORT"); v != "" {
		cfg.Server.ReportPort = v
	}
	if v := os.Getenv("REPORTS_DIR"); v != "" {
		cfg.Server.ReportsDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("GRAPH_STORE_DSN"); v != "" {
		cfg.GraphStore.DSN = v
	}
	if v := os.Getenv("WEBHOOK_SIGNING_SECRET"); v != "" {
		cfg.Webhook.SigningSecret = v
	}
	if v := os.Getenv("ENABLE_CONFIDENCE_VALIDATION"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ENABLE_CONFIDENCE_VALIDATION value %q: %w", v, err)
		}
		cfg.Ralph.EnableConfidenceValidation = b
	}
	return nil
}

func validate(cfg *Config) error {
	switch cfg.Cascade.Provider {
	case "anthropic", "bedrock":
	default:
		return fmt.Errorf("unsupported cascade provider: %s", cfg.Cascade.Provider)
	}

	if len(cfg.Cascade.Tiers) == 0 {
		return fmt.Errorf("cascade tiers are required")
	}
	for _, tier := range cfg.Cascade.Tiers {
		if _, ok := cfg.Cascade.Models[tier]; !ok {
			return fmt.Errorf("cascade tier %q has no model mapping", tier)
		}
	}

	if cfg.Ralph.MinEvidence <= 0 {
		return fmt.Errorf("ralph min_evidence must be greater than 0")
	}
	if cfg.Ralph.MinConfidence < 0 || cfg.Ralph.MinConfidence > 1 {
		return fmt.Errorf("ralph min_confidence must be between 0.0 and 1.0")
	}
	if cfg.Ralph.MaxConfidenceAdjustment <= 0 || cfg.Ralph.MaxConfidenceAdjustment > 1 {
		return fmt.Errorf("ralph max_confidence_adjustment must be between 0.0 and 1.0")
	}
	if cfg.Ralph.FanoutPerEntity <= 0 {
		return fmt.Errorf("ralph fanout_per_entity must be greater than 0")
	}

	switch cfg.GraphStore.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unsupported graph store driver: %s", cfg.GraphStore.Driver)
	}
	if cfg.GraphStore.Driver == "postgres" && cfg.GraphStore.DSN == "" {
		return fmt.Errorf("graph store dsn is required for postgres driver")
	}

	for _, tier := range []string{"premium", "active", "dormant"} {
		if cfg.Scheduler.TierPoolSizes[tier] <= 0 {
			return fmt.Errorf("scheduler tier_pool_sizes[%s] must be greater than 0", tier)
		}
		if cfg.Scheduler.TierTimeoutSeconds[tier] <= 0 {
			return fmt.Errorf("scheduler tier_timeout_seconds[%s] must be greater than 0", tier)
		}
	}

	return nil
}

// Watch reloads the configuration file whenever it changes on disk and
// invokes onChange with the freshly loaded Config. It returns a stop
// function that closes the underlying watcher.
func Watch(path string, onChange func(*Config)) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start config watcher: %w", err)
	}

	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config file: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(path)
				if err != nil {
					continue
				}
				onChange(cfg)
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}
