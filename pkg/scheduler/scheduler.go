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

// Package scheduler implements PriorityScheduler: daily entity tier
// classification and the resource profile lookup DailyOrchestrator uses
// to size each tier's worker pool.
package scheduler

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/pkg/graphstore"
	"github.com/jordigilh/ralph-core/pkg/schema"
)

const (
	TierPremium = "premium"
	TierActive  = "active"
	TierDormant = "dormant"

	tierWindowDays = 30
)

// Config is the tunable resource profile table, keyed by tier. Defaults
// mirror spec.md §4.7's table.
type Config struct {
	TierPoolSizes      map[string]int
	TierTimeoutSeconds map[string]int
	TierStrategy       map[string]string
	ScrapingSources    map[string][]string
}

// ResourceProfile is the per-entity processing profile DailyOrchestrator
// uses to size a tier's worker pool and pick a ModelCascade strategy.
type ResourceProfile struct {
	Tier            string
	Workers         int
	TimeoutSeconds  int
	ModelStrategy   string
	ScrapingSources []string
}

// ScheduledEntity is one entity in the day's ordered processing sequence.
type ScheduledEntity struct {
	EntityID        string
	SignalFrequency float64
	RFPDensity      float64
	Profile         ResourceProfile
}

// Scheduler assigns tiers and produces the day's ordered entity sequence.
type Scheduler struct {
	store  graphstore.Store
	cfg    Config
	logger *zap.Logger
}

func New(store graphstore.Store, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.TierPoolSizes == nil {
		cfg.TierPoolSizes = map[string]int{TierPremium: 10, TierActive: 5, TierDormant: 2}
	}
	if cfg.TierTimeoutSeconds == nil {
		cfg.TierTimeoutSeconds = map[string]int{TierPremium: 300, TierActive: 600, TierDormant: 900}
	}
	if cfg.TierStrategy == nil {
		cfg.TierStrategy = map[string]string{TierPremium: "cascade", TierActive: "cascade", TierDormant: "small_only"}
	}
	if cfg.ScrapingSources == nil {
		cfg.ScrapingSources = map[string][]string{
			TierPremium: {"all"},
			TierActive:  {"limited"},
			TierDormant: {"minimal"},
		}
	}
	return &Scheduler{store: store, cfg: cfg, logger: logger}
}

// ResourceProfile returns the resource profile for tier, defaulting to
// the dormant profile for an unrecognized tier (the most conservative
// allocation) rather than panicking.
func (s *Scheduler) ResourceProfile(tier string) ResourceProfile {
	workers, ok := s.cfg.TierPoolSizes[tier]
	if !ok {
		tier = TierDormant
		workers = s.cfg.TierPoolSizes[TierDormant]
	}
	return ResourceProfile{
		Tier:            tier,
		Workers:         workers,
		TimeoutSeconds:  s.cfg.TierTimeoutSeconds[tier],
		ModelStrategy:   s.cfg.TierStrategy[tier],
		ScrapingSources: s.cfg.ScrapingSources[tier],
	}
}

// ClassifyEntities assigns (or reassigns) a tier to every entity in
// GraphStore based on its last 30 days of signals, persists the
// assignment via UpdateEntityTier, and returns the day's single finite
// processing sequence: all premium entities (stable order by entity_id),
// then all active, then all dormant.
func (s *Scheduler) ClassifyEntities(ctx context.Context) ([]ScheduledEntity, error) {
	entities, err := s.store.GetAllEntities(ctx)
	if err != nil {
		return nil, err
	}

	var premium, active, dormant []ScheduledEntity

	for _, entity := range entities {
		signals, err := s.store.GetEntitySignals(ctx, entity.EntityID, tierWindowDays)
		if err != nil {
			s.logger.Warn("scheduler: failed to read signals for tier classification, defaulting to dormant",
				zap.String("entity_id", entity.EntityID), zap.Error(err))
			degraded := s.scheduledEntity(entity.EntityID, 0, 0)
			degraded.Profile = s.ResourceProfile(TierDormant)
			dormant = append(dormant, degraded)
			continue
		}

		frequency, density := classificationMetrics(signals)
		tier := assignTier(frequency, density)

		scheduled := s.scheduledEntity(entity.EntityID, frequency, density)
		scheduled.Profile = s.ResourceProfile(tier)

		if err := s.store.UpdateEntityTier(ctx, entity.EntityID, tier, map[string]interface{}{
			"signal_frequency": frequency,
			"rfp_density":      density,
			"tier_assigned_at": time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			s.logger.Error("scheduler: failed to persist tier assignment", zap.String("entity_id", entity.EntityID), zap.Error(err))
		}

		switch tier {
		case TierPremium:
			premium = append(premium, scheduled)
		case TierActive:
			active = append(active, scheduled)
		default:
			dormant = append(dormant, scheduled)
		}
	}

	sortByEntityID(premium)
	sortByEntityID(active)
	sortByEntityID(dormant)

	ordered := make([]ScheduledEntity, 0, len(premium)+len(active)+len(dormant))
	ordered = append(ordered, premium...)
	ordered = append(ordered, active...)
	ordered = append(ordered, dormant...)
	return ordered, nil
}

func (s *Scheduler) scheduledEntity(entityID string, frequency, density float64) ScheduledEntity {
	return ScheduledEntity{EntityID: entityID, SignalFrequency: frequency, RFPDensity: density}
}

func sortByEntityID(entities []ScheduledEntity) {
	sort.Slice(entities, func(i, j int) bool { return entities[i].EntityID < entities[j].EntityID })
}

// classificationMetrics computes signal_frequency (signals/day over the
// 30-day window) and rfp_density (share of those signals that are
// RFP_DETECTED), per spec.md §4.7.
func classificationMetrics(signals []schema.Signal) (frequency, density float64) {
	if len(signals) == 0 {
		return 0, 0
	}

	var rfpCount int
	for _, sig := range signals {
		if sig.Type == schema.SignalTypeRFPDetected {
			rfpCount++
		}
	}

	frequency = float64(len(signals)) / float64(tierWindowDays)
	density = float64(rfpCount) / float64(len(signals))
	return frequency, density
}

// assignTier applies spec.md §4.7's assignment rule in order: premium,
// else active, else dormant.
func assignTier(frequency, density float64) string {
	if frequency > 0.33 && density > 0.3 {
		return TierPremium
	}
	if frequency > 0.07 {
		return TierActive
	}
	return TierDormant
}
