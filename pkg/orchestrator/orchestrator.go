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

// Package orchestrator implements the DailyOrchestrator: the scheduled
// batch run that classifies every entity into a tier, then drains the
// tiers in priority order (premium, active, dormant), fanning each tier
// out across a bounded worker pool that calls RalphLoop once per entity.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jordigilh/ralph-core/pkg/ralphloop"
	"github.com/jordigilh/ralph-core/pkg/schema"
	"github.com/jordigilh/ralph-core/pkg/scheduler"
)

const tracerName = "github.com/jordigilh/ralph-core/pkg/orchestrator"

// Loop is the subset of ralphloop.Loop the orchestrator depends on. It is
// declared here, the consumer, rather than imported as a concrete type, so
// tests can substitute a scripted fake without standing up a GraphStore
// and ModelCascade.
type Loop interface {
	ValidateSignals(ctx context.Context, rawSignals []schema.Signal, entityID string) ralphloop.Result
}

// RawSignalSource fetches the raw, unvalidated signals for one entity.
// The signal source (the upstream scraping/enrichment pipeline) is an
// external dependency the orchestrator never owns; it is injected as a
// plain callable, the same pattern RalphLoop's own research source and
// notifier dependencies use.
type RawSignalSource func(ctx context.Context, entityID string) ([]schema.Signal, error)

// HealthCheckFunc reports whether a dependency the run cannot proceed
// without (GraphStore, the LM client) is reachable. Neither dependency's
// interface exposes a Ping/Health method of its own, so the orchestrator
// takes one callable per dependency instead of depending on a method that
// doesn't exist.
type HealthCheckFunc func(ctx context.Context) error

// RetryBufferInspector is optionally implemented by the concrete Loop
// (ralphloop.Loop) to report how many signals remain in its bounded
// retry buffer after a run. Declared here rather than folded into Loop
// so test fakes that don't model a retry buffer aren't forced to grow
// a no-op method.
type RetryBufferInspector interface {
	RetryBufferLen() int
}

// MetricsRecorder is the narrow surface the orchestrator reports into.
// pkg/metrics implements it; tests may supply a no-op or a counting fake.
type MetricsRecorder interface {
	RecordEntityOutcome(tier, status string)
	RecordCost(tier string, costUSD float64)
	RecordManualReview(tier string)
	RecordTierModelUsed(tier, model string)
}

// noopMetrics discards every call. Used when New is given a nil metrics
// recorder so the processing path never has to nil-check it.
type noopMetrics struct{}

func (noopMetrics) RecordEntityOutcome(string, string)  {}
func (noopMetrics) RecordCost(string, float64)          {}
func (noopMetrics) RecordManualReview(string)           {}
func (noopMetrics) RecordTierModelUsed(string, string) {}

// Config configures an Orchestrator's health-check retry policy. Tier
// worker-pool sizing and timeouts come from Scheduler.ResourceProfile
// instead, since those are per-tier and the Scheduler already owns them.
type Config struct {
	// HealthCheckAttempts is the number of attempts per dependency before
	// the run is aborted. Defaults to 3.
	HealthCheckAttempts int
	// HealthCheckBackoff is the delay between health-check attempts.
	// Defaults to 2s.
	HealthCheckBackoff time.Duration
}

// Orchestrator runs one DailyOrchestrator batch.
type Orchestrator struct {
	scheduler    *scheduler.Scheduler
	loop         Loop
	rawSignals   RawSignalSource
	healthChecks map[string]HealthCheckFunc
	metrics      MetricsRecorder
	cfg          Config
	logger       *zap.Logger
	tracer       trace.Tracer
}

// New constructs an Orchestrator. healthChecks is keyed by a short
// dependency name (e.g. "graphstore", "llmclient") used in log lines and
// the abort reason if that dependency never comes up. metrics may be nil.
func New(sched *scheduler.Scheduler, loop Loop, rawSignals RawSignalSource, healthChecks map[string]HealthCheckFunc, metrics MetricsRecorder, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.HealthCheckAttempts <= 0 {
		cfg.HealthCheckAttempts = 3
	}
	if cfg.HealthCheckBackoff <= 0 {
		cfg.HealthCheckBackoff = 2 * time.Second
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Orchestrator{
		scheduler:    sched,
		loop:         loop,
		rawSignals:   rawSignals,
		healthChecks: healthChecks,
		metrics:      metrics,
		cfg:          cfg,
		logger:       logger,
		tracer:       otel.Tracer(tracerName),
	}
}

// tierOrder is the fixed priority drain order: premium first, so the
// entities most likely to carry an imminent RFP get processed and
// reported on even if the run is later cancelled or runs out of time.
var tierOrder = []string{scheduler.TierPremium, scheduler.TierActive, scheduler.TierDormant}

// RunDaily executes one full batch: pre-flight health check, tier
// classification, then a tier-by-tier, worker-pool-bounded fan-out of
// RalphLoop.ValidateSignals over every scheduled entity. It never returns
// an error; every failure mode is recorded on the returned Report instead,
// since a partial report is always more useful than no report.
func (o *Orchestrator) RunDaily(ctx context.Context) Report {
	runID := uuid.New().String()
	ctx, span := o.tracer.Start(ctx, "orchestrator.RunDaily")
	defer span.End()
	span.SetAttributes(attribute.String("orchestrator.run_id", runID))

	report := Report{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Status:    StatusCompleted,
	}

	if reason, ok := o.checkHealth(ctx); !ok {
		report.Status = StatusAborted
		report.AbortReason = reason
		report.FinishedAt = time.Now().UTC()
		span.SetStatus(codes.Error, reason)
		o.logger.Error("orchestrator: aborting run, dependency unhealthy", zap.String("run_id", runID), zap.String("reason", reason))
		return report
	}

	scheduled, err := o.scheduler.ClassifyEntities(ctx)
	if err != nil {
		report.Status = StatusAborted
		report.AbortReason = fmt.Sprintf("entity classification failed: %v", err)
		report.FinishedAt = time.Now().UTC()
		span.SetStatus(codes.Error, report.AbortReason)
		o.logger.Error("orchestrator: aborting run, classification failed", zap.String("run_id", runID), zap.Error(err))
		return report
	}

	byTier := groupByTier(scheduled)

	for _, tier := range tierOrder {
		entities := byTier[tier]
		if len(entities) == 0 {
			continue
		}

		if ctx.Err() != nil {
			report.Status = StatusCancelled
			report.AbortReason = fmt.Sprintf("context cancelled before processing tier %q: %v", tier, ctx.Err())
			o.logger.Warn("orchestrator: run cancelled mid-batch", zap.String("run_id", runID), zap.String("tier", tier))
			break
		}

		o.logger.Info("orchestrator: processing tier", zap.String("run_id", runID), zap.String("tier", tier), zap.Int("entities", len(entities)))
		outcomes := o.runTier(ctx, tier, entities)
		report.Outcomes = append(report.Outcomes, outcomes...)
	}

	if inspector, ok := o.loop.(RetryBufferInspector); ok {
		if n := inspector.RetryBufferLen(); n > 0 {
			report.UnrecoverableErrors = append(report.UnrecoverableErrors,
				fmt.Sprintf("retry buffer: %d signals still pending persistence after this run's drain attempts", n))
		}
	}

	report.FinishedAt = time.Now().UTC()
	report.summarize()
	o.logger.Info("orchestrator: run finished",
		zap.String("run_id", runID), zap.String("status", report.Status),
		zap.Int("validated", report.TotalValidated), zap.Int("rejected", report.TotalRejected),
		zap.Float64("cost_usd", report.TotalCostUSD))
	return report
}

// checkHealth retries every registered dependency check up to
// Config.HealthCheckAttempts times, aborting the whole run on the first
// dependency that never recovers.
func (o *Orchestrator) checkHealth(ctx context.Context) (reason string, healthy bool) {
	for name, check := range o.healthChecks {
		var lastErr error
		for attempt := 0; attempt < o.cfg.HealthCheckAttempts; attempt++ {
			if attempt > 0 {
				select {
				case <-time.After(o.cfg.HealthCheckBackoff):
				case <-ctx.Done():
					return fmt.Sprintf("health check %q: %v", name, ctx.Err()), false
				}
			}
			if err := check(ctx); err != nil {
				lastErr = err
				o.logger.Warn("orchestrator: health check failed, retrying", zap.String("dependency", name), zap.Int("attempt", attempt+1), zap.Error(err))
				continue
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			return fmt.Sprintf("health check %q failed after %d attempts: %v", name, o.cfg.HealthCheckAttempts, lastErr), false
		}
	}
	return "", true
}

// runTier fans out across entities, bounded to the tier's configured
// worker count. It deliberately uses a plain errgroup.Group rather than
// errgroup.WithContext: one entity timing out or erroring must never
// cancel its siblings in the same tier, so every goroutine below always
// returns nil to the group and records its real outcome into its own
// slot instead.
func (o *Orchestrator) runTier(ctx context.Context, tier string, entities []scheduler.ScheduledEntity) []EntityOutcome {
	profile := entities[0].Profile
	sem := semaphore.NewWeighted(int64(profile.Workers))

	outcomes := make([]EntityOutcome, len(entities))
	var group errgroup.Group

	for i, entity := range entities {
		i, entity := i, entity
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = EntityOutcome{EntityID: entity.EntityID, Tier: tier, Status: StatusCancelled, Error: err.Error()}
			continue
		}
		group.Go(func() error {
			defer sem.Release(1)
			outcomes[i] = o.processEntity(ctx, tier, entity)
			return nil
		})
	}
	_ = group.Wait()

	return outcomes
}

// processEntity fetches one entity's raw signals and runs them through
// RalphLoop, bounded by the tier's configured per-entity timeout.
func (o *Orchestrator) processEntity(ctx context.Context, tier string, entity scheduler.ScheduledEntity) EntityOutcome {
	timeout := time.Duration(entity.Profile.TimeoutSeconds) * time.Second
	entityCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entityCtx, span := o.tracer.Start(entityCtx, "orchestrator.processEntity")
	defer span.End()
	span.SetAttributes(attribute.String("orchestrator.entity_id", entity.EntityID), attribute.String("orchestrator.tier", tier))

	outcome := EntityOutcome{EntityID: entity.EntityID, Tier: tier, ModelUsed: map[string]int{}, RejectedByReason: map[string]int{}, TokensByTier: map[string]int{}}

	raw, err := o.rawSignals(entityCtx, entity.EntityID)
	if err != nil {
		outcome.Status = statusForErr(entityCtx, err)
		outcome.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.RecordEntityOutcome(tier, outcome.Status)
		return outcome
	}

	result := o.loop.ValidateSignals(entityCtx, raw, entity.EntityID)

	outcome.ValidatedCount = len(result.Validated)
	outcome.RejectedCount = len(result.Rejections)
	outcome.CostUSD = result.CostUSD
	o.metrics.RecordCost(tier, result.CostUSD)

	for tierUsed, tokens := range result.TokensByTier {
		outcome.TokensByTier[tierUsed] += tokens
	}
	for _, rejection := range result.Rejections {
		outcome.RejectedByReason[string(rejection.Reason)]++
		if rejection.Reason == ralphloop.RejectReasonPersistFailure {
			outcome.UnrecoverableErrors = append(outcome.UnrecoverableErrors,
				fmt.Sprintf("entity %s signal %s: %s", entity.EntityID, rejection.SignalID, rejection.Detail))
		}
	}

	for _, signal := range result.Validated {
		if signal.ConfidenceValidation == nil {
			continue
		}
		if signal.ConfidenceValidation.RequiresManualReview {
			outcome.ManualReviewCount++
			o.metrics.RecordManualReview(tier)
		}
		model := signal.ConfidenceValidation.ModelUsed
		if model != "" {
			outcome.ModelUsed[model]++
			o.metrics.RecordTierModelUsed(tier, model)
		}
	}

	if entityCtx.Err() != nil {
		outcome.Status = statusForErr(entityCtx, entityCtx.Err())
	} else {
		outcome.Status = StatusCompleted
	}
	o.metrics.RecordEntityOutcome(tier, outcome.Status)
	return outcome
}

func statusForErr(ctx context.Context, err error) string {
	if ctx.Err() == context.DeadlineExceeded {
		return StatusTimedOut
	}
	if ctx.Err() == context.Canceled {
		return StatusCancelled
	}
	return StatusFailed
}

func groupByTier(scheduled []scheduler.ScheduledEntity) map[string][]scheduler.ScheduledEntity {
	byTier := make(map[string][]scheduler.ScheduledEntity, len(tierOrder))
	for _, e := range scheduled {
		byTier[e.Profile.Tier] = append(byTier[e.Profile.Tier], e)
	}
	return byTier
}
