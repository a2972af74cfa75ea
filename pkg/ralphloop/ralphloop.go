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

// Package ralphloop implements the 3-pass signal validator: rule-based
// filtering, LM-assisted confidence audit, and final confirmation with
// deduplication. It is the only component that writes validated signals
// to GraphStore.
package ralphloop

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/pkg/cascade"
	"github.com/jordigilh/ralph-core/pkg/graphstore"
	"github.com/jordigilh/ralph-core/pkg/notification"
	"github.com/jordigilh/ralph-core/pkg/research"
	"github.com/jordigilh/ralph-core/pkg/schema"
)

// CascadeRunner is the subset of *cascade.Cascade RalphLoop depends on,
// so tests can substitute a scripted fake.
type CascadeRunner interface {
	Run(ctx context.Context, signal schema.Signal, priorSignals []schema.Signal, strategy cascade.Strategy) (cascade.Decision, error)
}

// Config is the closed configuration set from spec §4.5, all with
// defaults matching internal/config's RalphConfig.
type Config struct {
	MinEvidence                int
	MinConfidence              float64
	MinEvidenceCredibility     float64
	MaxConfidenceAdjustment    float64
	ConfidenceReviewThreshold  float64
	EnableConfidenceValidation bool
	DedupSimilarityThreshold   float64
	DedupWindowDays            int
	Pass1EnrichmentLookbackDays int
	FanoutPerEntity            int
	DedupWeightType            float64
	DedupWeightTemporal        float64
	DedupWeightURL             float64
	DedupWeightText            float64
	RetryBufferCapacity        int
}

// RejectReason is the closed set of rejection reasons surfaced in the
// final report and structured logs.
type RejectReason string

const (
	RejectReasonMalformedInput        RejectReason = "malformed_input"
	RejectReasonBelowConfidence       RejectReason = "below_confidence"
	RejectReasonInsufficientEvidence  RejectReason = "insufficient_evidence"
	RejectReasonLowCredibility        RejectReason = "low_credibility"
	RejectReasonCascadeExhausted      RejectReason = "cascade_exhausted"
	RejectReasonPostAuditBelowMin     RejectReason = "post_audit_below_confidence"
	RejectReasonDuplicate             RejectReason = "duplicate"
	RejectReasonPersistFailure        RejectReason = "persist_failure"
)

// Rejection records why a signal did not survive validate_signals.
type Rejection struct {
	SignalID string
	Reason   RejectReason
	Detail   string
}

// Result is the outcome of one validate_signals call.
type Result struct {
	Validated  []schema.Signal
	Rejections []Rejection
	// CostUSD is this call's total ModelCascade spend across every Pass-2
	// audit, whether or not the audited signal was ultimately accepted.
	CostUSD float64
	// TokensByTier is this call's Pass-2 token usage keyed by the cascade
	// tier that served each audit (e.g. {"small": 812, "medium": 140}),
	// regardless of whether the audited signal was ultimately accepted.
	TokensByTier map[string]int
}

// Loop wires GraphStore, ModelCascade, the optional research source, the
// optional notifier, and the compiled Pass 1 rule policy into the 3-pass
// validator.
type Loop struct {
	store    graphstore.Store
	cascade  CascadeRunner
	research research.Source // nil-able, per spec §9 Open Question
	notifier notification.Notifier // nil-able
	rules    *ruleEvaluator
	cfg      Config
	logger   *zap.Logger
	buffer   *retryBuffer
}

// New constructs a Loop. researchSource and notifier may be nil.
func New(ctx context.Context, store graphstore.Store, cascadeRunner CascadeRunner, researchSource research.Source, notifier notification.Notifier, cfg Config, logger *zap.Logger) (*Loop, error) {
	rules, err := newRuleEvaluator(ctx)
	if err != nil {
		return nil, err
	}

	capacity := cfg.RetryBufferCapacity
	if capacity <= 0 {
		capacity = 1000
	}

	return &Loop{
		store:    store,
		cascade:  cascadeRunner,
		research: researchSource,
		notifier: notifier,
		rules:    rules,
		cfg:      cfg,
		logger:   logger,
		buffer:   newRetryBuffer(capacity),
	}, nil
}

// ValidateSignals is the public contract: validate_signals(raw_signals,
// entity_id) → sequence of validated Signal. Every returned signal has
// validated=true, validation_pass=3, confidence >= min_confidence, a
// ConfidenceValidation attached, and has already been upserted into
// GraphStore. Rejected signals are logged but not returned.
func (l *Loop) ValidateSignals(ctx context.Context, rawSignals []schema.Signal, entityID string) Result {
	if l.buffer.len() > 0 {
		drained, stillFailing := l.DrainRetryBuffer(ctx)
		l.logger.Info("ralphloop: drained retry buffer at start of validate_signals",
			zap.String("entity_id", entityID), zap.Int("drained", drained), zap.Int("still_failing", stillFailing))
	}

	result := Result{}

	pass1Survivors, pass1Rejections, priorSignalsBySignal := l.runPass1(ctx, rawSignals, entityID)
	result.Rejections = append(result.Rejections, pass1Rejections...)

	pass2Survivors, pass2Rejections, pass2CostUSD, pass2TokensByTier := l.runPass2(ctx, pass1Survivors, priorSignalsBySignal)
	result.Rejections = append(result.Rejections, pass2Rejections...)
	result.CostUSD = pass2CostUSD
	result.TokensByTier = pass2TokensByTier

	pass3Survivors, pass3Rejections := l.runPass3(ctx, pass2Survivors, entityID)
	result.Rejections = append(result.Rejections, pass3Rejections...)

	var manualReview []schema.Signal
	for _, signal := range pass3Survivors {
		if err := l.persist(ctx, signal); err != nil {
			result.Rejections = append(result.Rejections, Rejection{
				SignalID: signal.ID,
				Reason:   RejectReasonPersistFailure,
				Detail:   err.Error(),
			})
			continue
		}
		result.Validated = append(result.Validated, signal)
		if signal.ConfidenceValidation != nil && signal.ConfidenceValidation.RequiresManualReview {
			manualReview = append(manualReview, signal)
		}
	}

	if len(manualReview) > 0 {
		tier := "unknown"
		if entity, err := l.lookupEntityTier(ctx, entityID); err == nil {
			tier = entity
		}
		notification.SafeDeliver(ctx, l.notifier, l.logger, tier, manualReview)
	}

	for _, r := range result.Rejections {
		l.logger.Info("ralphloop: signal rejected",
			zap.String("signal_id", r.SignalID), zap.String("reason", string(r.Reason)), zap.String("detail", r.Detail))
	}

	return result
}

func (l *Loop) lookupEntityTier(ctx context.Context, entityID string) (string, error) {
	entities, err := l.store.GetAllEntities(ctx)
	if err != nil {
		return "", err
	}
	for _, e := range entities {
		if e.EntityID == entityID {
			return e.Tier, nil
		}
	}
	return "", fmt.Errorf("entity %s not found", entityID)
}

// persist upserts a Pass-3 survivor with retry (base 2s, factor 2, cap
// 8s, max 3), falling back to the bounded in-memory retry buffer on
// sustained StoreUnavailable rather than dropping the signal.
func (l *Loop) persist(ctx context.Context, signal schema.Signal) error {
	signal.State = schema.SignalStatePersisted

	const maxAttempts = 3
	backoff := 2 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := l.store.UpsertSignal(ctx, signal)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, graphstore.ErrSchemaInvalid) {
			l.logger.Error("ralphloop: schema-invalid signal dropped, not retried", zap.String("signal_id", signal.ID), zap.Error(err))
			return err
		}

		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > 8*time.Second {
			backoff = 8 * time.Second
		}
	}

	if !l.buffer.push(signal) {
		l.logger.Error("ralphloop: retry buffer full, signal permanently lost", zap.String("signal_id", signal.ID))
	} else {
		l.logger.Warn("ralphloop: signal enqueued to retry buffer after store write failures",
			zap.String("signal_id", signal.ID), zap.Error(lastErr))
	}
	return lastErr
}

// DrainRetryBuffer retries every buffered signal once. Called at the
// start of every ValidateSignals call, so a signal that failed to
// persist during one entity's processing gets retried on the Loop's
// next call for any entity, per spec §4.5 Persistence: "the buffer is
// drained on a later batch".
func (l *Loop) DrainRetryBuffer(ctx context.Context) (drained int, stillFailing int) {
	pending := l.buffer.drainAll()
	for _, signal := range pending {
		if err := l.store.UpsertSignal(ctx, signal); err != nil {
			l.buffer.push(signal)
			stillFailing++
			continue
		}
		drained++
	}
	return drained, stillFailing
}

// RetryBufferLen reports how many signals are currently buffered,
// pending a later drain.
func (l *Loop) RetryBufferLen() int {
	return l.buffer.len()
}
