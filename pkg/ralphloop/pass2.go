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

package ralphloop

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jordigilh/ralph-core/pkg/cascade"
	"github.com/jordigilh/ralph-core/pkg/schema"
)

type pass2Outcome struct {
	signal     schema.Signal
	rejection  *Rejection
	costUSD    float64
	tokensUsed int
	tierUsed   string
}

// runPass2 audits every Pass-1 survivor's confidence via ModelCascade,
// fanned out up to FanoutPerEntity concurrent calls (spec §4.5/§5
// ordering guarantee: Pass 1 completes for all signals before Pass 2
// begins for any of them — already true here since survivors is Pass
// 1's complete output — and Pass 2 completes for all before Pass 3).
// The third return is the batch's total ModelCascade spend, and the
// fourth its token usage broken down by tier, both regardless of
// whether an audited signal went on to be accepted or rejected.
func (l *Loop) runPass2(ctx context.Context, survivors []schema.Signal, priorSignalsByID map[string][]schema.Signal) ([]schema.Signal, []Rejection, float64, map[string]int) {
	if len(survivors) == 0 {
		return nil, nil, 0, nil
	}

	fanout := l.cfg.FanoutPerEntity
	if fanout <= 0 {
		fanout = 5
	}

	outcomes := make([]pass2Outcome, len(survivors))
	sem := semaphore.NewWeighted(int64(fanout))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, signal := range survivors {
		i, signal := i, signal
		if err := sem.Acquire(ctx, 1); err != nil {
			outcomes[i] = pass2Outcome{rejection: &Rejection{SignalID: signal.ID, Reason: RejectReasonCascadeExhausted, Detail: "context cancelled before audit"}}
			continue
		}
		group.Go(func() error {
			defer sem.Release(1)
			outcomes[i] = l.auditOne(groupCtx, signal, priorSignalsByID[signal.ID])
			return nil
		})
	}
	_ = group.Wait()

	var survivorsOut []schema.Signal
	var rejections []Rejection
	var totalCostUSD float64
	tokensByTier := map[string]int{}
	for _, o := range outcomes {
		totalCostUSD += o.costUSD
		if o.tierUsed != "" {
			tokensByTier[o.tierUsed] += o.tokensUsed
		}
		if o.rejection != nil {
			rejections = append(rejections, *o.rejection)
			continue
		}
		survivorsOut = append(survivorsOut, o.signal)
	}
	return survivorsOut, rejections, totalCostUSD, tokensByTier
}

func (l *Loop) auditOne(ctx context.Context, signal schema.Signal, priorSignals []schema.Signal) pass2Outcome {
	if !l.cfg.EnableConfidenceValidation {
		signal.ConfidenceValidation = &schema.ConfidenceValidation{
			OriginalConfidence:  signal.Confidence,
			ValidatedConfidence: signal.Confidence,
			Adjustment:          0,
			ModelUsed:           "skipped",
			ValidationTimestamp: time.Now().UTC(),
		}
		signal.ValidationPass = 2
		signal.State = schema.SignalStatePassed2
		return pass2Outcome{signal: signal}
	}

	decision, err := l.cascade.Run(ctx, signal, priorSignals, cascade.StrategyCascade)
	if err != nil {
		l.logger.Info("ralphloop: pass2 cascade exhausted", zap.String("signal_id", signal.ID), zap.Error(err))
		return pass2Outcome{rejection: &Rejection{SignalID: signal.ID, Reason: RejectReasonCascadeExhausted, Detail: err.Error()}}
	}

	adjustment := decision.Adjustment
	if adjustment > l.cfg.MaxConfidenceAdjustment {
		l.logger.Warn("ralphloop: clipping cascade adjustment above configured max",
			zap.String("signal_id", signal.ID), zap.Float64("adjustment", adjustment), zap.Float64("max", l.cfg.MaxConfidenceAdjustment))
		adjustment = l.cfg.MaxConfidenceAdjustment
	} else if adjustment < -l.cfg.MaxConfidenceAdjustment {
		l.logger.Warn("ralphloop: clipping cascade adjustment below configured min",
			zap.String("signal_id", signal.ID), zap.Float64("adjustment", adjustment), zap.Float64("max", -l.cfg.MaxConfidenceAdjustment))
		adjustment = -l.cfg.MaxConfidenceAdjustment
	}

	original := signal.Confidence
	newConfidence := schema.Clamp(original+adjustment, 0, 1)

	requiresManualReview := decision.RequiresManualReview || abs64(adjustment) >= l.cfg.ConfidenceReviewThreshold

	signal.ConfidenceValidation = &schema.ConfidenceValidation{
		OriginalConfidence:   original,
		ValidatedConfidence:  newConfidence,
		Adjustment:           adjustment,
		Rationale:            decision.Rationale,
		RequiresManualReview: requiresManualReview,
		ModelUsed:            string(decision.TierUsed),
		ValidationTimestamp:  time.Now().UTC(),
	}
	signal.Confidence = newConfidence

	if newConfidence < l.cfg.MinConfidence {
		return pass2Outcome{
			rejection:  &Rejection{SignalID: signal.ID, Reason: RejectReasonPostAuditBelowMin},
			costUSD:    decision.CostUSD,
			tokensUsed: decision.TokensUsed,
			tierUsed:   string(decision.TierUsed),
		}
	}

	signal.ValidationPass = 2
	signal.State = schema.SignalStatePassed2
	return pass2Outcome{signal: signal, costUSD: decision.CostUSD, tokensUsed: decision.TokensUsed, tierUsed: string(decision.TierUsed)}
}

func abs64(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
