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
	"fmt"

	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

const maxEnrichmentSignals = 2

// runPass1 applies rule-based filtering to every raw signal in input
// order, enriching signals short on evidence before the final
// pass/reject decision. It returns Pass-1 survivors alongside the prior
// signals fetched for each (reused as Pass 2 prompt context), and any
// rejections.
func (l *Loop) runPass1(ctx context.Context, rawSignals []schema.Signal, entityID string) ([]schema.Signal, []Rejection, map[string][]schema.Signal) {
	var survivors []schema.Signal
	var rejections []Rejection
	priorByID := make(map[string][]schema.Signal, len(rawSignals))

	ruleCfg := ruleConfig{
		MinConfidence:          l.cfg.MinConfidence,
		MinEvidence:            l.cfg.MinEvidence,
		MinEvidenceCredibility: l.cfg.MinEvidenceCredibility,
	}

	lookback := l.cfg.Pass1EnrichmentLookbackDays
	if lookback <= 0 {
		lookback = 30
	}

	for _, raw := range rawSignals {
		signal := raw

		if err := signal.Validate(); err != nil {
			rejections = append(rejections, Rejection{SignalID: signal.ID, Reason: RejectReasonMalformedInput, Detail: err.Error()})
			continue
		}

		decision, err := l.rules.evaluate(ctx, signal, ruleCfg)
		if err != nil {
			l.logger.Error("ralphloop: pass1 rule evaluation failed", zap.String("signal_id", signal.ID), zap.Error(err))
			rejections = append(rejections, Rejection{SignalID: signal.ID, Reason: RejectReasonMalformedInput, Detail: err.Error()})
			continue
		}

		var priorSignals []schema.Signal

		if !decision.Pass && decision.Reason == "insufficient_evidence" {
			priorSignals = l.fetchPriorSignals(ctx, signal.ID, entityID, lookback)
			signal.Evidence = append(signal.Evidence, enrichmentEvidence(signal, priorSignals)...)

			if l.research != nil {
				if marketEvidence, err := l.research.Enrich(ctx, entityID); err != nil {
					l.logger.Warn("ralphloop: research source enrichment failed, continuing without it",
						zap.String("signal_id", signal.ID), zap.Error(err))
				} else if marketEvidence != nil {
					signal.Evidence = append(signal.Evidence, *marketEvidence)
				}
			}

			decision, err = l.rules.evaluate(ctx, signal, ruleCfg)
			if err != nil {
				l.logger.Error("ralphloop: pass1 re-evaluation after enrichment failed", zap.String("signal_id", signal.ID), zap.Error(err))
				rejections = append(rejections, Rejection{SignalID: signal.ID, Reason: RejectReasonMalformedInput, Detail: err.Error()})
				continue
			}
		}

		if !decision.Pass {
			rejections = append(rejections, Rejection{SignalID: signal.ID, Reason: RejectReason(decision.Reason)})
			continue
		}

		signal.ValidationPass = 1
		signal.State = schema.SignalStatePassed1

		if priorSignals == nil {
			priorSignals = l.fetchPriorSignals(ctx, signal.ID, entityID, lookback)
		}
		priorByID[signal.ID] = priorSignals

		meanCredibility := meanEvidenceCredibility(signal.Evidence)
		l.logger.Info("ralphloop: pass1 survived",
			zap.Int("pass", 1), zap.Bool("survived", true), zap.String("entity_id", entityID),
			zap.String("signal_id", signal.ID), zap.Int("evidence_count", len(signal.Evidence)),
			zap.Float64("mean_credibility", meanCredibility))

		survivors = append(survivors, signal)
	}

	return survivors, rejections, priorByID
}

// fetchPriorSignals queries GraphStore for prior signals of entityID.
// A store read failure here is a degradation, not a signal failure: log
// and proceed with whatever evidence the signal already carries.
func (l *Loop) fetchPriorSignals(ctx context.Context, signalID, entityID string, lookbackDays int) []schema.Signal {
	prior, err := l.store.GetEntitySignals(ctx, entityID, lookbackDays)
	if err != nil {
		l.logger.Warn("ralphloop: store read failed during pass1 enrichment, continuing without corroboration",
			zap.String("signal_id", signalID), zap.String("entity_id", entityID), zap.Error(err))
		return nil
	}
	return prior
}

// enrichmentEvidence synthesizes up to maxEnrichmentSignals corroboration
// evidence items from prior signals of the same entity.
func enrichmentEvidence(signal schema.Signal, priorSignals []schema.Signal) []schema.Evidence {
	var out []schema.Evidence
	for _, prior := range priorSignals {
		if prior.ID == signal.ID {
			continue
		}
		out = append(out, schema.Evidence{
			Source:           "corroboration",
			CredibilityScore: 0.75,
			ExtractedText:    fmt.Sprintf("corroborated by prior signal %s (%s)", prior.ID, prior.Type),
			Type:             "corroboration",
		})
		if len(out) >= maxEnrichmentSignals {
			break
		}
	}
	return out
}

func meanEvidenceCredibility(evidence []schema.Evidence) float64 {
	if len(evidence) == 0 {
		return 0
	}
	var sum float64
	for _, e := range evidence {
		sum += e.CredibilityScore
	}
	return sum / float64(len(evidence))
}
