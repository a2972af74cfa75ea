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
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

// runPass3 re-checks confidence and performs near-duplicate detection
// against prior signals for the entity, in input order, after all Pass
// 2 results have been collected — so dedup decisions are deterministic
// given a fixed store snapshot (spec §4.5 Ordering guarantees).
func (l *Loop) runPass3(ctx context.Context, survivors []schema.Signal, entityID string) ([]schema.Signal, []Rejection) {
	if len(survivors) == 0 {
		return nil, nil
	}

	windowDays := l.cfg.DedupWindowDays
	if windowDays <= 0 {
		windowDays = 7
	}

	priorSignals, err := l.store.GetEntitySignals(ctx, entityID, windowDays)
	if err != nil {
		l.logger.Warn("ralphloop: store read failed during pass3 dedup, proceeding without duplicate detection",
			zap.String("entity_id", entityID), zap.Error(err))
		priorSignals = nil
	}

	var out []schema.Signal
	var rejections []Rejection

	for _, signal := range survivors {
		if signal.Confidence < l.cfg.MinConfidence {
			rejections = append(rejections, Rejection{SignalID: signal.ID, Reason: RejectReasonPostAuditBelowMin, Detail: "failed pass3 redundant confidence recheck"})
			continue
		}

		if dup, score := l.findDuplicate(signal, priorSignals); dup {
			signal.State = schema.SignalStateRejectedPass3Duplicate
			l.logger.Info("ralphloop: pass3 rejected as duplicate",
				zap.String("signal_id", signal.ID), zap.Float64("similarity", score))
			rejections = append(rejections, Rejection{SignalID: signal.ID, Reason: RejectReasonDuplicate})
			continue
		}

		signal.ValidationPass = 3
		signal.Validated = true
		signal.State = schema.SignalStatePassed3Validated
		out = append(out, signal)
	}

	return out, rejections
}

func (l *Loop) findDuplicate(signal schema.Signal, priorSignals []schema.Signal) (bool, float64) {
	threshold := l.cfg.DedupSimilarityThreshold
	if threshold <= 0 {
		threshold = 0.85
	}

	best := 0.0
	for _, prior := range priorSignals {
		if prior.ID == signal.ID {
			continue
		}
		score := l.similarity(signal, prior)
		if score > best {
			best = score
		}
		if best >= threshold {
			return true, best
		}
	}
	return false, best
}

// similarity implements the bounded combination from spec §4.5 step 2:
// equal type (+weight_type), temporal proximity within 24h
// (+weight_temporal), Jaccard overlap of evidence URLs
// (weight_url-scaled), token-set Jaccard of concatenated snippets
// (weight_text-scaled). Weights are configuration, not hard-coded
// constants, so calibration against real duplicate data can refine them
// (per spec.md Open Questions).
func (l *Loop) similarity(a, b schema.Signal) float64 {
	var score float64

	if a.Type == b.Type {
		score += l.weightOrDefault(l.cfg.DedupWeightType, 0.4)
	}

	if !a.FirstSeen.IsZero() && !b.FirstSeen.IsZero() {
		delta := a.FirstSeen.Sub(b.FirstSeen)
		if delta < 0 {
			delta = -delta
		}
		if delta <= 24*time.Hour {
			score += l.weightOrDefault(l.cfg.DedupWeightTemporal, 0.2)
		}
	}

	score += jaccard(evidenceURLs(a), evidenceURLs(b)) * l.weightOrDefault(l.cfg.DedupWeightURL, 0.2)
	score += jaccard(snippetTokens(a), snippetTokens(b)) * l.weightOrDefault(l.cfg.DedupWeightText, 0.2)

	return score
}

func (l *Loop) weightOrDefault(configured, fallback float64) float64 {
	if configured == 0 {
		return fallback
	}
	return configured
}

func evidenceURLs(s schema.Signal) map[string]struct{} {
	out := make(map[string]struct{})
	for _, e := range s.Evidence {
		if e.URL != "" {
			out[e.URL] = struct{}{}
		}
	}
	return out
}

func snippetTokens(s schema.Signal) map[string]struct{} {
	var b strings.Builder
	for _, e := range s.Evidence {
		b.WriteString(e.ExtractedText)
		b.WriteString(" ")
	}
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(b.String())) {
		out[tok] = struct{}{}
	}
	return out
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
