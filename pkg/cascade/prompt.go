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

package cascade

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

// promptTemplate is the single versioned Pass 2 prompt artifact (spec
// §4.4/§9 — "a single versioned artifact"). Cascade is the only component
// that reads it; changing the LM contract is a single-location edit.
var promptTemplate = prompts.NewPromptTemplate(
	`<|system|>
You audit confidence scores assigned to detected business signals against
the evidence supporting them. Respond with exactly one JSON object and
nothing else.

<|user|>
Signal type: {signal_type}
Claimed confidence: {confidence}
Entity: {entity_id}

Evidence:
{evidence_summary}

Prior signals for this entity (most recent first, for context only):
{prior_signals}

Return exactly this JSON shape:
{
  "validated": <bool>,
  "confidence_adjustment": <float in [-0.5, 0.5]>,
  "rationale": <string, 1..500 chars>,
  "requires_manual_review": <bool>
}

<|assistant|>
`,
	[]string{"signal_type", "confidence", "entity_id", "evidence_summary", "prior_signals"},
)

const maxPriorSignalsInPrompt = 5

func buildPrompt(signal schema.Signal, priorSignals []schema.Signal) (string, error) {
	vars := map[string]any{
		"signal_type":      string(signal.Type),
		"confidence":       fmt.Sprintf("%.2f", signal.Confidence),
		"entity_id":        signal.EntityID,
		"evidence_summary": evidenceSummary(signal.Evidence),
		"prior_signals":    priorSignalsSummary(priorSignals),
	}
	return promptTemplate.Format(vars)
}

func evidenceSummary(evidence []schema.Evidence) string {
	if len(evidence) == 0 {
		return "(none)"
	}

	var b strings.Builder
	for _, e := range evidence {
		date := "unknown date"
		if e.Date != nil {
			date = e.Date.Format("2006-01-02")
		}
		fmt.Fprintf(&b, "- source=%s credibility=%.2f date=%s snippet=%q\n", e.Source, e.CredibilityScore, date, truncate(e.ExtractedText, 200))
	}
	return b.String()
}

func priorSignalsSummary(signals []schema.Signal) string {
	if len(signals) == 0 {
		return "(none)"
	}

	n := len(signals)
	if n > maxPriorSignalsInPrompt {
		n = maxPriorSignalsInPrompt
	}

	var b strings.Builder
	for _, s := range signals[:n] {
		fmt.Fprintf(&b, "- id=%s type=%s confidence=%.2f first_seen=%s\n", s.ID, s.Type, s.Confidence, s.FirstSeen.Format("2006-01-02"))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
