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
	_ "embed"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

//go:embed policies/rules.rego
var rulesPolicy string

// ruleConfig is the subset of RalphConfig the Pass 1 policy reasons
// about, shaped to match input.config in rules.rego.
type ruleConfig struct {
	MinConfidence          float64 `json:"min_confidence"`
	MinEvidence            int     `json:"min_evidence"`
	MinEvidenceCredibility float64 `json:"min_evidence_credibility"`
}

// ruleDecision mirrors the Rego policy's output document.
type ruleDecision struct {
	Pass   bool   `json:"pass"`
	Reason string `json:"reason"`
}

// ruleEvaluator wraps a prepared Rego query so the policy is compiled
// once at construction instead of per-signal.
type ruleEvaluator struct {
	query rego.PreparedEvalQuery
}

func newRuleEvaluator(ctx context.Context) (*ruleEvaluator, error) {
	query, err := rego.New(
		rego.Query("data.ralph.rules.decision"),
		rego.Module("rules.rego", rulesPolicy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("ralphloop: compiling rule policy: %w", err)
	}
	return &ruleEvaluator{query: query}, nil
}

// evaluate runs the rule policy against one signal, returning the
// pass/reject decision.
func (re *ruleEvaluator) evaluate(ctx context.Context, signal schema.Signal, cfg ruleConfig) (ruleDecision, error) {
	input := map[string]interface{}{
		"signal": signalToRegoInput(signal),
		"config": cfg,
	}

	results, err := re.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return ruleDecision{}, fmt.Errorf("ralphloop: evaluating rule policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return ruleDecision{}, fmt.Errorf("ralphloop: rule policy produced no result")
	}

	decisionMap, ok := results[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return ruleDecision{}, fmt.Errorf("ralphloop: rule policy returned an unexpected shape")
	}

	decision := ruleDecision{}
	if pass, ok := decisionMap["pass"].(bool); ok {
		decision.Pass = pass
	}
	if reason, ok := decisionMap["reason"].(string); ok {
		decision.Reason = reason
	}
	return decision, nil
}

func signalToRegoInput(signal schema.Signal) map[string]interface{} {
	evidence := make([]map[string]interface{}, 0, len(signal.Evidence))
	for _, e := range signal.Evidence {
		evidence = append(evidence, map[string]interface{}{
			"source":            e.Source,
			"credibility_score": e.CredibilityScore,
		})
	}
	return map[string]interface{}{
		"confidence": signal.Confidence,
		"evidence":   evidence,
	}
}
