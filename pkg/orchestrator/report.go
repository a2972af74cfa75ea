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

package orchestrator

import "time"

// Run-level and entity-level status values. An entity's status never
// affects its siblings'; the run's status reflects only pre-flight
// failures or a mid-batch cancellation.
const (
	StatusCompleted = "completed"
	StatusAborted   = "aborted"
	StatusCancelled = "cancelled"
	StatusTimedOut  = "timed_out"
	StatusFailed    = "failed"
)

// EntityOutcome is one entity's result for the day.
type EntityOutcome struct {
	EntityID          string
	Tier              string
	Status            string
	ValidatedCount    int
	RejectedCount     int
	ManualReviewCount int
	CostUSD           float64
	// ModelUsed histograms ConfidenceValidation.ModelUsed across this
	// entity's validated signals, e.g. {"small": 3, "medium": 1}.
	ModelUsed map[string]int
	// RejectedByReason histograms ralphloop.Rejection.Reason across this
	// entity's rejected signals, e.g. {"below_confidence": 2, "duplicate": 1}.
	RejectedByReason map[string]int
	// TokensByTier histograms Pass-2 token usage by cascade tier for this
	// entity, e.g. {"small": 812, "medium": 140}.
	TokensByTier map[string]int
	// UnrecoverableErrors lists signals this entity could not persist even
	// after retry (ralphloop.RejectReasonPersistFailure), one line per
	// signal.
	UnrecoverableErrors []string
	Error               string
}

// Report is the outcome of one RunDaily call.
type Report struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string
	AbortReason string
	Outcomes    []EntityOutcome

	TotalValidated    int
	TotalRejected     int
	TotalManualReview int
	TotalCostUSD      float64
	// TotalRejectedByReason histograms RejectedByReason across every
	// entity processed this run, per spec §6.6's "signals rejected per
	// pass-reason".
	TotalRejectedByReason map[string]int
	// TotalTokensByTier histograms TokensByTier across every entity
	// processed this run, per spec §6.6's "total tokens by tier".
	TotalTokensByTier map[string]int
	// UnrecoverableErrors collects every entity's UnrecoverableErrors,
	// plus a summary line if signals remain in RalphLoop's retry buffer
	// after the run's final drain attempt, per spec §4.5/§7.
	UnrecoverableErrors []string
}

// summarize folds Outcomes into the report's running totals. Called once
// after the tier loop completes, whether the run finished or was
// cancelled mid-batch. An aborted run returns before the tier loop and is
// not summarized.
func (r *Report) summarize() {
	r.TotalRejectedByReason = map[string]int{}
	r.TotalTokensByTier = map[string]int{}
	for _, o := range r.Outcomes {
		r.TotalValidated += o.ValidatedCount
		r.TotalRejected += o.RejectedCount
		r.TotalManualReview += o.ManualReviewCount
		r.TotalCostUSD += o.CostUSD
		for reason, count := range o.RejectedByReason {
			r.TotalRejectedByReason[reason] += count
		}
		for tier, tokens := range o.TokensByTier {
			r.TotalTokensByTier[tier] += tokens
		}
		r.UnrecoverableErrors = append(r.UnrecoverableErrors, o.UnrecoverableErrors...)
	}
}
