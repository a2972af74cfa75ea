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

// Package metrics exposes package-level Prometheus collectors for every
// pipeline stage (webhook ingest, RalphLoop validation, ModelCascade
// spend, daily orchestration) and a Recorder type that adapts them to
// the narrow MetricsRecorder interfaces pkg/webhook and pkg/orchestrator
// declare.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts inbound webhook requests by outcome
	// ("success" or "error").
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_requests_total",
		Help: "Total number of webhook requests processed, labeled by result.",
	}, []string{"result"})

	// EntityOutcomesTotal counts daily-run entity outcomes by tier and
	// status (completed, timed_out, cancelled, failed).
	EntityOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entity_outcomes_total",
		Help: "Total number of entities processed by the daily orchestrator, labeled by tier and status.",
	}, []string{"tier", "status"})

	// CascadeCostUSDTotal sums ModelCascade spend by tier.
	CascadeCostUSDTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_cost_usd_total",
		Help: "Total ModelCascade spend in USD, labeled by scheduler tier.",
	}, []string{"tier"})

	// ManualReviewTotal counts signals flagged RequiresManualReview by tier.
	ManualReviewTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "manual_review_total",
		Help: "Total number of signals flagged for manual review, labeled by tier.",
	}, []string{"tier"})

	// TierModelUsedTotal counts which LLM tier ultimately validated a
	// signal, broken down by scheduler tier.
	TierModelUsedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tier_model_used_total",
		Help: "Total number of signals validated per LLM model tier, labeled by scheduler tier.",
	}, []string{"tier", "model"})

	// CascadeAttemptsTotal counts every cascade tier call attempt by tier
	// and outcome ("success", "error").
	CascadeAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cascade_attempts_total",
		Help: "Total number of ModelCascade tier call attempts, labeled by tier and outcome.",
	}, []string{"tier", "outcome"})

	// CascadeAttemptDuration measures wall-clock latency of a single
	// cascade tier call attempt.
	CascadeAttemptDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cascade_attempt_duration_seconds",
		Help:    "Duration of a single ModelCascade tier call attempt in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tier"})

	// OrchestratorRunDuration measures the wall-clock duration of a full
	// RunDaily pass.
	OrchestratorRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "orchestrator_run_duration_seconds",
		Help:    "Duration of a full daily orchestrator run in seconds.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// OrchestratorRunsTotal counts completed RunDaily invocations by
	// final status (completed, aborted, cancelled).
	OrchestratorRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_runs_total",
		Help: "Total number of daily orchestrator runs, labeled by final status.",
	}, []string{"status"})

	// SignalsValidatedTotal counts signals that survived all three
	// RalphLoop passes, labeled by tier.
	SignalsValidatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signals_validated_total",
		Help: "Total number of signals validated by RalphLoop, labeled by tier.",
	}, []string{"tier"})

	// SignalsRejectedTotal counts signals rejected by any RalphLoop pass,
	// labeled by tier and rejection reason.
	SignalsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signals_rejected_total",
		Help: "Total number of signals rejected by RalphLoop, labeled by tier and reason.",
	}, []string{"tier", "reason"})
)

// RecordWebhookRequest increments WebhookRequestsTotal for result
// ("success" or "error"). Satisfies pkg/webhook.MetricsRecorder.
func RecordWebhookRequest(result string) {
	WebhookRequestsTotal.WithLabelValues(result).Inc()
}

// RecordEntityOutcome increments EntityOutcomesTotal for tier/status.
// Satisfies pkg/orchestrator.MetricsRecorder.
func RecordEntityOutcome(tier, status string) {
	EntityOutcomesTotal.WithLabelValues(tier, status).Inc()
}

// RecordCost adds costUSD to CascadeCostUSDTotal for tier.
// Satisfies pkg/orchestrator.MetricsRecorder.
func RecordCost(tier string, costUSD float64) {
	CascadeCostUSDTotal.WithLabelValues(tier).Add(costUSD)
}

// RecordManualReview increments ManualReviewTotal for tier.
// Satisfies pkg/orchestrator.MetricsRecorder.
func RecordManualReview(tier string) {
	ManualReviewTotal.WithLabelValues(tier).Inc()
}

// RecordTierModelUsed increments TierModelUsedTotal for tier/model.
// Satisfies pkg/orchestrator.MetricsRecorder.
func RecordTierModelUsed(tier, model string) {
	TierModelUsedTotal.WithLabelValues(tier, model).Inc()
}

// RecordCascadeAttempt increments CascadeAttemptsTotal and observes
// duration in CascadeAttemptDuration for a single tier call attempt.
func RecordCascadeAttempt(tier, outcome string, duration time.Duration) {
	CascadeAttemptsTotal.WithLabelValues(tier, outcome).Inc()
	CascadeAttemptDuration.WithLabelValues(tier).Observe(duration.Seconds())
}

// RecordOrchestratorRun observes duration in OrchestratorRunDuration and
// increments OrchestratorRunsTotal for status.
func RecordOrchestratorRun(status string, duration time.Duration) {
	OrchestratorRunDuration.Observe(duration.Seconds())
	OrchestratorRunsTotal.WithLabelValues(status).Inc()
}

// RecordSignalValidated increments SignalsValidatedTotal for tier.
func RecordSignalValidated(tier string) {
	SignalsValidatedTotal.WithLabelValues(tier).Inc()
}

// RecordSignalRejected increments SignalsRejectedTotal for tier/reason.
func RecordSignalRejected(tier, reason string) {
	SignalsRejectedTotal.WithLabelValues(tier, reason).Inc()
}

// Timer measures an operation's duration and records it against one of
// the histograms above when it completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// RecordCascadeAttempt records the timer's elapsed duration as a cascade
// tier call attempt and increments its outcome counter.
func (t *Timer) RecordCascadeAttempt(tier, outcome string) {
	RecordCascadeAttempt(tier, outcome, t.Elapsed())
}

// RecordOrchestratorRun records the timer's elapsed duration as a full
// daily orchestrator run and increments its status counter.
func (t *Timer) RecordOrchestratorRun(status string) {
	RecordOrchestratorRun(status, t.Elapsed())
}

// Recorder adapts the package-level collectors above to the
// MetricsRecorder interfaces pkg/webhook and pkg/orchestrator declare,
// so callers can pass a single *Recorder value to both constructors
// instead of wiring bare package functions by hand.
type Recorder struct{}

// NewRecorder returns a Recorder. It carries no state: every collector
// it reports into is a package-level prometheus.Collector registered at
// init time via promauto, so a process has exactly one of each and a
// Recorder is just a method-set wrapper around them.
func NewRecorder() *Recorder { return &Recorder{} }

// RecordWebhookRequest implements pkg/webhook.MetricsRecorder.
func (*Recorder) RecordWebhookRequest(result string) { RecordWebhookRequest(result) }

// RecordEntityOutcome implements pkg/orchestrator.MetricsRecorder.
func (*Recorder) RecordEntityOutcome(tier, status string) { RecordEntityOutcome(tier, status) }

// RecordCost implements pkg/orchestrator.MetricsRecorder.
func (*Recorder) RecordCost(tier string, costUSD float64) { RecordCost(tier, costUSD) }

// RecordManualReview implements pkg/orchestrator.MetricsRecorder.
func (*Recorder) RecordManualReview(tier string) { RecordManualReview(tier) }

// RecordTierModelUsed implements pkg/orchestrator.MetricsRecorder.
func (*Recorder) RecordTierModelUsed(tier, model string) { RecordTierModelUsed(tier, model) }
