package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/pkg/graphstore/memory"
	"github.com/jordigilh/ralph-core/pkg/ralphloop"
	"github.com/jordigilh/ralph-core/pkg/schema"
	"github.com/jordigilh/ralph-core/pkg/scheduler"
)

// fakeLoop scripts a ralphloop.Result per entity ID and records every call
// it receives, guarded by a mutex since entities in the same tier are
// processed concurrently.
type fakeLoop struct {
	mu      sync.Mutex
	results map[string]ralphloop.Result
	calls   []string
}

func (f *fakeLoop) ValidateSignals(_ context.Context, _ []schema.Signal, entityID string) ralphloop.Result {
	f.mu.Lock()
	f.calls = append(f.calls, entityID)
	f.mu.Unlock()
	return f.results[entityID]
}

func (f *fakeLoop) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeRawSource scripts a per-entity fetch delay, error, and an optional
// cancel trigger, and records every call it receives.
type fakeRawSource struct {
	mu             sync.Mutex
	delays         map[string]time.Duration
	errs           map[string]error
	cancelOnEntity map[string]context.CancelFunc
	calls          []string
}

func (f *fakeRawSource) fetch(ctx context.Context, entityID string) ([]schema.Signal, error) {
	f.mu.Lock()
	f.calls = append(f.calls, entityID)
	f.mu.Unlock()

	if d, ok := f.delays[entityID]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.errs[entityID]; ok {
		return nil, err
	}
	if cancel, ok := f.cancelOnEntity[entityID]; ok {
		cancel()
	}
	return []schema.Signal{*schema.NewSignal(entityID+"-sig", schema.SignalTypeRFPDetected, entityID, 0.8)}, nil
}

func (f *fakeRawSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func seedTieredEntity(store *memory.Store, entityID string, total, rfpCount int) {
	store.SeedEntities(schema.Entity{EntityID: entityID, EntityName: entityID})
	for i := 0; i < total; i++ {
		t := schema.SignalTypeExecutiveChange
		if i < rfpCount {
			t = schema.SignalTypeRFPDetected
		}
		sig := *schema.NewSignal(fmt.Sprintf("%s-seed-%d", entityID, i), t, entityID, 0.8)
		sig.FirstSeen = time.Now().UTC().Add(-time.Duration(i) * time.Hour)
		Expect(store.UpsertSignal(context.Background(), sig)).To(Succeed())
	}
}

func alwaysHealthy(context.Context) error { return nil }

// fakeLoopWithRetryBuffer extends fakeLoop with a scripted retry-buffer
// length, so tests can exercise the orchestrator's optional
// RetryBufferInspector check without a real ralphloop.Loop.
type fakeLoopWithRetryBuffer struct {
	fakeLoop
	bufferLen int
}

func (f *fakeLoopWithRetryBuffer) RetryBufferLen() int { return f.bufferLen }

var _ = Describe("Orchestrator.RunDaily", func() {
	It("drains premium, active, then dormant, aggregating totals and per-tier model histograms", func() {
		store := memory.New()
		seedTieredEntity(store, "premium-1", 15, 6)
		seedTieredEntity(store, "active-1", 5, 0)
		seedTieredEntity(store, "dormant-1", 1, 0)
		sched := scheduler.New(store, scheduler.Config{}, zap.NewNop())

		loop := &fakeLoop{results: map[string]ralphloop.Result{
			"premium-1": {
				Validated: []schema.Signal{{ID: "s1", ConfidenceValidation: &schema.ConfidenceValidation{RequiresManualReview: true, ModelUsed: "large"}}},
				CostUSD:   0.02,
			},
			"active-1": {
				Validated: []schema.Signal{{ID: "s2", ConfidenceValidation: &schema.ConfidenceValidation{ModelUsed: "small"}}},
				CostUSD:   0.001,
			},
			"dormant-1": {
				Rejections: []ralphloop.Rejection{{SignalID: "s3", Reason: ralphloop.RejectReasonBelowConfidence}},
				CostUSD:    0.0005,
			},
		}}
		raw := &fakeRawSource{}
		healthChecks := map[string]HealthCheckFunc{"graphstore": alwaysHealthy, "llmclient": alwaysHealthy}

		o := New(sched, loop, raw.fetch, healthChecks, nil, Config{}, zap.NewNop())
		report := o.RunDaily(context.Background())

		Expect(report.Status).To(Equal(StatusCompleted))
		Expect(report.Outcomes).To(HaveLen(3))
		Expect([]string{report.Outcomes[0].EntityID, report.Outcomes[1].EntityID, report.Outcomes[2].EntityID}).
			To(Equal([]string{"premium-1", "active-1", "dormant-1"}))
		Expect(report.Outcomes[0].Tier).To(Equal(scheduler.TierPremium))
		Expect(report.Outcomes[1].Tier).To(Equal(scheduler.TierActive))
		Expect(report.Outcomes[2].Tier).To(Equal(scheduler.TierDormant))

		Expect(report.TotalValidated).To(Equal(2))
		Expect(report.TotalRejected).To(Equal(1))
		Expect(report.TotalManualReview).To(Equal(1))
		Expect(report.TotalCostUSD).To(BeNumerically("~", 0.0215))

		Expect(report.Outcomes[0].ModelUsed).To(HaveKeyWithValue("large", 1))
		Expect(report.Outcomes[0].ManualReviewCount).To(Equal(1))
	})

	It("aggregates rejections by reason, tokens by tier, and unrecoverable errors into the report", func() {
		store := memory.New()
		seedTieredEntity(store, "premium-1", 15, 6)
		seedTieredEntity(store, "active-1", 5, 0)
		sched := scheduler.New(store, scheduler.Config{}, zap.NewNop())

		loop := &fakeLoopWithRetryBuffer{
			fakeLoop: fakeLoop{results: map[string]ralphloop.Result{
				"premium-1": {
					Rejections:   []ralphloop.Rejection{{SignalID: "s1", Reason: ralphloop.RejectReasonBelowConfidence}},
					TokensByTier: map[string]int{"small": 120},
				},
				"active-1": {
					Rejections: []ralphloop.Rejection{
						{SignalID: "s2", Reason: ralphloop.RejectReasonBelowConfidence},
						{SignalID: "s3", Reason: ralphloop.RejectReasonPersistFailure, Detail: "store unavailable"},
					},
					TokensByTier: map[string]int{"small": 40, "medium": 200},
				},
			}},
			bufferLen: 2,
		}
		raw := &fakeRawSource{}
		healthChecks := map[string]HealthCheckFunc{"graphstore": alwaysHealthy}

		o := New(sched, loop, raw.fetch, healthChecks, nil, Config{}, zap.NewNop())
		report := o.RunDaily(context.Background())

		Expect(report.TotalRejectedByReason).To(HaveKeyWithValue(string(ralphloop.RejectReasonBelowConfidence), 2))
		Expect(report.TotalRejectedByReason).To(HaveKeyWithValue(string(ralphloop.RejectReasonPersistFailure), 1))
		Expect(report.TotalTokensByTier).To(HaveKeyWithValue("small", 160))
		Expect(report.TotalTokensByTier).To(HaveKeyWithValue("medium", 200))
		Expect(report.UnrecoverableErrors).To(ContainElement(ContainSubstring("active-1 signal s3: store unavailable")))
		Expect(report.UnrecoverableErrors).To(ContainElement(ContainSubstring("retry buffer: 2 signals")))
	})

	It("aborts before classification when a dependency health check never recovers", func() {
		store := memory.New()
		seedTieredEntity(store, "premium-1", 15, 6)
		sched := scheduler.New(store, scheduler.Config{}, zap.NewNop())

		loop := &fakeLoop{results: map[string]ralphloop.Result{}}
		raw := &fakeRawSource{}
		healthChecks := map[string]HealthCheckFunc{
			"llmclient": func(context.Context) error { return errors.New("connection refused") },
		}

		o := New(sched, loop, raw.fetch, healthChecks, nil, Config{HealthCheckAttempts: 2, HealthCheckBackoff: 5 * time.Millisecond}, zap.NewNop())
		report := o.RunDaily(context.Background())

		Expect(report.Status).To(Equal(StatusAborted))
		Expect(report.AbortReason).To(ContainSubstring("llmclient"))
		Expect(report.Outcomes).To(BeEmpty())
		Expect(loop.callCount()).To(Equal(0))
		Expect(raw.callCount()).To(Equal(0))
	})

	It("times out a single slow entity without blocking or failing its tier siblings", func() {
		store := memory.New()
		seedTieredEntity(store, "slow-1", 15, 6)
		seedTieredEntity(store, "fast-1", 15, 6)
		sched := scheduler.New(store, scheduler.Config{
			TierTimeoutSeconds: map[string]int{scheduler.TierPremium: 1, scheduler.TierActive: 1, scheduler.TierDormant: 1},
		}, zap.NewNop())

		loop := &fakeLoop{results: map[string]ralphloop.Result{
			"fast-1": {Validated: []schema.Signal{{ID: "ok"}}},
		}}
		raw := &fakeRawSource{delays: map[string]time.Duration{"slow-1": 1500 * time.Millisecond}}
		healthChecks := map[string]HealthCheckFunc{"graphstore": alwaysHealthy}

		o := New(sched, loop, raw.fetch, healthChecks, nil, Config{}, zap.NewNop())
		report := o.RunDaily(context.Background())

		Expect(report.Status).To(Equal(StatusCompleted))
		Expect(report.Outcomes).To(HaveLen(2))

		byID := map[string]EntityOutcome{}
		for _, out := range report.Outcomes {
			byID[out.EntityID] = out
		}
		Expect(byID["slow-1"].Status).To(Equal(StatusTimedOut))
		Expect(byID["fast-1"].Status).To(Equal(StatusCompleted))
		Expect(byID["fast-1"].ValidatedCount).To(Equal(1))
	})

	It("stops draining remaining tiers once the run context is cancelled between tiers", func() {
		store := memory.New()
		seedTieredEntity(store, "premium-1", 15, 6)
		seedTieredEntity(store, "active-1", 5, 0)
		sched := scheduler.New(store, scheduler.Config{}, zap.NewNop())

		ctx, cancel := context.WithCancel(context.Background())
		loop := &fakeLoop{results: map[string]ralphloop.Result{
			"premium-1": {Validated: []schema.Signal{{ID: "s1"}}},
			"active-1":  {Validated: []schema.Signal{{ID: "s2"}}},
		}}
		raw := &fakeRawSource{cancelOnEntity: map[string]context.CancelFunc{"premium-1": cancel}}
		healthChecks := map[string]HealthCheckFunc{"graphstore": alwaysHealthy}

		o := New(sched, loop, raw.fetch, healthChecks, nil, Config{}, zap.NewNop())
		report := o.RunDaily(ctx)

		Expect(report.Status).To(Equal(StatusCancelled))
		Expect(report.Outcomes).To(HaveLen(1))
		Expect(report.Outcomes[0].EntityID).To(Equal("premium-1"))
		Expect(raw.callCount()).To(Equal(1))
	})
})
