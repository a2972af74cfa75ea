package ralphloop

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/pkg/cascade"
	"github.com/jordigilh/ralph-core/pkg/graphstore/memory"
	"github.com/jordigilh/ralph-core/pkg/schema"
)

func newTestLoop(cfg Config, cascadeRunner CascadeRunner) *Loop {
	store := memory.New()
	l, err := New(context.Background(), store, cascadeRunner, nil, nil, cfg, zap.NewNop())
	Expect(err).NotTo(HaveOccurred())
	return l
}

var _ = Describe("runPass2", func() {
	var cfg Config

	BeforeEach(func() {
		cfg = Config{
			MinConfidence:             0.7,
			MaxConfidenceAdjustment:   0.15,
			ConfidenceReviewThreshold: 0.2,
			EnableConfidenceValidation: true,
			FanoutPerEntity:           5,
		}
	})

	It("carries the original confidence unchanged when validation is disabled", func() {
		cfg.EnableConfidenceValidation = false
		l := newTestLoop(cfg, newFakeCascade())

		signal := *schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.8)
		survivors, rejections, _, _ := l.runPass2(context.Background(), []schema.Signal{signal}, nil)

		Expect(rejections).To(BeEmpty())
		Expect(survivors).To(HaveLen(1))
		Expect(survivors[0].Confidence).To(Equal(0.8))
		Expect(survivors[0].ConfidenceValidation.ModelUsed).To(Equal("skipped"))
		Expect(survivors[0].ValidationPass).To(Equal(2))
	})

	It("applies the cascade adjustment and clips it to the configured max", func() {
		fc := newFakeCascade()
		fc.script("s1", cascade.Decision{Validated: true, Adjustment: 0.5, Rationale: "big swing", TierUsed: "large"})
		l := newTestLoop(cfg, fc)

		signal := *schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.8)
		survivors, rejections, _, _ := l.runPass2(context.Background(), []schema.Signal{signal}, nil)

		Expect(rejections).To(BeEmpty())
		Expect(survivors).To(HaveLen(1))
		Expect(survivors[0].ConfidenceValidation.Adjustment).To(Equal(0.15))
		Expect(survivors[0].Confidence).To(BeNumerically("~", 0.95))
	})

	It("rejects a signal whose post-audit confidence falls below the floor", func() {
		fc := newFakeCascade()
		fc.script("s1", cascade.Decision{Validated: false, Adjustment: -0.15, Rationale: "overconfident", TierUsed: "small"})
		l := newTestLoop(cfg, fc)

		signal := *schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.72)
		survivors, rejections, _, _ := l.runPass2(context.Background(), []schema.Signal{signal}, nil)

		Expect(survivors).To(BeEmpty())
		Expect(rejections).To(HaveLen(1))
		Expect(rejections[0].Reason).To(Equal(RejectReasonPostAuditBelowMin))
	})

	It("rejects a signal when the cascade is exhausted", func() {
		fc := newFakeCascade()
		fc.scriptErr("s1", cascade.ErrCascadeExhausted)
		l := newTestLoop(cfg, fc)

		signal := *schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.8)
		survivors, rejections, _, _ := l.runPass2(context.Background(), []schema.Signal{signal}, nil)

		Expect(survivors).To(BeEmpty())
		Expect(rejections).To(HaveLen(1))
		Expect(rejections[0].Reason).To(Equal(RejectReasonCascadeExhausted))
	})

	It("sets requires_manual_review when the adjustment magnitude meets the review threshold", func() {
		cfg.ConfidenceReviewThreshold = 0.1
		fc := newFakeCascade()
		fc.script("s1", cascade.Decision{Validated: true, Adjustment: 0.15, Rationale: "borderline", TierUsed: "medium", RequiresManualReview: false})
		l := newTestLoop(cfg, fc)

		signal := *schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.75)
		survivors, _, _, _ := l.runPass2(context.Background(), []schema.Signal{signal}, nil)

		Expect(survivors).To(HaveLen(1))
		Expect(survivors[0].ConfidenceValidation.RequiresManualReview).To(BeTrue())
	})

	It("tallies cascade spend across both accepted and rejected signals", func() {
		fc := newFakeCascade()
		fc.script("s1", cascade.Decision{Validated: true, Adjustment: 0, Rationale: "fine", TierUsed: "small", CostUSD: 0.002})
		fc.script("s2", cascade.Decision{Validated: false, Adjustment: -0.15, Rationale: "overconfident", TierUsed: "medium", CostUSD: 0.01})
		l := newTestLoop(cfg, fc)

		signals := []schema.Signal{
			*schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.8),
			*schema.NewSignal("s2", schema.SignalTypeRFPDetected, "e1", 0.72),
		}
		survivors, rejections, costUSD, _ := l.runPass2(context.Background(), signals, nil)

		Expect(survivors).To(HaveLen(1))
		Expect(rejections).To(HaveLen(1))
		Expect(costUSD).To(BeNumerically("~", 0.012))
	})

	It("processes every survivor concurrently without cross-talk between signals", func() {
		fc := newFakeCascade()
		l := newTestLoop(cfg, fc)

		signals := []schema.Signal{
			*schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.8),
			*schema.NewSignal("s2", schema.SignalTypeExecutiveChange, "e1", 0.9),
			*schema.NewSignal("s3", schema.SignalTypePartnershipFormed, "e1", 0.75),
		}

		survivors, rejections, costUSD, _ := l.runPass2(context.Background(), signals, nil)

		Expect(rejections).To(BeEmpty())
		Expect(survivors).To(HaveLen(3))
		Expect(costUSD).To(Equal(0.0))
		for _, s := range []string{"s1", "s2", "s3"} {
			Expect(fc.callCount(s)).To(Equal(1))
		}
	})
})
