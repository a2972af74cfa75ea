package ralphloop

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

var _ = Describe("ruleEvaluator", func() {
	var (
		ctx context.Context
		re  *ruleEvaluator
		cfg ruleConfig
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		re, err = newRuleEvaluator(ctx)
		Expect(err).NotTo(HaveOccurred())

		cfg = ruleConfig{MinConfidence: 0.7, MinEvidence: 3, MinEvidenceCredibility: 0.6}
	})

	It("passes a signal meeting every threshold", func() {
		signal := *schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.8)
		signal.Evidence = []schema.Evidence{
			{Source: "a", CredibilityScore: 0.8},
			{Source: "b", CredibilityScore: 0.7},
			{Source: "c", CredibilityScore: 0.9},
		}

		decision, err := re.evaluate(ctx, signal, cfg)

		Expect(err).NotTo(HaveOccurred())
		Expect(decision.Pass).To(BeTrue())
	})

	It("rejects below-confidence before checking evidence at all", func() {
		signal := *schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.5)

		decision, err := re.evaluate(ctx, signal, cfg)

		Expect(err).NotTo(HaveOccurred())
		Expect(decision.Pass).To(BeFalse())
		Expect(decision.Reason).To(Equal("below_confidence"))
	})

	It("rejects insufficient evidence when confidence is fine", func() {
		signal := *schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.8)
		signal.Evidence = []schema.Evidence{{Source: "a", CredibilityScore: 0.9}}

		decision, err := re.evaluate(ctx, signal, cfg)

		Expect(err).NotTo(HaveOccurred())
		Expect(decision.Pass).To(BeFalse())
		Expect(decision.Reason).To(Equal("insufficient_evidence"))
	})

	It("rejects low mean credibility when confidence and count are fine", func() {
		signal := *schema.NewSignal("s1", schema.SignalTypeRFPDetected, "e1", 0.8)
		signal.Evidence = []schema.Evidence{
			{Source: "a", CredibilityScore: 0.3},
			{Source: "b", CredibilityScore: 0.2},
			{Source: "c", CredibilityScore: 0.4},
		}

		decision, err := re.evaluate(ctx, signal, cfg)

		Expect(err).NotTo(HaveOccurred())
		Expect(decision.Pass).To(BeFalse())
		Expect(decision.Reason).To(Equal("low_credibility"))
	})
})
