package schema

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Signal", func() {
	Describe("NewSignal", func() {
		It("builds a raw signal in the received state", func() {
			s := NewSignal("sig-1", SignalTypeRFPDetected, "entity-1", 0.8)

			Expect(s.ID).To(Equal("sig-1"))
			Expect(s.Type).To(Equal(SignalTypeRFPDetected))
			Expect(s.EntityID).To(Equal("entity-1"))
			Expect(s.Confidence).To(Equal(0.8))
			Expect(s.ValidationPass).To(Equal(0))
			Expect(s.Validated).To(BeFalse())
			Expect(s.State).To(Equal(SignalStateReceived))
		})
	})

	Describe("Validate", func() {
		It("accepts a well-formed signal", func() {
			s := NewSignal("sig-1", SignalTypeRFPDetected, "entity-1", 0.8)
			s.FirstSeen = time.Now().UTC()
			Expect(s.Validate()).NotTo(HaveOccurred())
		})

		It("rejects an out-of-range confidence", func() {
			s := NewSignal("sig-1", SignalTypeRFPDetected, "entity-1", 1.5)
			Expect(s.Validate()).To(HaveOccurred())
		})

		It("rejects a missing entity id", func() {
			s := NewSignal("sig-1", SignalTypeRFPDetected, "", 0.8)
			Expect(s.Validate()).To(HaveOccurred())
		})

		It("rejects a confidence_validation rationale over 500 characters", func() {
			s := NewSignal("sig-1", SignalTypeRFPDetected, "entity-1", 0.8)
			longRationale := make([]byte, 501)
			for i := range longRationale {
				longRationale[i] = 'a'
			}
			s.ConfidenceValidation = &ConfidenceValidation{
				OriginalConfidence:  0.8,
				ValidatedConfidence: 0.8,
				Rationale:           string(longRationale),
				ModelUsed:           "small",
				ValidationTimestamp: time.Now().UTC(),
			}
			Expect(s.Validate()).To(HaveOccurred())
		})
	})

	Describe("ToMap / SignalFromMap", func() {
		It("round-trips all fields", func() {
			now := time.Now().UTC()
			original := &Signal{
				ID:         "sig-2",
				Type:       SignalTypeExecutiveChange,
				Confidence: 0.91,
				FirstSeen:  now,
				EntityID:   "entity-2",
				Metadata:   map[string]interface{}{"source": "press-release"},
				Evidence: []Evidence{
					{Source: "LinkedIn", CredibilityScore: 0.7},
				},
				ValidationPass: 3,
				Validated:      true,
				State:          SignalStatePersisted,
			}

			m, err := original.ToMap()
			Expect(err).NotTo(HaveOccurred())
			Expect(m["id"]).To(Equal("sig-2"))
			Expect(m["type"]).To(Equal("EXECUTIVE_CHANGE"))

			roundTripped, err := SignalFromMap(m)
			Expect(err).NotTo(HaveOccurred())
			Expect(roundTripped.ID).To(Equal(original.ID))
			Expect(roundTripped.Type).To(Equal(original.Type))
			Expect(roundTripped.Confidence).To(Equal(original.Confidence))
			Expect(roundTripped.EntityID).To(Equal(original.EntityID))
			Expect(roundTripped.ValidationPass).To(Equal(original.ValidationPass))
			Expect(roundTripped.Validated).To(BeTrue())
			Expect(roundTripped.Evidence).To(HaveLen(1))
			Expect(roundTripped.FirstSeen).To(BeTemporally("==", original.FirstSeen))
			Expect(roundTripped.Metadata).To(HaveKeyWithValue("source", "press-release"))
			Expect(roundTripped.State).To(Equal(original.State))
		})
	})
})

var _ = Describe("Entity", func() {
	Describe("Validate", func() {
		It("accepts an entity with no tier assigned yet", func() {
			e := &Entity{EntityID: "entity-1", EntityName: "Acme Sports"}
			Expect(e.Validate()).NotTo(HaveOccurred())
		})

		It("rejects an invalid tier value", func() {
			e := &Entity{EntityID: "entity-1", EntityName: "Acme Sports", Tier: "gold"}
			Expect(e.Validate()).To(HaveOccurred())
		})
	})

	Describe("ToMap / EntityFromMap", func() {
		It("round-trips", func() {
			e := &Entity{
				EntityID:   "entity-3",
				EntityName: "Rival FC",
				Tier:       "premium",
				Metadata: map[string]interface{}{
					"signal_frequency": 0.5,
					"rfp_density":      0.4,
				},
			}
			m, err := e.ToMap()
			Expect(err).NotTo(HaveOccurred())

			roundTripped, err := EntityFromMap(m)
			Expect(err).NotTo(HaveOccurred())
			Expect(roundTripped.EntityID).To(Equal(e.EntityID))
			Expect(roundTripped.Tier).To(Equal("premium"))
		})
	})
})

var _ = Describe("Clamp", func() {
	It("clamps below the lower bound", func() {
		Expect(Clamp(-0.2, 0, 1)).To(Equal(0.0))
	})

	It("clamps above the upper bound", func() {
		Expect(Clamp(1.2, 0, 1)).To(Equal(1.0))
	})

	It("passes through in-range values", func() {
		Expect(Clamp(0.55, 0, 1)).To(Equal(0.55))
	})
})
