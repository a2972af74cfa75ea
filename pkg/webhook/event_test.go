package webhook

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

func credScore(v float64) *float64 { return &v }

var _ = Describe("InboundEvent", func() {
	Describe("Validate", func() {
		It("accepts a well-formed event", func() {
			event := InboundEvent{
				WebhookID:  "wh-1",
				EntityID:   "acme",
				EntityName: "Acme Corp",
				Signal:     EventSignal{Type: schema.SignalTypeRFPDetected, Confidence: 0.8},
				Evidence:   []EventEvidence{{Source: "LinkedIn", CredibilityScore: credScore(0.8)}},
			}
			Expect(event.Validate()).To(Succeed())
		})

		It("rejects an event with an empty evidence array", func() {
			event := InboundEvent{
				WebhookID:  "wh-1",
				EntityID:   "acme",
				EntityName: "Acme Corp",
				Signal:     EventSignal{Type: schema.SignalTypeRFPDetected, Confidence: 0.8},
				Evidence:   []EventEvidence{},
			}
			Expect(event.Validate()).To(HaveOccurred())
		})

		It("rejects an event missing the entity id", func() {
			event := InboundEvent{
				WebhookID:  "wh-1",
				EntityName: "Acme Corp",
				Signal:     EventSignal{Type: schema.SignalTypeRFPDetected, Confidence: 0.8},
				Evidence:   []EventEvidence{{Source: "LinkedIn", CredibilityScore: credScore(0.8)}},
			}
			Expect(event.Validate()).To(HaveOccurred())
		})

		It("rejects a confidence value out of range", func() {
			event := InboundEvent{
				WebhookID:  "wh-1",
				EntityID:   "acme",
				EntityName: "Acme Corp",
				Signal:     EventSignal{Type: schema.SignalTypeRFPDetected, Confidence: 1.4},
				Evidence:   []EventEvidence{{Source: "LinkedIn", CredibilityScore: credScore(0.8)}},
			}
			Expect(event.Validate()).To(HaveOccurred())
		})
	})

	Describe("toSignal", func() {
		sourceTable := map[string]float64{"linkedin": 0.8, "press": 0.9}

		It("carries an explicit per-item credibility score through unchanged", func() {
			event := InboundEvent{
				WebhookID: "wh-1", EntityID: "acme", EntityName: "Acme Corp",
				Signal:   EventSignal{Type: schema.SignalTypeRFPDetected, Confidence: 0.9},
				Evidence: []EventEvidence{{Source: "LinkedIn", CredibilityScore: credScore(0.42)}},
			}

			signal := event.toSignal(sourceTable, 0.5)

			Expect(signal.Evidence).To(HaveLen(1))
			Expect(signal.Evidence[0].CredibilityScore).To(Equal(0.42))
		})

		It("falls back to the source-type table when credibility is omitted", func() {
			event := InboundEvent{
				WebhookID: "wh-1", EntityID: "acme", EntityName: "Acme Corp",
				Signal:   EventSignal{Type: schema.SignalTypeRFPDetected, Confidence: 0.9},
				Evidence: []EventEvidence{{Source: "Press"}},
			}

			signal := event.toSignal(sourceTable, 0.5)

			Expect(signal.Evidence[0].CredibilityScore).To(Equal(0.9))
		})

		It("falls back to the default when the source is unknown", func() {
			event := InboundEvent{
				WebhookID: "wh-1", EntityID: "acme", EntityName: "Acme Corp",
				Signal:   EventSignal{Type: schema.SignalTypeRFPDetected, Confidence: 0.9},
				Evidence: []EventEvidence{{Source: "some-unknown-blog"}},
			}

			signal := event.toSignal(sourceTable, 0.5)

			Expect(signal.Evidence[0].CredibilityScore).To(Equal(0.5))
		})

		It("maps the remaining fields onto a raw, unvalidated signal", func() {
			now := time.Now().UTC()
			event := InboundEvent{
				WebhookID: "wh-42", EntityID: "acme", EntityName: "Acme Corp",
				Signal: EventSignal{Type: schema.SignalTypeExecutiveChange, Confidence: 0.65, Metadata: map[string]interface{}{"k": "v"}},
				Evidence: []EventEvidence{{
					Source: "press", CredibilityScore: credScore(0.9), URL: "https://example.com", Date: &now, ExtractedText: "snippet",
				}},
			}

			signal := event.toSignal(sourceTable, 0.5)

			Expect(signal.EntityID).To(Equal("acme"))
			Expect(signal.Type).To(Equal(schema.SignalTypeExecutiveChange))
			Expect(signal.Confidence).To(Equal(0.65))
			Expect(signal.Metadata).To(HaveKeyWithValue("k", "v"))
			Expect(signal.Evidence[0].URL).To(Equal("https://example.com"))
			Expect(signal.Evidence[0].ExtractedText).To(Equal("snippet"))
			Expect(signal.State).To(Equal(schema.SignalStateReceived))
		})
	})
})
