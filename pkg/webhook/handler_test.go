package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/pkg/ralphloop"
	"github.com/jordigilh/ralph-core/pkg/schema"
)

// fakeLoop scripts a ralphloop.Result for every ValidateSignals call so
// handler tests don't need a real GraphStore/Cascade wired up.
type fakeLoop struct {
	result      ralphloop.Result
	lastEntity  string
	lastSignals []schema.Signal
}

func (f *fakeLoop) ValidateSignals(_ context.Context, rawSignals []schema.Signal, entityID string) ralphloop.Result {
	f.lastEntity = entityID
	f.lastSignals = rawSignals
	return f.result
}

func validEventBody() []byte {
	event := InboundEvent{
		WebhookID:  "wh-1",
		EntityID:   "acme",
		EntityName: "Acme Corp",
		Signal:     EventSignal{Type: schema.SignalTypeRFPDetected, Confidence: 0.9},
		Evidence:   []EventEvidence{{Source: "LinkedIn", CredibilityScore: credScore(0.85)}},
	}
	body, _ := json.Marshal(event)
	return body
}

var _ = Describe("Handler", func() {
	const secret = "test-signing-secret"

	var (
		loop   *fakeLoop
		server *httptest.Server
	)

	BeforeEach(func() {
		loop = &fakeLoop{result: ralphloop.Result{Validated: []schema.Signal{*schema.NewSignal("s1", schema.SignalTypeRFPDetected, "acme", 0.9)}}}
		h, err := NewHandler(Config{SigningSecret: secret}, loop, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())
		server = httptest.NewServer(h.Router())
	})

	AfterEach(func() {
		server.Close()
	})

	It("rejects a request with no signature header with 401", func() {
		body := validEventBody()
		resp, err := http.Post(server.URL+"/v1/webhook/signal", "application/json", bytes.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
	})

	It("rejects a request with a wrong signature with 401 and processes nothing", func() {
		body := validEventBody()
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/webhook/signal", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, sign([]byte("wrong"), body))
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(loop.lastSignals).To(BeNil())
	})

	It("accepts a correctly signed, well-formed event and returns validated=true", func() {
		body := validEventBody()
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/webhook/signal", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, sign([]byte(secret), body))
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var decoded signalResponse
		Expect(json.NewDecoder(resp.Body).Decode(&decoded)).To(Succeed())
		Expect(decoded.Validated).To(BeTrue())
		Expect(decoded.ProcessingTimeMS).To(BeNumerically(">=", 0))

		Expect(loop.lastEntity).To(Equal("acme"))
		Expect(loop.lastSignals).To(HaveLen(1))
	})

	It("returns the rejection reason when RalphLoop rejects the signal", func() {
		loop.result = ralphloop.Result{Rejections: []ralphloop.Rejection{{SignalID: "s1", Reason: ralphloop.RejectReasonBelowConfidence}}}

		body := validEventBody()
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/webhook/signal", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, sign([]byte(secret), body))
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()

		var decoded signalResponse
		Expect(json.NewDecoder(resp.Body).Decode(&decoded)).To(Succeed())
		Expect(decoded.Validated).To(BeFalse())
		Expect(decoded.RejectionReason).To(Equal(string(ralphloop.RejectReasonBelowConfidence)))
	})

	It("rejects malformed JSON with 400", func() {
		body := []byte(`{not json`)
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/webhook/signal", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, sign([]byte(secret), body))
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("rejects an event with an empty evidence array with 400", func() {
		event := InboundEvent{WebhookID: "wh-1", EntityID: "acme", EntityName: "Acme", Signal: EventSignal{Type: schema.SignalTypeRFPDetected, Confidence: 0.8}, Evidence: []EventEvidence{}}
		body, _ := json.Marshal(event)
		req, _ := http.NewRequest(http.MethodPost, server.URL+"/v1/webhook/signal", bytes.NewReader(body))
		req.Header.Set(SignatureHeader, sign([]byte(secret), body))
		resp, err := http.DefaultClient.Do(req)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("serves /health without requiring a signature", func() {
		resp, err := http.Get(server.URL + "/health")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})

var _ = Describe("NewHandler", func() {
	It("rejects a blank signing secret", func() {
		_, err := NewHandler(Config{}, &fakeLoop{}, zap.NewNop())
		Expect(err).To(HaveOccurred())
	})
})
