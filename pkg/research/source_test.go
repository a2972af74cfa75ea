package research

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewHTTPSource", func() {
	It("rejects a config missing the base URL", func() {
		_, err := NewHTTPSource(context.Background(), Config{
			ClientID: "id", ClientSecret: "secret", TokenURL: "https://auth.test/token",
		})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("base URL"))
	})

	It("rejects a config missing oauth credentials", func() {
		_, err := NewHTTPSource(context.Background(), Config{BaseURL: "https://research.test"})
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("client_id"))
	})
})

var _ = Describe("HTTPSource.Enrich", func() {
	var (
		tokenServer    *httptest.Server
		researchServer *httptest.Server
		source         *HTTPSource
	)

	BeforeEach(func() {
		tokenServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "test-token",
				"token_type":   "bearer",
				"expires_in":   3600,
			})
		}))
	})

	AfterEach(func() {
		tokenServer.Close()
		if researchServer != nil {
			researchServer.Close()
		}
	})

	It("returns a market_context evidence item on success", func() {
		researchServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.Header.Get("Authorization")).To(Equal("Bearer test-token"))
			Expect(r.URL.Path).To(Equal("/v1/entities/entity-1/context"))
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(researchResponse{
				Source:        "market-wire",
				Credibility:   0.82,
				Summary:       "entity announced a new partnership",
				URL:           "https://news.test/article",
				PublishedDate: "2026-07-01",
			})
		}))

		var err error
		source, err = NewHTTPSource(context.Background(), Config{
			BaseURL: researchServer.URL, ClientID: "id", ClientSecret: "secret", TokenURL: tokenServer.URL,
		})
		Expect(err).NotTo(HaveOccurred())

		evidence, err := source.Enrich(context.Background(), "entity-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(evidence.Source).To(Equal("market-wire"))
		Expect(evidence.Type).To(Equal("market_context"))
		Expect(evidence.CredibilityScore).To(Equal(0.82))
		Expect(evidence.Date).NotTo(BeNil())
	})

	It("clamps an out-of-range credibility score rather than rejecting it", func() {
		researchServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(researchResponse{Source: "market-wire", Credibility: 1.4, Summary: "x"})
		}))

		var err error
		source, err = NewHTTPSource(context.Background(), Config{
			BaseURL: researchServer.URL, ClientID: "id", ClientSecret: "secret", TokenURL: tokenServer.URL,
		})
		Expect(err).NotTo(HaveOccurred())

		evidence, err := source.Enrich(context.Background(), "entity-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(evidence.CredibilityScore).To(Equal(1.0))
	})

	It("returns an error on a non-200 response", func() {
		researchServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("internal error"))
		}))

		var err error
		source, err = NewHTTPSource(context.Background(), Config{
			BaseURL: researchServer.URL, ClientID: "id", ClientSecret: "secret", TokenURL: tokenServer.URL,
		})
		Expect(err).NotTo(HaveOccurred())

		_, err = source.Enrich(context.Background(), "entity-1")

		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("unexpected status 500"))
	})
})
