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

// Package research provides an optional background research source that
// adds one piece of evidence to a signal that Pass 1 found short on
// evidence, before Pass 1 re-runs its rule checks. A nil Source is
// valid: Pass 1 treats its absence as "no enrichment available" rather than an error.
package research

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

// Source enriches a signal's entity with one additional piece of
// evidence, typically a market/news context item the ingest pipeline
// didn't already attach.
type Source interface {
	Enrich(ctx context.Context, entityID string) (*schema.Evidence, error)
}

// Config configures the HTTP-backed research source.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
}

// HTTPSource calls an external research API authenticated via OAuth2
// client-credentials, returning a single market_context evidence item.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource constructs a Source from cfg. The returned *http.Client
// handles token acquisition and refresh transparently via
// clientcredentials.Config.Client.
func NewHTTPSource(ctx context.Context, cfg Config) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("research: base URL is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.TokenURL == "" {
		return nil, fmt.Errorf("research: client_id, client_secret, and token_url are all required")
	}

	oauthCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	httpClient := oauthCfg.Client(ctx)
	httpClient.Timeout = timeout

	return &HTTPSource{
		baseURL: cfg.BaseURL,
		client:  httpClient,
	}, nil
}

type researchResponse struct {
	Source        string  `json:"source"`
	Credibility   float64 `json:"credibility"`
	Summary       string  `json:"summary"`
	URL           string  `json:"url"`
	PublishedDate string  `json:"published_date"`
}

// Enrich fetches one market_context evidence item for entityID. A
// non-2xx response or a malformed body is returned as an error; callers
// (Pass 1) are expected to log and continue without enrichment rather
// than fail the signal over a research-source outage.
func (s *HTTPSource) Enrich(ctx context.Context, entityID string) (*schema.Evidence, error) {
	url := fmt.Sprintf("%s/v1/entities/%s/context", s.baseURL, entityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("research: building request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("research: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("research: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("research: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed researchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("research: decoding response: %w", err)
	}

	evidence := &schema.Evidence{
		Source:           parsed.Source,
		CredibilityScore: schema.Clamp(parsed.Credibility, 0, 1),
		URL:              parsed.URL,
		ExtractedText:    parsed.Summary,
		Type:             "market_context",
	}
	if parsed.PublishedDate != "" {
		if t, err := time.Parse("2006-01-02", parsed.PublishedDate); err == nil {
			evidence.Date = &t
		}
	}

	return evidence, nil
}

var _ Source = (*HTTPSource)(nil)
