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

// Package webhook is the real-time entry point: a signed HTTP event in,
// a single RalphLoop.ValidateSignals call out. It is the only component
// that terminates inbound network traffic for the core.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/internal/logging"
	"github.com/jordigilh/ralph-core/pkg/ralphloop"
	"github.com/jordigilh/ralph-core/pkg/schema"
)

// maxBodyBytes bounds the inbound event payload; nothing in the canonical
// shape (§6.1) plausibly needs more than a few evidence items of text.
const maxBodyBytes = 1 << 20 // 1 MiB

// Loop is the subset of *ralphloop.Loop the handler depends on, so tests
// can substitute a scripted fake without wiring a real GraphStore/Cascade.
type Loop interface {
	ValidateSignals(ctx context.Context, rawSignals []schema.Signal, entityID string) ralphloop.Result
}

// Config configures the webhook handler's signature verification and
// CORS policy.
type Config struct {
	SigningSecret      string
	AllowedOrigins     []string
	SourceCredibility  map[string]float64
	DefaultCredibility float64
}

// MetricsRecorder is the narrow surface the handler reports request
// outcomes into. pkg/metrics implements it; a nil recorder is valid
// (NewHandlerWithMetrics substitutes a no-op).
type MetricsRecorder interface {
	RecordWebhookRequest(result string)
}

type noopMetrics struct{}

func (noopMetrics) RecordWebhookRequest(string) {}

// Handler wires signature verification, event decoding, and RalphLoop
// dispatch behind a chi router.
type Handler struct {
	cfg     Config
	loop    Loop
	logger  *zap.Logger
	metrics MetricsRecorder
}

// NewHandler constructs a Handler. A blank SigningSecret is rejected:
// an unauthenticated webhook is never acceptable, even in development
// (use a fixed test secret instead). Request outcomes are not recorded.
func NewHandler(cfg Config, loop Loop, logger *zap.Logger) (*Handler, error) {
	return NewHandlerWithMetrics(cfg, loop, nil, logger)
}

// NewHandlerWithMetrics is NewHandler with an explicit MetricsRecorder.
// metrics may be nil.
func NewHandlerWithMetrics(cfg Config, loop Loop, metrics MetricsRecorder, logger *zap.Logger) (*Handler, error) {
	if cfg.SigningSecret == "" {
		return nil, errors.New("webhook: signing secret must not be empty")
	}
	if cfg.DefaultCredibility == 0 {
		cfg.DefaultCredibility = 0.5
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Handler{cfg: cfg, loop: loop, logger: logger, metrics: metrics}, nil
}

// Router returns the fully wired chi router: request IDs, CORS, the
// /health endpoint, and the signal ingest endpoint.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.cfg.AllowedOrigins,
		AllowedMethods: []string{"POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", SignatureHeader},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	r.Post("/v1/webhook/signal", h.handleSignal)

	return r
}

type signalResponse struct {
	SignalID         string  `json:"signal_id"`
	Validated        bool    `json:"validated"`
	RejectionReason  string  `json:"rejection_reason,omitempty"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
}

func (h *Handler) handleSignal(w http.ResponseWriter, r *http.Request) {
	timer := logging.NewTimer()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		h.metrics.RecordWebhookRequest("error")
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxBodyBytes {
		h.metrics.RecordWebhookRequest("error")
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	if err := verifySignature([]byte(h.cfg.SigningSecret), body, r.Header.Get(SignatureHeader)); err != nil {
		h.logger.Warn("webhook: signature verification failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		h.metrics.RecordWebhookRequest("error")
		writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	var event InboundEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.metrics.RecordWebhookRequest("error")
		writeError(w, http.StatusBadRequest, "malformed event payload")
		return
	}
	if err := event.Validate(); err != nil {
		h.metrics.RecordWebhookRequest("error")
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid event: %s", err.Error()))
		return
	}

	signal := event.toSignal(h.cfg.SourceCredibility, h.cfg.DefaultCredibility)

	result := h.loop.ValidateSignals(r.Context(), []schema.Signal{signal}, event.EntityID)

	resp := signalResponse{
		SignalID:         signal.ID,
		ProcessingTimeMS: timer.ElapsedMS(),
	}
	if len(result.Validated) > 0 {
		resp.Validated = true
	} else if len(result.Rejections) > 0 {
		resp.RejectionReason = string(result.Rejections[0].Reason)
	}

	h.logger.Info("webhook: signal processed",
		zap.String("signal_id", signal.ID), zap.Bool("validated", resp.Validated),
		zap.Int64("processing_time_ms", resp.ProcessingTimeMS))

	h.metrics.RecordWebhookRequest("success")
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
