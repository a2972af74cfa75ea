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

// Package notification surfaces signals that cleared Pass 3 but still
// carry requires_manual_review=true. It is an observability aid, not
// part of the validation contract: a delivery failure here never fails
// RalphLoop or DailyOrchestrator.
package notification

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

// Notifier delivers a batch of manual-review signals for one entity
// tier. Implementations must not block the caller on transient delivery
// failures beyond their own internal retry policy, if any.
type Notifier interface {
	NotifyManualReview(ctx context.Context, tier string, signals []schema.Signal) error
}

// RetryableError wraps a delivery failure that a caller may reasonably
// retry (as opposed to a permanent misconfiguration).
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("notification: %s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NoopNotifier discards every notification. Used when notification is
// disabled in configuration.
type NoopNotifier struct{}

func (NoopNotifier) NotifyManualReview(context.Context, string, []schema.Signal) error {
	return nil
}

// SafeDeliver calls n.NotifyManualReview, logging but swallowing any
// error — notification failures are observability noise, never a
// pipeline failure.
func SafeDeliver(ctx context.Context, n Notifier, logger *zap.Logger, tier string, signals []schema.Signal) {
	if n == nil || len(signals) == 0 {
		return
	}
	if err := n.NotifyManualReview(ctx, tier, signals); err != nil {
		logger.Error("notification: failed to deliver manual-review batch",
			zap.String("tier", tier), zap.Int("signal_count", len(signals)), zap.Error(err))
	}
}

func summarizeSignals(signals []schema.Signal) string {
	var b strings.Builder
	for _, s := range signals {
		fmt.Fprintf(&b, "• `%s` (%s) entity=%s confidence=%.2f\n", s.ID, s.Type, s.EntityID, s.Confidence)
		if s.ConfidenceValidation != nil && s.ConfidenceValidation.Rationale != "" {
			fmt.Fprintf(&b, "  _%s_\n", s.ConfidenceValidation.Rationale)
		}
	}
	return b.String()
}
