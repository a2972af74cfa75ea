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

package notification

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

// SlackNotifier posts one message per entity tier per batch to a
// pre-configured incoming webhook, per 3.6: "batched per
// DailyOrchestrator tier to avoid per-signal spam".
type SlackNotifier struct {
	webhookURL string
	post       func(ctx context.Context, webhookURL string, msg *slack.WebhookMessage) error
}

// NewSlackNotifier constructs a Notifier posting to a Slack incoming
// webhook URL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		post:       slack.PostWebhookContext,
	}
}

func (n *SlackNotifier) NotifyManualReview(ctx context.Context, tier string, signals []schema.Signal) error {
	if n.webhookURL == "" {
		return &RetryableError{Op: "post webhook", Err: fmt.Errorf("no webhook URL configured")}
	}

	header := fmt.Sprintf(":mag: %d signal(s) in tier *%s* require manual review", len(signals), tier)
	msg := &slack.WebhookMessage{
		Blocks: &slack.Blocks{
			BlockSet: []slack.Block{
				slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, header, false, false), nil, nil),
				slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, summarizeSignals(signals), false, false), nil, nil),
			},
		},
	}

	if err := n.post(ctx, n.webhookURL, msg); err != nil {
		return &RetryableError{Op: "post webhook", Err: err}
	}
	return nil
}

var _ Notifier = (*SlackNotifier)(nil)
