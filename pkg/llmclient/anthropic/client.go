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

// Package anthropic adapts the Anthropic Messages API to the LMClient
// port, mapping the three logical tiers to concrete Claude model ids via
// configuration.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/pkg/llmclient"
)

// Config configures the Anthropic adapter.
type Config struct {
	APIKey string
	// Models maps a logical tier to a concrete Claude model id, e.g.
	// {"small": "claude-haiku-4-5", "medium": "claude-sonnet-4-5", "large": "claude-opus-4-5"}.
	Models map[llmclient.Tier]string
}

type client struct {
	sdk    anthropic.Client
	models map[llmclient.Tier]string
	logger *zap.Logger
}

// NewClient constructs an llmclient.Client backed by the Anthropic API.
func NewClient(cfg Config, logger *zap.Logger) (llmclient.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	for _, tier := range []llmclient.Tier{llmclient.TierSmall, llmclient.TierMedium, llmclient.TierLarge} {
		if _, ok := cfg.Models[tier]; !ok {
			return nil, fmt.Errorf("anthropic: no model configured for tier %q", tier)
		}
	}

	return &client{
		sdk:    anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
		models: cfg.Models,
		logger: logger,
	}, nil
}

func (c *client) Complete(ctx context.Context, tier llmclient.Tier, prompt string, maxOutputTokens int) (llmclient.Completion, error) {
	model, ok := c.models[tier]
	if !ok {
		return llmclient.Completion{}, fmt.Errorf("%w: no model configured for tier %q", llmclient.ErrInvalidResponse, tier)
	}

	message, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxOutputTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return llmclient.Completion{}, classifyError(err)
	}

	if len(message.Content) == 0 {
		return llmclient.Completion{}, fmt.Errorf("%w: empty content from model %s", llmclient.ErrInvalidResponse, model)
	}

	var text string
	for _, block := range message.Content {
		text += block.Text
	}
	if text == "" {
		return llmclient.Completion{}, fmt.Errorf("%w: no text block in response from model %s", llmclient.ErrInvalidResponse, model)
	}

	return llmclient.Completion{
		Text:         text,
		InputTokens:  int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}

func classifyError(err error) error {
	var apiErr *anthropic.Error
	if ok := asAnthropicError(err, &apiErr); ok {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: %v", llmclient.ErrRateLimited, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: %v", llmclient.ErrModelError, err)
		default:
			return fmt.Errorf("%w: %v", llmclient.ErrInvalidResponse, err)
		}
	}
	return fmt.Errorf("%w: %v", llmclient.ErrModelError, err)
}

func asAnthropicError(err error, target **anthropic.Error) bool {
	apiErr, ok := err.(*anthropic.Error)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}

var _ llmclient.Client = (*client)(nil)
