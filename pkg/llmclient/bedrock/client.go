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

// Package bedrock adapts AWS Bedrock's InvokeModel API to the LMClient
// port, for deployments that route Claude calls through AWS rather than
// the Anthropic API directly.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/pkg/llmclient"
)

// Config configures the Bedrock adapter.
type Config struct {
	Region string
	// ModelARNs maps a logical tier to a concrete Bedrock model
	// identifier/ARN.
	ModelARNs map[llmclient.Tier]string
}

type client struct {
	sdk       *bedrockruntime.Client
	modelARNs map[llmclient.Tier]string
	logger    *zap.Logger
}

// anthropicInvokeRequest is the Bedrock "Anthropic Claude Messages"
// request envelope.
type anthropicInvokeRequest struct {
	AnthropicVersion string                   `json:"anthropic_version"`
	MaxTokens        int                      `json:"max_tokens"`
	Messages         []anthropicInvokeMessage `json:"messages"`
}

type anthropicInvokeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicInvokeResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewClient constructs an llmclient.Client backed by AWS Bedrock.
func NewClient(ctx context.Context, cfg Config, logger *zap.Logger) (llmclient.Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("bedrock: region is required")
	}
	for _, tier := range []llmclient.Tier{llmclient.TierSmall, llmclient.TierMedium, llmclient.TierLarge} {
		if _, ok := cfg.ModelARNs[tier]; !ok {
			return nil, fmt.Errorf("bedrock: no model configured for tier %q", tier)
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &client{
		sdk:       bedrockruntime.NewFromConfig(awsCfg),
		modelARNs: cfg.ModelARNs,
		logger:    logger,
	}, nil
}

func (c *client) Complete(ctx context.Context, tier llmclient.Tier, prompt string, maxOutputTokens int) (llmclient.Completion, error) {
	modelID, ok := c.modelARNs[tier]
	if !ok {
		return llmclient.Completion{}, fmt.Errorf("%w: no model configured for tier %q", llmclient.ErrInvalidResponse, tier)
	}

	body, err := json.Marshal(anthropicInvokeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxOutputTokens,
		Messages:         []anthropicInvokeMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return llmclient.Completion{}, fmt.Errorf("%w: %v", llmclient.ErrInvalidResponse, err)
	}

	out, err := c.sdk.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return llmclient.Completion{}, classifyError(err)
	}

	var response anthropicInvokeResponse
	if err := json.Unmarshal(out.Body, &response); err != nil {
		return llmclient.Completion{}, fmt.Errorf("%w: %v", llmclient.ErrInvalidResponse, err)
	}
	if len(response.Content) == 0 {
		return llmclient.Completion{}, fmt.Errorf("%w: empty content from model %s", llmclient.ErrInvalidResponse, modelID)
	}

	var text string
	for _, block := range response.Content {
		text += block.Text
	}

	return llmclient.Completion{
		Text:         text,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
	}, nil
}

func classifyError(err error) error {
	var apiErr smithy.APIError
	if ok := asAPIError(err, &apiErr); ok {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return fmt.Errorf("%w: %v", llmclient.ErrRateLimited, err)
		case "ModelTimeoutException", "ServiceUnavailableException", "InternalServerException":
			return fmt.Errorf("%w: %v", llmclient.ErrModelError, err)
		default:
			return fmt.Errorf("%w: %v", llmclient.ErrInvalidResponse, err)
		}
	}
	return fmt.Errorf("%w: %v", llmclient.ErrModelError, err)
}

func asAPIError(err error, target *smithy.APIError) bool {
	apiErr, ok := err.(smithy.APIError)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}

var _ llmclient.Client = (*client)(nil)
