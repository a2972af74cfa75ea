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

// Package llmclient defines the LMClient port: a single-shot completion
// call at a named logical model tier. Concrete providers live in
// subpackages (anthropic, bedrock) and are selected at construction time
// — never swapped mid-cascade.
package llmclient

import (
	"context"
	"errors"
)

// Tier is one of the closed set of logical model tiers ModelCascade
// reasons about. Concrete model identifiers are a configuration detail.
type Tier string

const (
	TierSmall  Tier = "small"
	TierMedium Tier = "medium"
	TierLarge  Tier = "large"
)

// Sentinel errors, per spec §4.3. Callers compare with errors.Is.
var (
	// ErrRateLimited is retryable with backoff.
	ErrRateLimited = errors.New("llm rate limited")
	// ErrModelError is a transient provider-side failure.
	ErrModelError = errors.New("llm model error")
	// ErrInvalidResponse is non-retryable: the provider returned something
	// the client could not interpret as a completion.
	ErrInvalidResponse = errors.New("llm invalid response")
)

// Completion is the result of a single completion call.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Client is the LMClient port.
type Client interface {
	// Complete issues one completion call at tier, bounded to
	// maxOutputTokens.
	Complete(ctx context.Context, tier Tier, prompt string, maxOutputTokens int) (Completion, error)
}
