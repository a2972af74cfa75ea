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

// Package cascade implements the ModelCascade: a cost-optimizing
// dispatcher that routes each validation call first to a cheap small
// model, escalating to mid- and top-tier models only when the cheaper
// attempt is deemed insufficient, while accounting tokens and dollars.
package cascade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/pkg/llmclient"
	"github.com/jordigilh/ralph-core/pkg/schema"
)

// tracerName identifies this package's spans in whatever TracerProvider the
// process has configured. With no provider configured, otel.Tracer returns a
// no-op implementation, so Run and callTierAttempt carry zero overhead
// and zero test-visible side effects by default.
const tracerName = "github.com/jordigilh/ralph-core/pkg/cascade"

// Strategy restricts which tiers a cascade run may use.
type Strategy string

const (
	StrategyCascade    Strategy = "cascade"
	StrategySmallOnly  Strategy = "small_only"
	StrategyMediumOnly Strategy = "medium_only"
)

// ErrCascadeExhausted indicates every eligible tier was tried and none
// was sufficient or all errored.
var ErrCascadeExhausted = errors.New("cascade exhausted: no tier produced a sufficient result")

// Decision is the ModelCascade's output for one signal.
type Decision struct {
	Validated            bool
	Adjustment           float64
	Rationale            string
	RequiresManualReview bool
	TierUsed             llmclient.Tier
	TokensUsed           int
	CostUSD              float64
}

// llmDecision is the strict JSON contract the LM must return (spec §6.4).
type llmDecision struct {
	Validated            bool    `json:"validated"`
	ConfidenceAdjustment float64 `json:"confidence_adjustment"`
	Rationale            string  `json:"rationale"`
	RequiresManualReview bool    `json:"requires_manual_review"`
}

// Config configures a Cascade.
type Config struct {
	// Tiers is the ordered tier list, cheapest first, e.g.
	// [small, medium, large].
	Tiers []llmclient.Tier
	// CostPerMTok maps tier to $/million tokens.
	CostPerMTok map[llmclient.Tier]float64
	// MaxConfidenceAdjustment bounds |confidence_adjustment| for
	// sufficiency (spec §4.4 step 5).
	MaxConfidenceAdjustment float64
	// SmallFailureThreshold is the consecutive small-tier failure count
	// (across distinct signals) that shifts the batch's starting tier to
	// medium (spec §4.4 tie-break).
	SmallFailureThreshold int
	// MaxOutputTokens bounds each completion call.
	MaxOutputTokens int
}

// Cascade wraps an llmclient.Client with tier escalation, per-tier circuit
// breaking, and cost accounting.
type Cascade struct {
	llm      llmclient.Client
	cfg      Config
	logger   *zap.Logger
	breakers map[llmclient.Tier]*gobreaker.CircuitBreaker[llmclient.Completion]

	mu                    sync.Mutex
	consecutiveSmallFails int
	startTierShifted      bool

	totalCostUSD atomic.Value // float64

	tracer trace.Tracer
}

// New constructs a Cascade over llm, using cfg. One gobreaker per tier
// (name "cascade-<tier>") opens when a tier is failing systemically,
// causing the cascade to escalate immediately rather than waiting out the
// manual backoff.
func New(llm llmclient.Client, cfg Config, logger *zap.Logger) *Cascade {
	breakers := make(map[llmclient.Tier]*gobreaker.CircuitBreaker[llmclient.Completion], len(cfg.Tiers))
	for _, tier := range cfg.Tiers {
		tier := tier
		breakers[tier] = gobreaker.NewCircuitBreaker[llmclient.Completion](gobreaker.Settings{
			Name:        fmt.Sprintf("cascade-%s", tier),
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	c := &Cascade{
		llm:      llm,
		cfg:      cfg,
		logger:   logger,
		breakers: breakers,
		tracer:   otel.Tracer(tracerName),
	}
	c.totalCostUSD.Store(float64(0))
	return c
}

// TotalCostUSD returns the cumulative cost accounted across every Run call
// on this Cascade instance.
func (c *Cascade) TotalCostUSD() float64 {
	return c.totalCostUSD.Load().(float64)
}

func (c *Cascade) addCost(delta float64) {
	for {
		old := c.totalCostUSD.Load().(float64)
		if c.totalCostUSD.CompareAndSwap(old, old+delta) {
			return
		}
	}
}

func (c *Cascade) tiersForStrategy(strategy Strategy) []llmclient.Tier {
	switch strategy {
	case StrategySmallOnly:
		return []llmclient.Tier{llmclient.TierSmall}
	case StrategyMediumOnly:
		return []llmclient.Tier{llmclient.TierMedium}
	default:
		return c.startingTiers()
	}
}

// startingTiers returns the configured tier order, shifted to start at
// medium if the adaptive fallback has tripped for this batch.
func (c *Cascade) startingTiers() []llmclient.Tier {
	c.mu.Lock()
	shifted := c.startTierShifted
	c.mu.Unlock()

	if !shifted {
		return c.cfg.Tiers
	}

	var shiftedTiers []llmclient.Tier
	skipping := true
	for _, tier := range c.cfg.Tiers {
		if tier == llmclient.TierSmall && skipping {
			continue
		}
		skipping = false
		shiftedTiers = append(shiftedTiers, tier)
	}
	if len(shiftedTiers) == 0 {
		return c.cfg.Tiers
	}
	return shiftedTiers
}

func (c *Cascade) recordTierOutcome(tier llmclient.Tier, failed bool) {
	if tier != llmclient.TierSmall {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if failed {
		c.consecutiveSmallFails++
		if c.consecutiveSmallFails >= c.cfg.SmallFailureThreshold && !c.startTierShifted {
			c.startTierShifted = true
			c.logger.Warn("cascade: shifting starting tier to medium after repeated small-tier failures",
				zap.Int("consecutive_failures", c.consecutiveSmallFails))
		}
		return
	}
	c.consecutiveSmallFails = 0
}

// Run executes one validation job: escalating through tiers until a
// sufficient result is found or every eligible tier has been tried.
func (c *Cascade) Run(ctx context.Context, signal schema.Signal, priorSignals []schema.Signal, strategy Strategy) (Decision, error) {
	ctx, span := c.tracer.Start(ctx, "cascade.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("cascade.signal_id", signal.ID),
		attribute.String("cascade.strategy", string(strategy)),
	)

	tiers := c.tiersForStrategy(strategy)
	if len(tiers) == 0 {
		return Decision{}, fmt.Errorf("%w: no tiers configured", ErrCascadeExhausted)
	}

	prompt, err := buildPrompt(signal, priorSignals)
	if err != nil {
		return Decision{}, fmt.Errorf("cascade: failed to build prompt: %w", err)
	}

	var lastDecision Decision
	var haveResult bool

	for i, tier := range tiers {
		isTopTier := i == len(tiers)-1

		completion, err := c.callTierWithBackoff(ctx, tier, prompt)
		if err != nil {
			c.recordTierOutcome(tier, true)
			if isTopTier {
				break
			}
			continue
		}
		c.recordTierOutcome(tier, false)

		cost := tokenCost(completion.InputTokens+completion.OutputTokens, c.cfg.CostPerMTok[tier])
		c.addCost(cost)

		parsed, ok := parseDecision(completion.Text, c.cfg.MaxConfidenceAdjustment)
		decision := Decision{
			Validated:            parsed.Validated,
			Adjustment:           parsed.ConfidenceAdjustment,
			Rationale:            parsed.Rationale,
			RequiresManualReview: parsed.RequiresManualReview,
			TierUsed:             tier,
			TokensUsed:           completion.InputTokens + completion.OutputTokens,
			CostUSD:              cost,
		}
		lastDecision = decision
		haveResult = true

		sufficient := ok &&
			abs(parsed.ConfidenceAdjustment) <= c.cfg.MaxConfidenceAdjustment &&
			parsed.Rationale != "" &&
			(!parsed.RequiresManualReview || isTopTier)

		if sufficient || isTopTier {
			return decision, nil
		}
		// Insufficient and a higher tier remains: escalate.
	}

	if haveResult {
		return lastDecision, nil
	}

	return Decision{}, ErrCascadeExhausted
}

// callTierWithBackoff calls tier through its circuit breaker, retrying on
// RateLimited with exponential backoff (base 1s, factor 2, cap 60s, max 3
// attempts) before giving up on this tier.
func (c *Cascade) callTierWithBackoff(ctx context.Context, tier llmclient.Tier, prompt string) (llmclient.Completion, error) {
	breaker := c.breakers[tier]

	const maxAttempts = 3
	backoff := time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		completion, err := c.callTierAttempt(ctx, breaker, tier, prompt, attempt)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if !errors.Is(err, llmclient.ErrRateLimited) {
			return llmclient.Completion{}, err
		}

		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return llmclient.Completion{}, ctx.Err()
		}
		backoff *= 2
		if backoff > 60*time.Second {
			backoff = 60 * time.Second
		}
	}

	return llmclient.Completion{}, lastErr
}

// callTierAttempt wraps a single breaker-gated completion call in its own
// span, named after the tier and attempt number, per spec.md §3.10's
// requirement that each ModelCascade tier attempt be individually traced.
func (c *Cascade) callTierAttempt(ctx context.Context, breaker *gobreaker.CircuitBreaker[llmclient.Completion], tier llmclient.Tier, prompt string, attempt int) (llmclient.Completion, error) {
	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("cascade.tier.%s", tier))
	defer span.End()
	span.SetAttributes(
		attribute.String("cascade.tier", string(tier)),
		attribute.Int("cascade.attempt", attempt),
	)

	completion, err := breaker.Execute(func() (llmclient.Completion, error) {
		return c.llm.Complete(ctx, tier, prompt, c.cfg.MaxOutputTokens)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return completion, err
	}
	span.SetAttributes(attribute.Int("cascade.tokens_used", completion.InputTokens+completion.OutputTokens))
	return completion, nil
}

// parseDecision strictly parses the LM's JSON contract. Any deviation is a
// parse failure (ok=false), treated as insufficient.
func parseDecision(text string, maxAdjustment float64) (llmDecision, bool) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return llmDecision{}, false
	}
	if len(raw) != 4 {
		return llmDecision{}, false
	}
	for _, key := range []string{"validated", "confidence_adjustment", "rationale", "requires_manual_review"} {
		if _, ok := raw[key]; !ok {
			return llmDecision{}, false
		}
	}

	var decision llmDecision
	if err := json.Unmarshal([]byte(text), &decision); err != nil {
		return llmDecision{}, false
	}
	if decision.ConfidenceAdjustment < -maxAdjustment || decision.ConfidenceAdjustment > maxAdjustment {
		return llmDecision{}, false
	}
	if len(decision.Rationale) == 0 || len(decision.Rationale) > 500 {
		return llmDecision{}, false
	}

	return decision, true
}

func tokenCost(tokens int, costPerMTok float64) float64 {
	return float64(tokens) / 1_000_000 * costPerMTok
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
