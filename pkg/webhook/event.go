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

package webhook

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

var eventValidate = validator.New()

// Validate runs struct-tag validation against the decoded event, rejecting
// anything missing a required field or an empty evidence array.
func (e InboundEvent) Validate() error {
	return eventValidate.Struct(e)
}

// InboundEvent is the canonical inbound webhook event shape: a webhook
// identifier, an entity, a signal block, and a non-empty evidence array.
// The signature covering the raw body is verified before this is ever
// unmarshaled.
type InboundEvent struct {
	WebhookID  string         `json:"webhook_id" validate:"required"`
	EntityID   string         `json:"entity_id" validate:"required"`
	EntityName string         `json:"entity_name" validate:"required"`
	Signal     EventSignal    `json:"signal" validate:"required"`
	Evidence   []EventEvidence `json:"evidence" validate:"required,min=1,dive"`
}

// EventSignal is the signal block of an InboundEvent.
type EventSignal struct {
	Type       schema.SignalType      `json:"type" validate:"required"`
	Confidence float64                `json:"confidence" validate:"gte=0,lte=1"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// EventEvidence is one evidence item as received over the wire. Unlike
// schema.Evidence, CredibilityScore is optional here: a source missing it
// falls back to the configured per-source-type default (spec.md §4.6).
type EventEvidence struct {
	Source           string     `json:"source" validate:"required"`
	CredibilityScore *float64   `json:"credibility_score,omitempty"`
	URL              string     `json:"url,omitempty"`
	Date             *time.Time `json:"date,omitempty"`
	ExtractedText    string     `json:"extracted_text,omitempty"`
}

// toSignal converts the event into a raw schema.Signal, seeding any
// missing per-item credibility from sourceCredibility (keyed by lowercased
// source label) and falling back to defaultCredibility otherwise.
func (e InboundEvent) toSignal(sourceCredibility map[string]float64, defaultCredibility float64) schema.Signal {
	evidence := make([]schema.Evidence, 0, len(e.Evidence))
	for _, item := range e.Evidence {
		credibility := defaultCredibility
		if item.CredibilityScore != nil {
			credibility = *item.CredibilityScore
		} else if v, ok := sourceCredibility[strings.ToLower(item.Source)]; ok {
			credibility = v
		}

		evidence = append(evidence, schema.Evidence{
			Source:           item.Source,
			CredibilityScore: schema.Clamp(credibility, 0, 1),
			URL:              item.URL,
			Date:             item.Date,
			ExtractedText:    item.ExtractedText,
		})
	}

	signal := schema.NewSignal(
		fmt.Sprintf("%s-%s", e.WebhookID, e.EntityID),
		e.Signal.Type,
		e.EntityID,
		e.Signal.Confidence,
	)
	signal.Metadata = e.Signal.Metadata
	signal.Evidence = evidence

	return *signal
}
