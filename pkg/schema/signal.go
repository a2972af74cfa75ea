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

// Package schema defines the immutable record types shared by every core
// package: Entity, Signal, Evidence, and ConfidenceValidation. Additions to
// these types are permitted; renames and removals are not — the whole
// pipeline depends on field presence.
package schema

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
)

// SignalType is the closed set of signal kinds the core recognizes. New
// values may be added; existing ones are never renamed.
type SignalType string

const (
	SignalTypeRFPDetected       SignalType = "RFP_DETECTED"
	SignalTypeExecutiveChange   SignalType = "EXECUTIVE_CHANGE"
	SignalTypePartnershipFormed SignalType = "PARTNERSHIP_FORMED"
	SignalTypeTechnologyAdopted SignalType = "TECHNOLOGY_ADOPTED"
)

// SignalState tracks a signal's position in the RalphLoop state machine
// (spec §4.5): received -> passed_1 -> passed_2 -> passed_3_validated ->
// persisted, with terminal rejected_* states.
type SignalState string

const (
	SignalStateReceived               SignalState = "received"
	SignalStatePassed1                SignalState = "passed_1"
	SignalStatePassed2                SignalState = "passed_2"
	SignalStatePassed3Validated       SignalState = "passed_3_validated"
	SignalStatePersisted               SignalState = "persisted"
	SignalStateRejectedPass1          SignalState = "rejected_pass_1"
	SignalStateRejectedPass2          SignalState = "rejected_pass_2"
	SignalStateRejectedPass3Duplicate SignalState = "rejected_pass_3_duplicate"
	SignalStateRejectedPersistFailure SignalState = "rejected_persist_failure"
)

// Evidence is a single source supporting a Signal. CredibilityScore is the
// claimed credibility from the producing scraper; the core never mutates
// it once attached.
type Evidence struct {
	Source           string                 `json:"source" validate:"required"`
	CredibilityScore float64                `json:"credibility_score" validate:"gte=0,lte=1"`
	URL              string                 `json:"url,omitempty"`
	Date             *time.Time             `json:"date,omitempty"`
	ExtractedText    string                 `json:"extracted_text,omitempty"`
	Type             string                 `json:"type,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// ConfidenceValidation is the audit record Pass 2 attaches to a signal.
type ConfidenceValidation struct {
	OriginalConfidence   float64   `json:"original_confidence" validate:"gte=0,lte=1"`
	ValidatedConfidence  float64   `json:"validated_confidence" validate:"gte=0,lte=1"`
	Adjustment           float64   `json:"adjustment"`
	Rationale            string    `json:"rationale" validate:"max=500"`
	RequiresManualReview bool      `json:"requires_manual_review"`
	ModelUsed            string    `json:"model_used" validate:"required"`
	ValidationTimestamp  time.Time `json:"validation_timestamp" validate:"required"`
}

// Signal is a detected event about an Entity.
type Signal struct {
	ID                   string                 `json:"id" validate:"required"`
	Type                 SignalType             `json:"type" validate:"required"`
	Confidence           float64                `json:"confidence" validate:"gte=0,lte=1"`
	FirstSeen            time.Time              `json:"first_seen" validate:"required"`
	EntityID             string                 `json:"entity_id" validate:"required"`
	Metadata             map[string]interface{} `json:"metadata,omitempty"`
	Evidence             []Evidence             `json:"evidence,omitempty" validate:"dive"`
	ValidationPass       int                    `json:"validation_pass" validate:"gte=0,lte=3"`
	Validated            bool                   `json:"validated"`
	ConfidenceValidation *ConfidenceValidation  `json:"confidence_validation,omitempty"`
	State                SignalState            `json:"state,omitempty"`
}

// Entity is a monitored organization. Tier is the only property the core
// writes; everything else is created and owned by upstream ingest.
type Entity struct {
	EntityID   string                 `json:"entity_id" validate:"required"`
	EntityName string                 `json:"entity_name" validate:"required"`
	Tier       string                 `json:"tier" validate:"omitempty,oneof=premium active dormant"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

var validate = validator.New()

// Validate runs go-playground/validator struct-tag validation against s.
func (s *Signal) Validate() error {
	return validate.Struct(s)
}

// Validate runs go-playground/validator struct-tag validation against e.
func (e *Entity) Validate() error {
	return validate.Struct(e)
}

// ToMap round-trips s through JSON into a plain map, for the GraphStore
// boundary — conversions happen once at egress, never scattered through
// the pipeline.
func (s *Signal) ToMap() (map[string]interface{}, error) {
	return toMap(s)
}

// SignalFromMap populates a Signal from a plain map produced by ToMap (or an
// equivalent GraphStore row).
func SignalFromMap(m map[string]interface{}) (*Signal, error) {
	var s Signal
	if err := fromMap(m, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ToMap round-trips e through JSON into a plain map.
func (e *Entity) ToMap() (map[string]interface{}, error) {
	return toMap(e)
}

// EntityFromMap populates an Entity from a plain map.
func EntityFromMap(m map[string]interface{}) (*Entity, error) {
	var e Entity
	if err := fromMap(m, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var result map[string]interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func fromMap(m map[string]interface{}, v interface{}) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// NewSignal creates a raw, unvalidated Signal ready for Pass 1.
func NewSignal(id string, signalType SignalType, entityID string, confidence float64) *Signal {
	return &Signal{
		ID:             id,
		Type:           signalType,
		Confidence:     confidence,
		EntityID:       entityID,
		FirstSeen:      time.Now().UTC(),
		Evidence:       []Evidence{},
		ValidationPass: 0,
		Validated:      false,
		State:          SignalStateReceived,
	}
}

// Clamp restricts v to the closed interval [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
