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

// Package graphstore defines the GraphStore port: the narrow contract the
// core depends on to persist validated signals and enumerate entities. The
// core never issues ad-hoc queries — every read and write goes through
// these four operations.
package graphstore

import (
	"context"
	"errors"

	"github.com/jordigilh/ralph-core/pkg/schema"
)

// Sentinel errors returned by every GraphStore implementation, per spec
// §4.2/§6.3. Callers compare with errors.Is.
var (
	// ErrStoreUnavailable indicates an infrastructure failure (connection,
	// timeout) rather than a data problem. Retryable.
	ErrStoreUnavailable = errors.New("graph store unavailable")

	// ErrSchemaInvalid indicates the caller attempted to upsert a signal
	// missing required fields or violating a range invariant. Not
	// retryable — the caller has a bug.
	ErrSchemaInvalid = errors.New("signal schema invalid")

	// ErrEntityNotFound indicates update_entity_tier targeted an entity
	// the store has never seen.
	ErrEntityNotFound = errors.New("entity not found")
)

// Store is the GraphStore port (spec §4.2).
type Store interface {
	// GetEntitySignals returns signals for entityID within the last
	// timeHorizonDays, newest-first. Finite, may be empty.
	GetEntitySignals(ctx context.Context, entityID string, timeHorizonDays int) ([]schema.Signal, error)

	// UpsertSignal inserts or replaces a signal, keyed by signal.ID.
	UpsertSignal(ctx context.Context, signal schema.Signal) error

	// GetAllEntities returns the current entity population. Finite.
	GetAllEntities(ctx context.Context) ([]schema.Entity, error)

	// UpdateEntityTier idempotently sets entityID's tier and merges
	// metadata.
	UpdateEntityTier(ctx context.Context, entityID, tier string, metadata map[string]interface{}) error
}
