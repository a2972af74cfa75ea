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

// Package postgres is the production GraphStore adapter, backed by a
// pgxpool.Pool. Schema migrations live under postgres/migrations and are
// applied with golang-migrate.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jordigilh/ralph-core/pkg/graphstore"
	"github.com/jordigilh/ralph-core/pkg/schema"
)

// Store is the pgx-backed GraphStore.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a pgxpool.Pool to dsn and verifies connectivity with a
// Ping. The caller owns the returned Store's lifetime and must call Close.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graphstore.ErrStoreUnavailable, err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", graphstore.ErrStoreUnavailable, err)
	}

	return &Store{pool: pool}, nil
}

// Close releases the pool's connections.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) GetEntitySignals(ctx context.Context, entityID string, timeHorizonDays int) ([]schema.Signal, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -timeHorizonDays)

	rows, err := s.pool.Query(ctx, `
		SELECT id, type, confidence, first_seen, entity_id, metadata,
		       evidence, validation_pass, validated, confidence_validation, state
		FROM signals
		WHERE entity_id = $1 AND first_seen >= $2
		ORDER BY first_seen DESC
	`, entityID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graphstore.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var result []schema.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", graphstore.ErrStoreUnavailable, err)
		}
		result = append(result, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", graphstore.ErrStoreUnavailable, err)
	}

	return result, nil
}

func (s *Store) UpsertSignal(ctx context.Context, signal schema.Signal) error {
	if signal.ID == "" || signal.EntityID == "" || signal.Confidence < 0 || signal.Confidence > 1 {
		return graphstore.ErrSchemaInvalid
	}

	metadata, err := json.Marshal(signal.Metadata)
	if err != nil {
		return fmt.Errorf("%w: %v", graphstore.ErrSchemaInvalid, err)
	}
	evidence, err := json.Marshal(signal.Evidence)
	if err != nil {
		return fmt.Errorf("%w: %v", graphstore.ErrSchemaInvalid, err)
	}
	var confidenceValidation []byte
	if signal.ConfidenceValidation != nil {
		confidenceValidation, err = json.Marshal(signal.ConfidenceValidation)
		if err != nil {
			return fmt.Errorf("%w: %v", graphstore.ErrSchemaInvalid, err)
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO signals (id, type, confidence, first_seen, entity_id, metadata,
		                      evidence, validation_pass, validated, confidence_validation, state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			confidence = EXCLUDED.confidence,
			first_seen = EXCLUDED.first_seen,
			metadata = EXCLUDED.metadata,
			evidence = EXCLUDED.evidence,
			validation_pass = EXCLUDED.validation_pass,
			validated = EXCLUDED.validated,
			confidence_validation = EXCLUDED.confidence_validation,
			state = EXCLUDED.state
	`, signal.ID, string(signal.Type), signal.Confidence, signal.FirstSeen, signal.EntityID,
		metadata, evidence, signal.ValidationPass, signal.Validated, confidenceValidation, string(signal.State))
	if err != nil {
		return fmt.Errorf("%w: %v", graphstore.ErrStoreUnavailable, err)
	}

	return nil
}

func (s *Store) GetAllEntities(ctx context.Context) ([]schema.Entity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT entity_id, entity_name, tier, metadata
		FROM entities
		ORDER BY entity_id
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", graphstore.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var result []schema.Entity
	for rows.Next() {
		var (
			e        schema.Entity
			metadata []byte
		)
		if err := rows.Scan(&e.EntityID, &e.EntityName, &e.Tier, &metadata); err != nil {
			return nil, fmt.Errorf("%w: %v", graphstore.ErrStoreUnavailable, err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("%w: %v", graphstore.ErrStoreUnavailable, err)
			}
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", graphstore.ErrStoreUnavailable, err)
	}

	return result, nil
}

func (s *Store) UpdateEntityTier(ctx context.Context, entityID, tier string, metadata map[string]interface{}) error {
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("%w: %v", graphstore.ErrSchemaInvalid, err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE entities
		SET tier = $2, metadata = metadata || $3::jsonb
		WHERE entity_id = $1
	`, entityID, tier, encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", graphstore.ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return graphstore.ErrEntityNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSignal(row rowScanner) (schema.Signal, error) {
	var (
		sig                   schema.Signal
		signalType            string
		metadata              []byte
		evidence              []byte
		confidenceValidation  []byte
		state                 string
	)

	if err := row.Scan(&sig.ID, &signalType, &sig.Confidence, &sig.FirstSeen, &sig.EntityID,
		&metadata, &evidence, &sig.ValidationPass, &sig.Validated, &confidenceValidation, &state); err != nil {
		return schema.Signal{}, err
	}

	sig.Type = schema.SignalType(signalType)
	sig.State = schema.SignalState(state)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sig.Metadata); err != nil {
			return schema.Signal{}, err
		}
	}
	if len(evidence) > 0 {
		if err := json.Unmarshal(evidence, &sig.Evidence); err != nil {
			return schema.Signal{}, err
		}
	}
	if len(confidenceValidation) > 0 {
		var cv schema.ConfidenceValidation
		if err := json.Unmarshal(confidenceValidation, &cv); err != nil {
			return schema.Signal{}, err
		}
		sig.ConfidenceValidation = &cv
	}

	return sig, nil
}

var _ graphstore.Store = (*Store)(nil)
