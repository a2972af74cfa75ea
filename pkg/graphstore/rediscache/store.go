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

// Package rediscache decorates any graphstore.Store with a read-through
// cache of the two list operations (get_entity_signals, get_all_entities).
// It is purely a performance layer: cache misses forward untouched to the
// wrapped store, so the port's finiteness/ordering guarantees are
// preserved by construction.
package rediscache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jordigilh/ralph-core/pkg/graphstore"
	"github.com/jordigilh/ralph-core/pkg/schema"
)

// Store wraps a graphstore.Store with a redis read-through cache.
type Store struct {
	next   graphstore.Store
	client *redis.Client
	ttl    time.Duration
}

// New wraps next with a redis cache at client, entries expiring after ttl.
func New(next graphstore.Store, client *redis.Client, ttl time.Duration) *Store {
	return &Store{next: next, client: client, ttl: ttl}
}

func entitySignalsKey(entityID string, timeHorizonDays int) string {
	return fmt.Sprintf("ralph:entity_signals:%s:%d", entityID, timeHorizonDays)
}

const allEntitiesKey = "ralph:all_entities"

func (s *Store) GetEntitySignals(ctx context.Context, entityID string, timeHorizonDays int) ([]schema.Signal, error) {
	key := entitySignalsKey(entityID, timeHorizonDays)

	if cached, err := s.client.Get(ctx, key).Result(); err == nil {
		var signals []schema.Signal
		if jsonErr := json.Unmarshal([]byte(cached), &signals); jsonErr == nil {
			return signals, nil
		}
	}

	signals, err := s.next.GetEntitySignals(ctx, entityID, timeHorizonDays)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(signals); err == nil {
		s.client.Set(ctx, key, encoded, s.ttl)
	}

	return signals, nil
}

func (s *Store) UpsertSignal(ctx context.Context, signal schema.Signal) error {
	if err := s.next.UpsertSignal(ctx, signal); err != nil {
		return err
	}
	// Invalidate rather than update in place — the write path does not
	// know every timeHorizonDays key this signal might now appear under.
	s.client.Del(ctx, entitySignalsKey(signal.EntityID, 7))
	s.client.Del(ctx, entitySignalsKey(signal.EntityID, 30))
	return nil
}

func (s *Store) GetAllEntities(ctx context.Context) ([]schema.Entity, error) {
	if cached, err := s.client.Get(ctx, allEntitiesKey).Result(); err == nil {
		var entities []schema.Entity
		if jsonErr := json.Unmarshal([]byte(cached), &entities); jsonErr == nil {
			return entities, nil
		}
	}

	entities, err := s.next.GetAllEntities(ctx)
	if err != nil {
		return nil, err
	}

	if encoded, err := json.Marshal(entities); err == nil {
		s.client.Set(ctx, allEntitiesKey, encoded, s.ttl)
	}

	return entities, nil
}

func (s *Store) UpdateEntityTier(ctx context.Context, entityID, tier string, metadata map[string]interface{}) error {
	if err := s.next.UpdateEntityTier(ctx, entityID, tier, metadata); err != nil {
		return err
	}
	s.client.Del(ctx, allEntitiesKey)
	return nil
}

var _ graphstore.Store = (*Store)(nil)
