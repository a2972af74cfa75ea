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

// Package memory is an in-process GraphStore fake, constructor-injected
// into RalphLoop/ModelCascade tests the way every other port's fake is
// injected — never a package-level singleton.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jordigilh/ralph-core/pkg/graphstore"
	"github.com/jordigilh/ralph-core/pkg/schema"
)

// Store is a thread-safe, in-memory implementation of graphstore.Store.
type Store struct {
	mu       sync.RWMutex
	signals  map[string]schema.Signal   // by signal id
	entities map[string]schema.Entity   // by entity id
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		signals:  make(map[string]schema.Signal),
		entities: make(map[string]schema.Entity),
	}
}

// SeedEntities pre-populates the entity population, e.g. for scheduler
// tests that need get_all_entities to return a fixed set.
func (s *Store) SeedEntities(entities ...schema.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entities {
		s.entities[e.EntityID] = e
	}
}

func (s *Store) GetEntitySignals(_ context.Context, entityID string, timeHorizonDays int) ([]schema.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -timeHorizonDays)
	var result []schema.Signal
	for _, sig := range s.signals {
		if sig.EntityID != entityID {
			continue
		}
		if sig.FirstSeen.Before(cutoff) {
			continue
		}
		result = append(result, sig)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].FirstSeen.After(result[j].FirstSeen)
	})

	return result, nil
}

func (s *Store) UpsertSignal(_ context.Context, signal schema.Signal) error {
	if signal.ID == "" || signal.EntityID == "" {
		return graphstore.ErrSchemaInvalid
	}
	if signal.Confidence < 0 || signal.Confidence > 1 {
		return graphstore.ErrSchemaInvalid
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals[signal.ID] = signal
	return nil
}

func (s *Store) GetAllEntities(_ context.Context) ([]schema.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]schema.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		result = append(result, e)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EntityID < result[j].EntityID
	})
	return result, nil
}

func (s *Store) UpdateEntityTier(_ context.Context, entityID, tier string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return graphstore.ErrEntityNotFound
	}

	e.Tier = tier
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	for k, v := range metadata {
		e.Metadata[k] = v
	}
	s.entities[entityID] = e
	return nil
}

var _ graphstore.Store = (*Store)(nil)
