// Package memstore provides an in-memory implementation of store.Store
// for tests and the demonstration CLI's default configuration. It holds
// no durability across process restarts.
//
// Modeled on goa-ai's runtime/agent/run/inmem package: a
// sync.RWMutex-guarded map with defensive copies on read and write.
package memstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/kestrel-systems/harness/internal/store"
)

// Store implements store.Store in memory with no durability.
type Store struct {
	mu      sync.RWMutex
	records map[string]store.State
}

// New constructs an empty Store, immediately ready for use.
func New() *Store {
	return &Store{records: make(map[string]store.State)}
}

func (s *Store) Persist(_ context.Context, id string, state store.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id] = clone(state)
	return nil
}

func (s *Store) Restore(_ context.Context, id string) (store.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.records[id]
	if !ok {
		return store.State{}, store.ErrNotFound
	}
	return clone(state), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

// IsAvailable is always true: the in-memory store has no external
// dependency that can be unavailable.
func (s *Store) IsAvailable(context.Context) bool { return true }

// clone defensively copies state via its wire format so stored records
// are never aliased with a caller's mutable State.
func clone(state store.State) store.State {
	data, err := json.Marshal(state)
	if err != nil {
		return state
	}
	var copied store.State
	if err := json.Unmarshal(data, &copied); err != nil {
		return state
	}
	return copied
}
