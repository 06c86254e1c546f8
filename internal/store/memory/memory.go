// Package memory keeps default provider records in process memory.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/yourorg/chain-explorer/internal/store"
	"github.com/yourorg/chain-explorer/internal/types"
)

type key struct {
	net types.Network
	op  types.Operation
}

// Store is a store.DefaultProviders held in a map
type Store struct {
	mu      sync.RWMutex
	records map[key]store.Record
}

var _ store.DefaultProviders = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{records: make(map[key]store.Record)}
}

// Get implements store.DefaultProviders
func (s *Store) Get(_ context.Context, net types.Network, op types.Operation) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key{net, op}]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

// Upsert implements store.DefaultProviders
func (s *Store) Upsert(_ context.Context, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key{rec.Network, rec.Operation}] = rec
	return nil
}

// List implements store.DefaultProviders
func (s *Store) List(_ context.Context) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].Operation < out[j].Operation
	})
	return out, nil
}

// Close implements store.DefaultProviders
func (s *Store) Close() error { return nil }
