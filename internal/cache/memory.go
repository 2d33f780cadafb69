// Package cache stores the candidate set produced by classify so that a later confirm call can
// look it up by an opaque context identifier.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// Defaults for the candidate context store.
const (
	DefaultContextTTL = 30 * time.Minute
	DefaultMaxItems   = 10000
)

// MemoryContextStore keeps candidate sets in an in-process LRU whose entries expire after the
// configured TTL.
type MemoryContextStore struct {
	lru *expirable.LRU[string, domain.PredictionSet]
	ttl time.Duration
}

// NewMemoryContextStore creates an in-memory store.
func NewMemoryContextStore(maxItems int, ttl time.Duration) *MemoryContextStore {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if ttl <= 0 {
		ttl = DefaultContextTTL
	}
	return &MemoryContextStore{
		lru: expirable.NewLRU[string, domain.PredictionSet](maxItems, nil, ttl),
		ttl: ttl,
	}
}

// Save stores the candidates under a fresh identifier.
func (s *MemoryContextStore) Save(_ context.Context, candidates domain.PredictionSet) (string, error) {
	id := uuid.New().String()
	s.lru.Add(id, candidates)
	return id, nil
}

// Load returns the candidates stored under id.
func (s *MemoryContextStore) Load(_ context.Context, id string) (domain.PredictionSet, error) {
	candidates, ok := s.lru.Get(id)
	if !ok {
		return domain.PredictionSet{}, fmt.Errorf("%w: %s", domain.ErrContextNotFound, id)
	}
	return candidates, nil
}

// Len returns the number of live entries.
func (s *MemoryContextStore) Len() int {
	return s.lru.Len()
}

// Close drops every entry.
func (s *MemoryContextStore) Close() error {
	s.lru.Purge()
	return nil
}
