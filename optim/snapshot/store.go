// Package snapshot holds the current inventory facts and keeps them fresh.
//
// Store is the single source of truth read by optimization cycles; Collector
// feeds it from a Source on a fixed interval.
package snapshot

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/stockflow/invopt/optim"
)

// Store keeps the latest Snapshot. Readers never block: Current is a single
// atomic load. Writers are serialized so versions stay strictly increasing.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[optim.Snapshot]
}

// NewStore returns a store serving an empty version-0 snapshot.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(optim.NewSnapshot(0, time.Time{}, nil))
	return s
}

// Current returns the latest snapshot. Never nil.
func (s *Store) Current() *optim.Snapshot {
	return s.current.Load()
}

// Refresh replaces the snapshot wholesale with a deep copy of records and
// returns the new snapshot. The version is one above the previous.
func (s *Store) Refresh(records []optim.SKURecord, capturedAt time.Time) *optim.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := optim.NewSnapshot(s.current.Load().Version+1, capturedAt, records)
	s.current.Store(next)
	return next
}

// Version returns the current snapshot version.
func (s *Store) Version() uint64 {
	return s.current.Load().Version
}
