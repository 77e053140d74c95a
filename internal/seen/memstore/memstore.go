// Package memstore provides an in-memory implementation of seen.Store.
package memstore

import (
	"context"
	"sync"
	"time"
)

// Store holds the dedup ledger in memory. Suitable for dev/testing; the
// ledger is lost on restart.
type Store struct {
	mu     sync.RWMutex
	marked map[int64]time.Time // revision ID -> time marked
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{marked: make(map[int64]time.Time)}
}

// Seen reports whether a revision was previously marked.
func (s *Store) Seen(_ context.Context, revisionID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.marked[revisionID]
	return ok, nil
}

// Mark records a revision.
func (s *Store) Mark(_ context.Context, revisionID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.marked[revisionID]; !ok {
		s.marked[revisionID] = time.Now()
	}
	return nil
}

// Sweep deletes entries marked before the cutoff.
func (s *Store) Sweep(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for rev, at := range s.marked {
		if at.Before(before) {
			delete(s.marked, rev)
			n++
		}
	}
	return n, nil
}
