// Package memory provides an in-process persistence implementation, used in
// one-shot runs and tests.
package memory

import (
	"context"
	"sync"

	"github.com/quarryd/quarry/internal/harvest"
)

// Store keeps stored workflow results in memory.
type Store struct {
	mu      sync.Mutex
	results []harvest.WorkflowResult
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Store appends a snapshot of the result.
func (s *Store) Store(_ context.Context, result *harvest.WorkflowResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, *result)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error {
	return nil
}

// Results returns a copy of everything stored so far.
func (s *Store) Results() []harvest.WorkflowResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]harvest.WorkflowResult, len(s.results))
	copy(out, s.results)
	return out
}
