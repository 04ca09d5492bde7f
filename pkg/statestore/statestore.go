// Package statestore holds the process-local view of execution
// lifecycle state. It is intentionally not shared across processes;
// cross-process truth lives in the durable store and on disk.
package statestore

import (
	"sync"
	"time"

	"github.com/loadworks/loadoor/pkg/loadtest"
)

// Entry is one execution's ephemeral state.
type Entry struct {
	ExecutionID string
	Status      loadtest.Status
	StartedAt   *time.Time
	EndedAt     *time.Time
	UpdatedAt   time.Time
}

// Store is the injectable ephemeral status store. Implementations must
// be safe for concurrent use.
type Store interface {
	MarkQueued(executionID string)
	SetStatus(executionID string, status loadtest.Status)
	Get(executionID string) (Entry, bool)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewStore creates an empty in-memory store.
func NewStore() Store {
	return &store{
		entries: make(map[string]*Entry, 16),
	}
}

// MarkQueued registers a fresh execution in the queued state.
func (s *store) MarkQueued(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.entries[executionID] = &Entry{
		ExecutionID: executionID,
		Status:      loadtest.StatusQueued,
		UpdatedAt:   now,
	}
}

// SetStatus advances an execution's state. Transitions into running set
// the start time; transitions into a terminal state set the end time.
// A regressed status (lower order than the current one) is ignored.
func (s *store) SetStatus(executionID string, status loadtest.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	e, ok := s.entries[executionID]
	if !ok {
		e = &Entry{ExecutionID: executionID}
		s.entries[executionID] = e
	}

	if status.Order() < e.Status.Order() {
		return
	}

	e.Status = status
	e.UpdatedAt = now

	if status == loadtest.StatusRunning && e.StartedAt == nil {
		t := now
		e.StartedAt = &t
	}

	if status.Terminal() && e.EndedAt == nil {
		t := now
		e.EndedAt = &t
	}
}

// Get returns a copy of the entry for the given execution id.
func (s *store) Get(executionID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[executionID]
	if !ok {
		return Entry{}, false
	}

	return *e, true
}
