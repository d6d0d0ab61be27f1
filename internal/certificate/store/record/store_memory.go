package record

import (
	"context"
	"sync"

	"certfsm/internal/certificate/models"
)

// InMemory is an append-only transition record store for tests and
// single-process deployments.
type InMemory struct {
	mu      sync.RWMutex
	records []models.TransitionRecord
}

func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, rec models.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *InMemory) ListByDomain(ctx context.Context, domain string) ([]models.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TransitionRecord
	for _, rec := range s.records {
		if rec.Domain == domain {
			out = append(out, rec)
		}
	}
	return out, nil
}

// All returns every record in insertion order; used by tests.
func (s *InMemory) All() []models.TransitionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.TransitionRecord, len(s.records))
	copy(out, s.records)
	return out
}
