package domain

import (
	"context"
	"sort"
	"sync"

	"certfsm/internal/certificate/models"
	"certfsm/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded domain store for tests and single-process
// deployments. The per-domain optimistic version check mirrors what the
// PostgreSQL and Redis stores enforce, so engine behavior is identical across
// backends.
type InMemory struct {
	mu      sync.RWMutex
	domains map[string]*models.Domain
}

func NewInMemory() *InMemory {
	return &InMemory{domains: make(map[string]*models.Domain)}
}

func (s *InMemory) Create(ctx context.Context, d *models.Domain) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.domains[d.Name]; ok {
		return sentinel.ErrAlreadyExists
	}
	s.domains[d.Name] = d.Clone()
	return nil
}

func (s *InMemory) FindByName(ctx context.Context, name string) (*models.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.domains[name]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return d.Clone(), nil
}

func (s *InMemory) List(ctx context.Context) ([]*models.Domain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Domain, 0, len(s.domains))
	for _, d := range s.domains {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) CommitTransition(ctx context.Context, name string, expectedVersion int64, commit models.TransitionCommit) (*models.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.domains[name]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, sentinel.ErrVersionConflict
	}

	// Apply on a clone first so a rejected commit leaves the stored record
	// untouched.
	next := current.Clone()
	if err := next.ApplyTransition(commit); err != nil {
		return nil, err
	}
	s.domains[name] = next
	return next.Clone(), nil
}
