// Package store declares the persistence contracts for the domain registry
// and the transition audit trail. Stores are interface-driven so in-memory,
// PostgreSQL, and Redis implementations can be swapped without touching the
// engine; they return pkg/platform/sentinel errors which services translate
// into domain errors.
package store

import (
	"context"

	"certfsm/internal/certificate/models"
)

// DomainStore owns Domain records. CommitTransition is the sole mutator and
// enforces optimistic concurrency: the caller presents the version it last
// read and a mismatch yields sentinel.ErrVersionConflict. All writes are
// atomic with respect to a single domain.
type DomainStore interface {
	// Create registers a domain; sentinel.ErrAlreadyExists on duplicate name.
	Create(ctx context.Context, domain *models.Domain) error
	// FindByName returns a copy of the domain; sentinel.ErrNotFound otherwise.
	FindByName(ctx context.Context, name string) (*models.Domain, error)
	// List returns all domains ordered by name.
	List(ctx context.Context) ([]*models.Domain, error)
	// CommitTransition atomically applies one validated transition and
	// returns the committed domain. Fails with sentinel.ErrNotFound or
	// sentinel.ErrVersionConflict.
	CommitTransition(ctx context.Context, name string, expectedVersion int64, commit models.TransitionCommit) (*models.Domain, error)
}

// RecordStore is the append-only transition audit trail.
type RecordStore interface {
	Append(ctx context.Context, record models.TransitionRecord) error
	// ListByDomain returns records for a domain in insertion order.
	ListByDomain(ctx context.Context, domain string) ([]models.TransitionRecord, error)
}
