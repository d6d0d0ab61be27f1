package domain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"certfsm/internal/certificate/models"
	"certfsm/pkg/platform/sentinel"
)

// PostgresStore persists domains in PostgreSQL. It is pure I/O; transition
// semantics live in models.ApplyTransition and the commit is made atomic by a
// conditional UPDATE on the version column.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed domain store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the backing table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cert_domains (
			name               TEXT PRIMARY KEY,
			state              TEXT NOT NULL,
			certificate_ref    JSONB,
			pending_ref        JSONB,
			last_transition_at TIMESTAMPTZ NOT NULL,
			last_error         TEXT NOT NULL DEFAULT '',
			version            BIGINT NOT NULL,
			created_at         TIMESTAMPTZ NOT NULL,
			updated_at         TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate cert_domains: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, d *models.Domain) error {
	query := `
		INSERT INTO cert_domains (name, state, certificate_ref, pending_ref, last_transition_at, last_error, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	certRef, err := marshalRef(d.CertificateRef)
	if err != nil {
		return err
	}
	pendingRef, err := marshalRef(d.PendingRef)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, query,
		d.Name, string(d.State), certRef, pendingRef,
		d.LastTransitionAt, d.LastError, d.Version, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrAlreadyExists
		}
		return fmt.Errorf("create domain: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByName(ctx context.Context, name string) (*models.Domain, error) {
	row := s.db.QueryRowContext(ctx, selectDomain+` WHERE name = $1`, name)
	d, err := scanDomain(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find domain: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*models.Domain, error) {
	rows, err := s.db.QueryContext(ctx, selectDomain+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var out []*models.Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("list domains: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CommitTransition(ctx context.Context, name string, expectedVersion int64, commit models.TransitionCommit) (*models.Domain, error) {
	current, err := s.FindByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if current.Version != expectedVersion {
		return nil, sentinel.ErrVersionConflict
	}

	next := current.Clone()
	if err := next.ApplyTransition(commit); err != nil {
		return nil, err
	}

	certRef, err := marshalRef(next.CertificateRef)
	if err != nil {
		return nil, err
	}
	pendingRef, err := marshalRef(next.PendingRef)
	if err != nil {
		return nil, err
	}

	// The version predicate makes the commit a compare-and-swap: a concurrent
	// transition between our read and this write leaves zero rows updated.
	res, err := s.db.ExecContext(ctx, `
		UPDATE cert_domains
		SET state = $1, certificate_ref = $2, pending_ref = $3,
		    last_transition_at = $4, last_error = $5, version = $6, updated_at = $7
		WHERE name = $8 AND version = $9
	`,
		string(next.State), certRef, pendingRef,
		next.LastTransitionAt, next.LastError, next.Version, next.UpdatedAt,
		name, expectedVersion,
	)
	if err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	if affected == 0 {
		if _, err := s.FindByName(ctx, name); errors.Is(err, sentinel.ErrNotFound) {
			return nil, sentinel.ErrNotFound
		}
		return nil, sentinel.ErrVersionConflict
	}
	return next, nil
}

const selectDomain = `
	SELECT name, state, certificate_ref, pending_ref, last_transition_at, last_error, version, created_at, updated_at
	FROM cert_domains`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDomain(row rowScanner) (*models.Domain, error) {
	var (
		d          models.Domain
		state      string
		certRef    []byte
		pendingRef []byte
	)
	err := row.Scan(&d.Name, &state, &certRef, &pendingRef,
		&d.LastTransitionAt, &d.LastError, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.State = models.State(state)
	if d.CertificateRef, err = unmarshalRef(certRef); err != nil {
		return nil, err
	}
	if d.PendingRef, err = unmarshalRef(pendingRef); err != nil {
		return nil, err
	}
	return &d, nil
}

func marshalRef(ref *models.CertificateRef) ([]byte, error) {
	if ref == nil {
		return nil, nil
	}
	data, err := json.Marshal(ref)
	if err != nil {
		return nil, fmt.Errorf("marshal certificate ref: %w", err)
	}
	return data, nil
}

func unmarshalRef(data []byte) (*models.CertificateRef, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var ref models.CertificateRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("unmarshal certificate ref: %w", err)
	}
	return &ref, nil
}
