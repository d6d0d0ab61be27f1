package record

import (
	"context"
	"database/sql"
	"fmt"

	"certfsm/internal/certificate/models"
)

// PostgresStore persists transition records in PostgreSQL. Append-only: no
// update or delete paths exist.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed record store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the backing table when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cert_transition_records (
			id         UUID PRIMARY KEY,
			domain     TEXT NOT NULL,
			from_state TEXT NOT NULL,
			event      TEXT NOT NULL,
			to_state   TEXT NOT NULL DEFAULT '',
			outcome    TEXT NOT NULL,
			error      TEXT NOT NULL DEFAULT '',
			timestamp  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cert_transition_records_domain
			ON cert_transition_records (domain, timestamp)
	`)
	if err != nil {
		return fmt.Errorf("migrate cert_transition_records: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, rec models.TransitionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cert_transition_records (id, domain, from_state, event, to_state, outcome, error, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`,
		rec.ID, rec.Domain, string(rec.FromState), string(rec.Event),
		string(rec.ToState), string(rec.Outcome), rec.Error, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append transition record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByDomain(ctx context.Context, domain string) ([]models.TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, domain, from_state, event, to_state, outcome, error, timestamp
		FROM cert_transition_records
		WHERE domain = $1
		ORDER BY timestamp, id
	`, domain)
	if err != nil {
		return nil, fmt.Errorf("list transition records: %w", err)
	}
	defer rows.Close()

	var out []models.TransitionRecord
	for rows.Next() {
		var (
			rec                                models.TransitionRecord
			fromState, event, toState, outcome string
		)
		if err := rows.Scan(&rec.ID, &rec.Domain, &fromState, &event, &toState, &outcome, &rec.Error, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan transition record: %w", err)
		}
		rec.FromState = models.State(fromState)
		rec.Event = models.Event(event)
		rec.ToState = models.State(toState)
		rec.Outcome = models.Outcome(outcome)
		out = append(out, rec)
	}
	return out, rows.Err()
}
