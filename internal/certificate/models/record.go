package models

import (
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a transition attempt in the audit trail.
type Outcome string

const (
	// OutcomeSuccess marks a committed transition.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure marks an attempt that failed after passing table
	// validation: definitive CA failure, unknown CA outcome, or exhausted
	// version-conflict retries.
	OutcomeFailure Outcome = "failure"
	// OutcomeRejected marks an attempt refused by the transition table.
	OutcomeRejected Outcome = "rejected"
)

// TransitionRecord is one append-only audit entry per Trigger invocation.
// Never mutated after insertion.
type TransitionRecord struct {
	ID        uuid.UUID `json:"id"`
	Domain    string    `json:"domain"`
	FromState State     `json:"from_state"`
	Event     Event     `json:"event"`
	// ToState is empty when nothing was committed (rejections and pending or
	// conflicted attempts).
	ToState   State     `json:"to_state,omitempty"`
	Outcome   Outcome   `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTransitionRecord stamps a record with a fresh ID.
func NewTransitionRecord(domain string, from State, event Event, at time.Time) TransitionRecord {
	return TransitionRecord{
		ID:        uuid.New(),
		Domain:    domain,
		FromState: from,
		Event:     event,
		Timestamp: at,
	}
}
