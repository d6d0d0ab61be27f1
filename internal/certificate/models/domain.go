package models

import (
	"strings"
	"time"

	dErrors "certfsm/pkg/domain-errors"
)

// State enumerates the certificate lifecycle states.
type State string

const (
	StateUnissued   State = "unissued"
	StateRequesting State = "requesting"
	StateValidating State = "validating"
	StateIssued     State = "issued"
	StateRenewing   State = "renewing"
	StateRenewed    State = "renewed"
	StateFailed     State = "failed"
	StateExpired    State = "expired"
	StateRevoked    State = "revoked"
	StateInvalid    State = "invalid"
)

// States lists every lifecycle state in declaration order.
func States() []State {
	return []State{
		StateUnissued, StateRequesting, StateValidating, StateIssued,
		StateRenewing, StateRenewed, StateFailed, StateExpired,
		StateRevoked, StateInvalid,
	}
}

// Valid reports whether s is a member of the lifecycle enumeration.
func (s State) Valid() bool {
	switch s {
	case StateUnissued, StateRequesting, StateValidating, StateIssued,
		StateRenewing, StateRenewed, StateFailed, StateExpired,
		StateRevoked, StateInvalid:
		return true
	}
	return false
}

// Transient reports whether s is expected to be short-lived and followed by a
// terminal outcome event within the configured staleness budget.
func (s State) Transient() bool {
	switch s {
	case StateRequesting, StateValidating, StateRenewing:
		return true
	}
	return false
}

// HoldsCertificate reports whether a certificate ref must be present in s.
func (s State) HoldsCertificate() bool {
	return s == StateIssued || s == StateRenewed
}

// Event enumerates the triggers that drive lifecycle transitions.
type Event string

const (
	EventRequestIssuance     Event = "request_issuance"
	EventValidationPassed    Event = "validation_passed"
	EventValidationFailed    Event = "validation_failed"
	EventIssuanceSucceeded   Event = "issuance_succeeded"
	EventIssuanceFailed      Event = "issuance_failed"
	EventRequestRenewal      Event = "request_renewal"
	EventRenewalSucceeded    Event = "renewal_succeeded"
	EventRenewalFailed       Event = "renewal_failed"
	EventRequestRevocation   Event = "request_revocation"
	EventRevocationSucceeded Event = "revocation_succeeded"
	EventExpire              Event = "expire"
	EventMarkInvalid         Event = "mark_invalid"
	EventReset               Event = "reset"
)

// Valid reports whether e is a member of the event enumeration.
func (e Event) Valid() bool {
	switch e {
	case EventRequestIssuance, EventValidationPassed, EventValidationFailed,
		EventIssuanceSucceeded, EventIssuanceFailed, EventRequestRenewal,
		EventRenewalSucceeded, EventRenewalFailed, EventRequestRevocation,
		EventRevocationSucceeded, EventExpire, EventMarkInvalid, EventReset:
		return true
	}
	return false
}

// CertificateRef is the opaque handle to an issued certificate: enough
// metadata to drive renewal and revocation without parsing the certificate
// itself.
type CertificateRef struct {
	Issuer       string    `json:"issuer"`
	SerialNumber string    `json:"serial_number"`
	NotBefore    time.Time `json:"not_before"`
	NotAfter     time.Time `json:"not_after"`
}

// Expired reports whether the certificate validity window has passed.
func (r CertificateRef) Expired(now time.Time) bool {
	return now.After(r.NotAfter)
}

// ExpiresWithin reports whether the certificate expires inside the window.
func (r CertificateRef) ExpiresWithin(now time.Time, window time.Duration) bool {
	return now.Add(window).After(r.NotAfter)
}

// Domain is the aggregate root for a managed domain's certificate state.
//
// Invariants:
//   - Name is a normalized lowercase FQDN, immutable after creation
//   - State is always a member of the lifecycle enumeration
//   - CertificateRef is non-nil iff State is issued or renewed
//   - PendingRef may be non-nil only in transient states; it stages the
//     result of an in-flight Issue/Renew side effect until the terminal
//     success event promotes it
//   - Version strictly increases by exactly one per committed transition
//
// State is mutated exclusively through ApplyTransition; stores call it under
// their own atomicity guarantee (mutex, FOR UPDATE, or WATCH/MULTI).
type Domain struct {
	Name             string          `json:"name"`
	State            State           `json:"state"`
	CertificateRef   *CertificateRef `json:"certificate_ref,omitempty"`
	PendingRef       *CertificateRef `json:"pending_ref,omitempty"`
	LastTransitionAt time.Time       `json:"last_transition_at"`
	LastError        string          `json:"last_error,omitempty"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NormalizeName lowercases, trims whitespace and strips a trailing dot.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".")
}

// NewDomain constructs a Domain in the unissued state.
func NewDomain(name string, now time.Time) (*Domain, error) {
	name = NormalizeName(name)
	if err := validateName(name); err != nil {
		return nil, err
	}
	return &Domain{
		Name:             name,
		State:            StateUnissued,
		LastTransitionAt: now,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func validateName(name string) error {
	if name == "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "domain name cannot be empty")
	}
	if len(name) > 253 {
		return dErrors.New(dErrors.CodeInvariantViolation, "domain name must be 253 characters or less")
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" {
			return dErrors.New(dErrors.CodeInvariantViolation, "domain name contains an empty label")
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return dErrors.New(dErrors.CodeInvariantViolation, "domain labels cannot start or end with a hyphen")
		}
		for _, r := range label {
			if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
				return dErrors.Newf(dErrors.CodeInvariantViolation, "domain name contains invalid character %q", r)
			}
		}
	}
	return nil
}

// TransitionCommit carries everything a store needs to commit one validated
// transition atomically.
type TransitionCommit struct {
	NewState State
	// Ref is the certificate ref produced by a side effect or carried in the
	// trigger payload; nil when the transition produced none.
	Ref       *CertificateRef
	LastError string
	At        time.Time
}

// ApplyTransition mutates the domain for a committed transition, enforcing
// the certificate-ref invariant and bumping the version by exactly one.
//
// Ref placement rules:
//   - target holds a certificate: an explicit ref wins, otherwise the staged
//     PendingRef is promoted; ending up with neither is an invariant violation
//     except when re-entering via renewal bookkeeping is impossible (the table
//     never allows it)
//   - target is transient: an explicit ref is staged as PendingRef
//   - any other target clears both refs
func (d *Domain) ApplyTransition(commit TransitionCommit) error {
	if !commit.NewState.Valid() {
		return dErrors.Newf(dErrors.CodeInvariantViolation, "unknown state %q", commit.NewState)
	}

	switch {
	case commit.NewState.HoldsCertificate():
		ref := commit.Ref
		if ref == nil {
			ref = d.PendingRef
		}
		if ref == nil {
			return dErrors.Newf(dErrors.CodeInvariantViolation,
				"transition to %s requires a certificate ref", commit.NewState)
		}
		d.CertificateRef = ref
		d.PendingRef = nil
	case commit.NewState.Transient():
		d.CertificateRef = nil
		if commit.Ref != nil {
			d.PendingRef = commit.Ref
		}
	default:
		d.CertificateRef = nil
		d.PendingRef = nil
	}

	d.State = commit.NewState
	d.LastError = commit.LastError
	d.LastTransitionAt = commit.At
	d.UpdatedAt = commit.At
	d.Version++
	return nil
}

// Clone returns a deep copy so stores never hand out aliased pointers.
func (d *Domain) Clone() *Domain {
	out := *d
	if d.CertificateRef != nil {
		ref := *d.CertificateRef
		out.CertificateRef = &ref
	}
	if d.PendingRef != nil {
		ref := *d.PendingRef
		out.PendingRef = &ref
	}
	return &out
}
