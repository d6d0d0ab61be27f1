// Package ca defines the certificate authority port: the capability set the
// transition engine calls for side effects. Implementations (mock, ACME) are
// selected at construction time and must be swappable without engine changes.
package ca

import (
	"context"
	"errors"
	"time"

	"certfsm/internal/certificate/models"
)

// ErrPending signals that a CA call produced no definitive answer (timeout,
// ambiguous response). The engine commits nothing and the caller retries or
// waits for the scheduler to reconcile.
var ErrPending = errors.New("certificate authority outcome unknown")

// IssueOptions tunes an issuance request.
type IssueOptions struct {
	// ValidityDays requests a validity period; zero means backend default.
	ValidityDays int
}

// ExternalStatus is the CA's view of a certificate, independent of the FSM.
type ExternalStatus string

const (
	StatusValid        ExternalStatus = "valid"
	StatusExpiringSoon ExternalStatus = "expiring_soon"
	StatusExpired      ExternalStatus = "expired"
	StatusRevoked      ExternalStatus = "revoked"
	StatusNotFound     ExternalStatus = "not_found"
)

// StatusReport is the result of a CheckStatus call.
type StatusReport struct {
	Status   ExternalStatus `json:"status"`
	NotAfter *time.Time     `json:"not_after,omitempty"`
}

// Valid reports whether the certificate is currently usable.
func (r StatusReport) Valid() bool {
	return r.Status == StatusValid || r.Status == StatusExpiringSoon
}

// Authority is the certificate authority port.
//
// CheckStatus receives the ref currently held by the registry so backends
// without server-side certificate state can derive expiry locally.
type Authority interface {
	Issue(ctx context.Context, domain string, opts IssueOptions) (models.CertificateRef, error)
	Renew(ctx context.Context, domain string, current models.CertificateRef) (models.CertificateRef, error)
	Revoke(ctx context.Context, domain string, current models.CertificateRef) error
	CheckStatus(ctx context.Context, domain string, current *models.CertificateRef) (StatusReport, error)
}
