package ca

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"certfsm/internal/certificate/models"
)

const (
	mockIssuer = "mock-ca"
	// mockValidity matches the usual 90-day ACME certificate lifetime.
	mockValidity = 90 * 24 * time.Hour
	// expiringSoonWindow mirrors the renewal window operators care about.
	expiringSoonWindow = 30 * 24 * time.Hour
)

type mockCert struct {
	ref     models.CertificateRef
	revoked bool
}

// Mock is a deterministic in-memory certificate authority for tests and
// development. Every call succeeds unless an outcome has been scripted;
// scripted outcomes are consumed FIFO per operation, so a test can stage an
// exact success/failure/pending sequence.
type Mock struct {
	mu       sync.Mutex
	validity time.Duration
	now      func() time.Time
	certs    map[string]*mockCert

	issueScript  []error
	renewScript  []error
	revokeScript []error
}

// MockOption configures a Mock.
type MockOption func(*Mock)

// WithValidity overrides the issued certificate lifetime.
func WithValidity(d time.Duration) MockOption {
	return func(m *Mock) { m.validity = d }
}

// WithClock injects a clock for deterministic expiry tests.
func WithClock(now func() time.Time) MockOption {
	return func(m *Mock) { m.now = now }
}

// NewMock constructs a mock certificate authority.
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		validity: mockValidity,
		now:      time.Now,
		certs:    make(map[string]*mockCert),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ScriptIssue queues outcomes for upcoming Issue calls; nil means success.
func (m *Mock) ScriptIssue(outcomes ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issueScript = append(m.issueScript, outcomes...)
}

// ScriptRenew queues outcomes for upcoming Renew calls; nil means success.
func (m *Mock) ScriptRenew(outcomes ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renewScript = append(m.renewScript, outcomes...)
}

// ScriptRevoke queues outcomes for upcoming Revoke calls; nil means success.
func (m *Mock) ScriptRevoke(outcomes ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revokeScript = append(m.revokeScript, outcomes...)
}

func pop(script *[]error) error {
	if len(*script) == 0 {
		return nil
	}
	out := (*script)[0]
	*script = (*script)[1:]
	return out
}

func (m *Mock) Issue(ctx context.Context, domain string, opts IssueOptions) (models.CertificateRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := pop(&m.issueScript); err != nil {
		return models.CertificateRef{}, err
	}

	validity := m.validity
	if opts.ValidityDays > 0 {
		validity = time.Duration(opts.ValidityDays) * 24 * time.Hour
	}

	now := m.now()
	ref := models.CertificateRef{
		Issuer:       mockIssuer,
		SerialNumber: uuid.NewString(),
		NotBefore:    now,
		NotAfter:     now.Add(validity),
	}
	m.certs[domain] = &mockCert{ref: ref}
	return ref, nil
}

func (m *Mock) Renew(ctx context.Context, domain string, current models.CertificateRef) (models.CertificateRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cert, ok := m.certs[domain]
	if !ok || cert.revoked {
		return models.CertificateRef{}, fmt.Errorf("no certificate found for %s", domain)
	}

	if err := pop(&m.renewScript); err != nil {
		return models.CertificateRef{}, err
	}

	// Renewal extends the current expiry by a full validity period.
	ref := models.CertificateRef{
		Issuer:       mockIssuer,
		SerialNumber: uuid.NewString(),
		NotBefore:    m.now(),
		NotAfter:     cert.ref.NotAfter.Add(m.validity),
	}
	cert.ref = ref
	return ref, nil
}

func (m *Mock) Revoke(ctx context.Context, domain string, current models.CertificateRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cert, ok := m.certs[domain]
	if !ok {
		return fmt.Errorf("no certificate found for %s", domain)
	}

	if err := pop(&m.revokeScript); err != nil {
		return err
	}

	cert.revoked = true
	return nil
}

func (m *Mock) CheckStatus(ctx context.Context, domain string, current *models.CertificateRef) (StatusReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cert, ok := m.certs[domain]
	if !ok {
		return StatusReport{Status: StatusNotFound}, nil
	}
	if cert.revoked {
		return StatusReport{Status: StatusRevoked}, nil
	}

	notAfter := cert.ref.NotAfter
	now := m.now()
	switch {
	case notAfter.Before(now):
		return StatusReport{Status: StatusExpired, NotAfter: &notAfter}, nil
	case notAfter.Before(now.Add(expiringSoonWindow)):
		return StatusReport{Status: StatusExpiringSoon, NotAfter: &notAfter}, nil
	default:
		return StatusReport{Status: StatusValid, NotAfter: &notAfter}, nil
	}
}
