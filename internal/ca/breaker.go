package ca

import (
	"context"
	"errors"
	"log/slog"

	"certfsm/internal/certificate/models"
	"certfsm/pkg/platform/circuit"
)

// BreakerAuthority wraps an Authority with a circuit breaker. While the
// breaker is open, mutating calls report ErrPending, so the engine commits
// nothing and domains are retried once the authority recovers. CheckStatus
// always passes through and acts as the probe that closes the breaker again.
// Only ErrPending counts as a breaker failure: a definitive rejection proves
// the authority is reachable and answering.
type BreakerAuthority struct {
	next    Authority
	breaker *circuit.Breaker
	log     *slog.Logger
}

// WithBreaker decorates an authority with the given breaker.
func WithBreaker(next Authority, breaker *circuit.Breaker, log *slog.Logger) *BreakerAuthority {
	return &BreakerAuthority{next: next, breaker: breaker, log: log}
}

func (b *BreakerAuthority) observe(ctx context.Context, err error) {
	if errors.Is(err, ErrPending) {
		if _, change := b.breaker.RecordFailure(); change.Opened {
			b.log.WarnContext(ctx, "certificate authority circuit opened", "breaker", b.breaker.Name())
		}
		return
	}
	if _, change := b.breaker.RecordSuccess(); change.Closed {
		b.log.InfoContext(ctx, "certificate authority circuit closed", "breaker", b.breaker.Name())
	}
}

func (b *BreakerAuthority) Issue(ctx context.Context, domain string, opts IssueOptions) (models.CertificateRef, error) {
	if b.breaker.IsOpen() {
		return models.CertificateRef{}, ErrPending
	}
	ref, err := b.next.Issue(ctx, domain, opts)
	b.observe(ctx, err)
	return ref, err
}

func (b *BreakerAuthority) Renew(ctx context.Context, domain string, current models.CertificateRef) (models.CertificateRef, error) {
	if b.breaker.IsOpen() {
		return models.CertificateRef{}, ErrPending
	}
	ref, err := b.next.Renew(ctx, domain, current)
	b.observe(ctx, err)
	return ref, err
}

func (b *BreakerAuthority) Revoke(ctx context.Context, domain string, current models.CertificateRef) error {
	if b.breaker.IsOpen() {
		return ErrPending
	}
	err := b.next.Revoke(ctx, domain, current)
	b.observe(ctx, err)
	return err
}

func (b *BreakerAuthority) CheckStatus(ctx context.Context, domain string, current *models.CertificateRef) (StatusReport, error) {
	report, err := b.next.CheckStatus(ctx, domain, current)
	b.observe(ctx, err)
	return report, err
}
