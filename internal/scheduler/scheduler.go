// Package scheduler runs the periodic lifecycle sweep: renewing certificates
// approaching expiry, expiring certificates past their window, and failing
// transient states that never received their outcome event.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"certfsm/internal/certificate/engine"
	"certfsm/internal/certificate/metrics"
	"certfsm/internal/certificate/models"
	"certfsm/internal/certificate/store"
	dErrors "certfsm/pkg/domain-errors"
)

// Triggerer is the slice of the engine the scheduler uses.
type Triggerer interface {
	Trigger(ctx context.Context, name string, event models.Event, payload engine.Payload) (*models.Domain, error)
}

// Config tunes the sweep cadence and thresholds.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// RenewalThreshold is how far before expiry a renewal is requested.
	RenewalThreshold time.Duration
	// TransientTimeout is how long a transient state may sit without its
	// outcome event before the sweep fails it.
	TransientTimeout time.Duration
}

// Scheduler drives the periodic sweep.
type Scheduler struct {
	domains store.DomainStore
	trigger Triggerer
	cfg     Config
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New constructs a Scheduler.
func New(domains store.DomainStore, trigger Triggerer, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		domains: domains,
		trigger: trigger,
		cfg:     cfg,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on the configured interval until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.InfoContext(ctx, "lifecycle scheduler started",
		"interval", s.cfg.Interval,
		"renewal_threshold", s.cfg.RenewalThreshold,
		"transient_timeout", s.cfg.TransientTimeout,
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.log.ErrorContext(ctx, "lifecycle sweep failed", "error", err)
			}
		}
	}
}

// Sweep examines every domain once and emits the events it is due for.
// Losing a race with a concurrent caller is fine: the resulting
// invalid_transition or concurrent_modification is logged at debug and the
// next sweep re-evaluates.
func (s *Scheduler) Sweep(ctx context.Context) error {
	domains, err := s.domains.List(ctx)
	if err != nil {
		return err
	}

	now := s.now()
	for _, d := range domains {
		event, reason := s.due(d, now)
		if event == "" {
			continue
		}

		payload := engine.Payload{}
		if reason == reasonStaleTransient {
			payload.Reason = "no outcome received within " + s.cfg.TransientTimeout.String()
		}

		if _, err := s.trigger.Trigger(ctx, d.Name, event, payload); err != nil {
			if dErrors.HasCode(err, dErrors.CodeInvalidTransition) ||
				dErrors.HasCode(err, dErrors.CodeConcurrentModification) {
				s.log.DebugContext(ctx, "sweep event lost race",
					"domain", d.Name, "event", event, "error", err)
				continue
			}
			s.log.WarnContext(ctx, "sweep event failed",
				"domain", d.Name, "event", event, "reason", reason, "error", err)
			continue
		}

		if s.metrics != nil {
			s.metrics.IncrementSchedulerEvent(reason)
		}
		s.log.InfoContext(ctx, "sweep event applied",
			"domain", d.Name, "event", event, "reason", reason)
	}

	if s.metrics != nil {
		s.metrics.IncrementSchedulerSweep()
	}
	return nil
}

const (
	reasonExpired        = "expired"
	reasonExpiringSoon   = "expiring_soon"
	reasonStaleTransient = "stale_transient"
)

// due decides which event, if any, a domain needs right now.
func (s *Scheduler) due(d *models.Domain, now time.Time) (models.Event, string) {
	switch {
	case d.State.HoldsCertificate() && d.CertificateRef != nil:
		if d.CertificateRef.Expired(now) {
			return models.EventExpire, reasonExpired
		}
		if d.CertificateRef.ExpiresWithin(now, s.cfg.RenewalThreshold) {
			return models.EventRequestRenewal, reasonExpiringSoon
		}
	case d.State.Transient():
		if now.Sub(d.LastTransitionAt) > s.cfg.TransientTimeout {
			return staleEvent(d.State), reasonStaleTransient
		}
	}
	return "", ""
}

// staleEvent maps a transient state to the failure event that unsticks it.
func staleEvent(state models.State) models.Event {
	switch state {
	case models.StateRequesting:
		return models.EventIssuanceFailed
	case models.StateValidating:
		return models.EventValidationFailed
	case models.StateRenewing:
		return models.EventRenewalFailed
	}
	return ""
}
