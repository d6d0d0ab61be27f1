// Package service exposes the certificate module's read and registration
// operations. Transition execution lives in the engine; the service wraps
// registry access, the audit trail, machine introspection, and the external
// status check, translating storage sentinels into coded domain errors.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"certfsm/internal/ca"
	"certfsm/internal/certificate/engine"
	"certfsm/internal/certificate/fsm"
	"certfsm/internal/certificate/metrics"
	"certfsm/internal/certificate/models"
	"certfsm/internal/certificate/store"
	dErrors "certfsm/pkg/domain-errors"
	"certfsm/pkg/platform/sentinel"
)

// Service coordinates the domain registry, the transition engine, and the
// certificate authority.
type Service struct {
	domains   store.DomainStore
	records   store.RecordStore
	authority ca.Authority
	engine    *engine.Engine
	metrics   *metrics.Metrics
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New constructs a Service.
func New(domains store.DomainStore, records store.RecordStore, authority ca.Authority, eng *engine.Engine, opts ...Option) *Service {
	s := &Service{
		domains:   domains,
		records:   records,
		authority: authority,
		engine:    eng,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a domain to the registry in the unissued state.
func (s *Service) Register(ctx context.Context, name string) (*models.Domain, error) {
	d, err := models.NewDomain(name, s.now())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid domain name")
	}

	if err := s.domains.Create(ctx, d); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyExists) {
			return nil, dErrors.Newf(dErrors.CodeAlreadyExists, "domain %q is already registered", d.Name)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "register domain")
	}

	if s.metrics != nil {
		s.metrics.IncrementDomainsRegistered()
	}
	s.log.InfoContext(ctx, "domain registered", "domain", d.Name)
	return d, nil
}

// Get returns one domain by name.
func (s *Service) Get(ctx context.Context, name string) (*models.Domain, error) {
	name = models.NormalizeName(name)
	d, err := s.domains.FindByName(ctx, name)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "domain %q is not registered", name)
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load domain")
	}
	return d, nil
}

// List returns all registered domains ordered by name.
func (s *Service) List(ctx context.Context) ([]*models.Domain, error) {
	domains, err := s.domains.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list domains")
	}
	return domains, nil
}

// History returns the transition audit trail for a domain in insertion
// order. The domain must exist; an empty trail is valid for a freshly
// registered domain.
func (s *Service) History(ctx context.Context, name string) ([]models.TransitionRecord, error) {
	name = models.NormalizeName(name)
	if _, err := s.Get(ctx, name); err != nil {
		return nil, err
	}
	records, err := s.records.ListByDomain(ctx, name)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "list transition records")
	}
	return records, nil
}

// Trigger forwards an event to the transition engine.
func (s *Service) Trigger(ctx context.Context, name string, event models.Event, payload engine.Payload) (*models.Domain, error) {
	return s.engine.Trigger(ctx, name, event, payload)
}

// States lists the lifecycle states.
func (s *Service) States(ctx context.Context) []models.State {
	return models.States()
}

// Transitions lists every edge of the transition table.
func (s *Service) Transitions(ctx context.Context) []fsm.Entry {
	return fsm.Entries()
}

// TransitionsFrom lists the edges available from one state.
func (s *Service) TransitionsFrom(ctx context.Context, state models.State) ([]fsm.Entry, error) {
	if !state.Valid() {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "unknown state %q", state)
	}
	return fsm.EntriesFrom(state), nil
}

// StatusResult pairs the registry's view of a domain with the certificate
// authority's report.
type StatusResult struct {
	Domain *models.Domain  `json:"domain"`
	Report ca.StatusReport `json:"report"`
}

// CheckStatus asks the certificate authority for the certificate's external
// status. When the CA reports the certificate expired while the registry
// still holds it as issued or renewed, the expire event is emitted so the
// machine catches up; the refreshed domain is returned.
func (s *Service) CheckStatus(ctx context.Context, name string) (*StatusResult, error) {
	d, err := s.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	report, err := s.authority.CheckStatus(ctx, d.Name, d.CertificateRef)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeCAFailure, "certificate status check failed")
	}

	if report.Status == ca.StatusExpired && d.State.HoldsCertificate() {
		refreshed, err := s.engine.Trigger(ctx, d.Name, models.EventExpire, engine.Payload{})
		if err != nil {
			s.log.WarnContext(ctx, "failed to expire domain after status check",
				"domain", d.Name, "error", err)
		} else {
			d = refreshed
		}
	}

	return &StatusResult{Domain: d, Report: report}, nil
}
