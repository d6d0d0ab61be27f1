// Package engine drives certificate lifecycle transitions. Trigger is the
// single entry point: it validates the (state, event) pair against the
// transition table, runs the attached certificate authority side effect, and
// commits the result under optimistic concurrency.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"certfsm/internal/audit"
	"certfsm/internal/ca"
	"certfsm/internal/certificate/fsm"
	"certfsm/internal/certificate/metrics"
	"certfsm/internal/certificate/models"
	"certfsm/internal/certificate/store"
	dErrors "certfsm/pkg/domain-errors"
	"certfsm/pkg/platform/sentinel"
)

const defaultMaxAttempts = 3

// Payload carries optional event parameters.
type Payload struct {
	// ValidityDays requests a validity period on issuance; zero for default.
	ValidityDays int `json:"validity_days,omitempty"`
	// Ref attaches an externally obtained certificate ref. An explicit ref
	// wins over one staged by an earlier side effect.
	Ref *models.CertificateRef `json:"certificate_ref,omitempty"`
	// Reason annotates failure and revocation events; it lands in the
	// domain's last error on commit and in the audit trail.
	Reason string `json:"reason,omitempty"`
}

// Engine executes lifecycle transitions against the domain registry.
type Engine struct {
	domains     store.DomainStore
	authority   ca.Authority
	recorder    audit.Recorder
	metrics     *metrics.Metrics
	log         *slog.Logger
	tracer      trace.Tracer
	maxAttempts int
	now         func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMaxAttempts bounds version-conflict retries per trigger.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithClock overrides the time source; used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New constructs an Engine. The recorder receives one record per Trigger
// invocation, rejected and conflicted attempts included.
func New(domains store.DomainStore, authority ca.Authority, recorder audit.Recorder, opts ...Option) *Engine {
	e := &Engine{
		domains:     domains,
		authority:   authority,
		recorder:    recorder,
		log:         slog.Default(),
		tracer:      otel.Tracer("certfsm/engine"),
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Trigger applies one event to a domain and returns the committed domain.
//
// The flow per attempt: load the domain, look up the (state, event) pair in
// the transition table, run the CA side effect if the edge declares one, then
// commit the new state with compare-and-swap on the version read. A version
// conflict restarts the attempt; the side effect runs at most once per
// invocation and its result is reused across retries. When the table rejects
// the pair the domain is left untouched and the attempt is recorded as
// rejected.
func (e *Engine) Trigger(ctx context.Context, name string, event models.Event, payload Payload) (*models.Domain, error) {
	start := e.now()
	ctx, span := e.tracer.Start(ctx, "certificate.trigger", trace.WithAttributes(
		attribute.String("domain", name),
		attribute.String("event", string(event)),
	))
	defer span.End()
	defer func() {
		if e.metrics != nil {
			e.metrics.ObserveTrigger(start)
		}
	}()

	name = models.NormalizeName(name)
	if !event.Valid() {
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "unknown event %q", event)
	}

	var (
		effectRef  *models.CertificateRef
		effectDone bool
	)

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		d, err := e.domains.FindByName(ctx, name)
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "domain %q is not registered", name)
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "load domain")
		}

		transition, ok := fsm.Lookup(d.State, event)
		if !ok {
			reason := "event " + string(event) + " is not allowed in state " + string(d.State)
			e.record(ctx, name, d.State, event, "", models.OutcomeRejected, reason)
			e.observe(event, models.OutcomeRejected)
			return nil, dErrors.Newf(dErrors.CodeInvalidTransition,
				"event %q is not allowed in state %q", event, d.State)
		}

		if transition.HasEffect() && !effectDone {
			committed, ref, err := e.runEffect(ctx, d, transition, payload)
			if err != nil {
				return committed, err
			}
			effectRef = ref
			effectDone = true
		}

		ref := payload.Ref
		if ref == nil {
			ref = effectRef
		}
		commit := models.TransitionCommit{
			NewState:  transition.Next,
			Ref:       ref,
			LastError: payload.Reason,
			At:        e.now(),
		}

		committed, err := e.domains.CommitTransition(ctx, name, d.Version, commit)
		switch {
		case err == nil:
			e.record(ctx, name, d.State, event, committed.State, models.OutcomeSuccess, payload.Reason)
			e.observe(event, models.OutcomeSuccess)
			e.log.InfoContext(ctx, "transition committed",
				"domain", name, "event", event,
				"from", d.State, "to", committed.State, "version", committed.Version)
			return committed, nil
		case errors.Is(err, sentinel.ErrVersionConflict):
			e.log.DebugContext(ctx, "version conflict, retrying",
				"domain", name, "event", event, "attempt", attempt)
			continue
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.Newf(dErrors.CodeNotFound, "domain %q is not registered", name)
		case dErrors.HasCode(err, dErrors.CodeInvariantViolation):
			e.record(ctx, name, d.State, event, "", models.OutcomeRejected, err.Error())
			e.observe(event, models.OutcomeRejected)
			return nil, err
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeUnavailable, "commit transition")
		}
	}

	e.record(ctx, name, "", event, "", models.OutcomeFailure, "concurrent modification")
	e.observe(event, models.OutcomeFailure)
	return nil, dErrors.Newf(dErrors.CodeConcurrentModification,
		"domain %q was modified concurrently, giving up after %d attempts", name, e.maxAttempts)
}

// runEffect calls the certificate authority for an effect-bearing edge.
//
// Outcomes:
//   - success: returns the ref to stage (nil for revocation)
//   - definitive failure: commits the edge's fail state with the CA error and
//     returns a ca_failure error together with the committed domain
//   - unknown outcome (ca.ErrPending): commits nothing and returns ca_pending
func (e *Engine) runEffect(ctx context.Context, d *models.Domain, transition fsm.Transition, payload Payload) (*models.Domain, *models.CertificateRef, error) {
	var (
		ref    models.CertificateRef
		err    error
		hasRef bool
	)

	caStart := e.now()
	switch transition.Effect {
	case fsm.EffectIssue:
		ref, err = e.authority.Issue(ctx, d.Name, ca.IssueOptions{ValidityDays: payload.ValidityDays})
		hasRef = err == nil
	case fsm.EffectRenew:
		if d.CertificateRef == nil {
			return nil, nil, dErrors.Newf(dErrors.CodeInvariantViolation,
				"domain %q holds no certificate to renew", d.Name)
		}
		ref, err = e.authority.Renew(ctx, d.Name, *d.CertificateRef)
		hasRef = err == nil
	case fsm.EffectRevoke:
		if d.CertificateRef == nil {
			return nil, nil, dErrors.Newf(dErrors.CodeInvariantViolation,
				"domain %q holds no certificate to revoke", d.Name)
		}
		err = e.authority.Revoke(ctx, d.Name, *d.CertificateRef)
	}
	if e.metrics != nil {
		e.metrics.ObserveCACall(string(transition.Effect), caStart)
	}

	if err == nil {
		if hasRef {
			return nil, &ref, nil
		}
		return nil, nil, nil
	}

	event := effectEvent(transition.Effect)
	if errors.Is(err, ca.ErrPending) {
		e.record(ctx, d.Name, d.State, event, "", models.OutcomeFailure, err.Error())
		e.observe(event, models.OutcomeFailure)
		e.log.WarnContext(ctx, "certificate authority outcome unknown",
			"domain", d.Name, "effect", transition.Effect)
		return nil, nil, dErrors.Wrap(err, dErrors.CodeCAPending, "certificate authority call did not complete")
	}

	commit := models.TransitionCommit{
		NewState:  transition.FailState,
		LastError: err.Error(),
		At:        e.now(),
	}
	committed, commitErr := e.domains.CommitTransition(ctx, d.Name, d.Version, commit)
	if commitErr != nil {
		e.log.ErrorContext(ctx, "failed to commit failure state",
			"domain", d.Name, "effect", transition.Effect, "error", commitErr)
	}
	toState := models.State("")
	if commitErr == nil {
		toState = committed.State
	}
	e.record(ctx, d.Name, d.State, event, toState, models.OutcomeFailure, err.Error())
	e.observe(event, models.OutcomeFailure)
	e.log.WarnContext(ctx, "certificate authority call failed",
		"domain", d.Name, "effect", transition.Effect, "error", err)
	return committed, nil, dErrors.Wrap(err, dErrors.CodeCAFailure, "certificate authority call failed")
}

// effectEvent maps an effect back to the event that triggered it, for the
// audit trail.
func effectEvent(effect fsm.Effect) models.Event {
	switch effect {
	case fsm.EffectIssue:
		return models.EventRequestIssuance
	case fsm.EffectRenew:
		return models.EventRequestRenewal
	case fsm.EffectRevoke:
		return models.EventRequestRevocation
	}
	return ""
}

func (e *Engine) record(ctx context.Context, name string, from models.State, event models.Event, to models.State, outcome models.Outcome, errMsg string) {
	rec := models.NewTransitionRecord(name, from, event, e.now())
	rec.ToState = to
	rec.Outcome = outcome
	rec.Error = errMsg
	if err := e.recorder.Record(ctx, rec); err != nil {
		e.log.ErrorContext(ctx, "failed to append transition record",
			"domain", name, "event", event, "error", err)
	}
}

func (e *Engine) observe(event models.Event, outcome models.Outcome) {
	if e.metrics != nil {
		e.metrics.IncrementTransition(string(event), string(outcome))
	}
}
