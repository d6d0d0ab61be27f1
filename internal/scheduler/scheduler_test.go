package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certfsm/internal/audit"
	"certfsm/internal/ca"
	"certfsm/internal/certificate/engine"
	"certfsm/internal/certificate/models"
	domainstore "certfsm/internal/certificate/store/domain"
	recordstore "certfsm/internal/certificate/store/record"
	dErrors "certfsm/pkg/domain-errors"
)

type SchedulerSuite struct {
	suite.Suite
	ctx       context.Context
	domains   *domainstore.InMemory
	records   *recordstore.InMemory
	mockCA    *ca.Mock
	engine    *engine.Engine
	scheduler *Scheduler
	now       time.Time
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.ctx = context.Background()
	s.domains = domainstore.NewInMemory()
	s.records = recordstore.NewInMemory()
	s.now = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	clock := func() time.Time { return s.now }
	s.mockCA = ca.NewMock(ca.WithClock(clock))
	s.engine = engine.New(s.domains, s.mockCA, audit.NewStoreRecorder(s.records),
		engine.WithClock(clock))
	s.scheduler = New(s.domains, s.engine, Config{
		Interval:         time.Minute,
		RenewalThreshold: 30 * 24 * time.Hour,
		TransientTimeout: 15 * time.Minute,
	}, WithClock(clock))
}

func (s *SchedulerSuite) advance(d time.Duration) { s.now = s.now.Add(d) }

func (s *SchedulerSuite) registerDomain(name string) {
	d, err := models.NewDomain(name, s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.domains.Create(s.ctx, d))
}

func (s *SchedulerSuite) issueDomain(name string) {
	s.registerDomain(name)
	for _, event := range []models.Event{
		models.EventRequestIssuance, models.EventValidationPassed, models.EventIssuanceSucceeded,
	} {
		_, err := s.engine.Trigger(s.ctx, name, event, engine.Payload{})
		s.Require().NoError(err)
	}
}

func (s *SchedulerSuite) state(name string) models.State {
	d, err := s.domains.FindByName(s.ctx, name)
	s.Require().NoError(err)
	return d.State
}

func (s *SchedulerSuite) TestFreshDomainsUntouched() {
	s.registerDomain("fresh.example.com")
	s.issueDomain("issued.example.com")

	s.Require().NoError(s.scheduler.Sweep(s.ctx))

	s.Equal(models.StateUnissued, s.state("fresh.example.com"))
	s.Equal(models.StateIssued, s.state("issued.example.com"))
}

func (s *SchedulerSuite) TestExpiredCertificateGetsExpireEvent() {
	s.issueDomain("example.com")

	// Past the mock CA's 90-day validity.
	s.advance(91 * 24 * time.Hour)
	s.Require().NoError(s.scheduler.Sweep(s.ctx))

	s.Equal(models.StateExpired, s.state("example.com"))
}

func (s *SchedulerSuite) TestExpiringSoonGetsRenewal() {
	s.issueDomain("example.com")

	// Inside the 30-day renewal window but not yet expired.
	s.advance(65 * 24 * time.Hour)
	s.Require().NoError(s.scheduler.Sweep(s.ctx))

	d, err := s.domains.FindByName(s.ctx, "example.com")
	s.Require().NoError(err)
	s.Equal(models.StateRenewing, d.State)
	s.NotNil(d.PendingRef, "renewal side effect staged the new ref")
}

func (s *SchedulerSuite) TestStaleTransientFails() {
	s.registerDomain("example.com")
	_, err := s.engine.Trigger(s.ctx, "example.com", models.EventRequestIssuance, engine.Payload{})
	s.Require().NoError(err)

	s.advance(16 * time.Minute)
	s.Require().NoError(s.scheduler.Sweep(s.ctx))

	d, err := s.domains.FindByName(s.ctx, "example.com")
	s.Require().NoError(err)
	s.Equal(models.StateFailed, d.State)
	s.Contains(d.LastError, "no outcome received")
}

func (s *SchedulerSuite) TestStaleRenewingFails() {
	s.issueDomain("example.com")
	_, err := s.engine.Trigger(s.ctx, "example.com", models.EventRequestRenewal, engine.Payload{})
	s.Require().NoError(err)

	s.advance(16 * time.Minute)
	s.Require().NoError(s.scheduler.Sweep(s.ctx))

	s.Equal(models.StateFailed, s.state("example.com"))
}

func (s *SchedulerSuite) TestFreshTransientLeftAlone() {
	s.registerDomain("example.com")
	_, err := s.engine.Trigger(s.ctx, "example.com", models.EventRequestIssuance, engine.Payload{})
	s.Require().NoError(err)

	s.advance(5 * time.Minute)
	s.Require().NoError(s.scheduler.Sweep(s.ctx))

	s.Equal(models.StateRequesting, s.state("example.com"))
}

func (s *SchedulerSuite) TestLostRaceIsNotAnError() {
	s.issueDomain("example.com")
	s.advance(91 * 24 * time.Hour)

	stub := &stubTriggerer{err: dErrors.New(dErrors.CodeInvalidTransition, "lost race")}
	sched := New(s.domains, stub, Config{
		Interval:         time.Minute,
		RenewalThreshold: 30 * 24 * time.Hour,
		TransientTimeout: 15 * time.Minute,
	}, WithClock(func() time.Time { return s.now }))

	s.Require().NoError(sched.Sweep(s.ctx))
	s.Equal(1, stub.calls)
}

type stubTriggerer struct {
	err   error
	calls int
}

func (t *stubTriggerer) Trigger(ctx context.Context, name string, event models.Event, payload engine.Payload) (*models.Domain, error) {
	t.calls++
	return nil, t.err
}
