package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certfsm/internal/audit"
	"certfsm/internal/ca"
	"certfsm/internal/certificate/models"
	"certfsm/internal/certificate/store"
	domainstore "certfsm/internal/certificate/store/domain"
	recordstore "certfsm/internal/certificate/store/record"
	dErrors "certfsm/pkg/domain-errors"
	"certfsm/pkg/platform/sentinel"
)

type EngineSuite struct {
	suite.Suite
	ctx     context.Context
	domains *domainstore.InMemory
	records *recordstore.InMemory
	mockCA  *ca.Mock
	engine  *Engine
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctx = context.Background()
	s.domains = domainstore.NewInMemory()
	s.records = recordstore.NewInMemory()
	s.mockCA = ca.NewMock()
	s.engine = New(s.domains, s.mockCA, audit.NewStoreRecorder(s.records))
}

func (s *EngineSuite) register(name string) *models.Domain {
	d, err := models.NewDomain(name, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.domains.Create(s.ctx, d))
	return d
}

func (s *EngineSuite) TestHappyPathToIssued() {
	s.register("example.com")

	d, err := s.engine.Trigger(s.ctx, "example.com", models.EventRequestIssuance, Payload{})
	s.Require().NoError(err)
	s.Equal(models.StateRequesting, d.State)
	s.Equal(int64(2), d.Version)
	s.Nil(d.CertificateRef)
	s.NotNil(d.PendingRef, "issued ref is staged until issuance_succeeded")

	d, err = s.engine.Trigger(s.ctx, "example.com", models.EventValidationPassed, Payload{})
	s.Require().NoError(err)
	s.Equal(models.StateValidating, d.State)
	s.Equal(int64(3), d.Version)
	s.Nil(d.CertificateRef)

	d, err = s.engine.Trigger(s.ctx, "example.com", models.EventIssuanceSucceeded, Payload{})
	s.Require().NoError(err)
	s.Equal(models.StateIssued, d.State)
	s.Equal(int64(4), d.Version)
	s.Require().NotNil(d.CertificateRef)
	s.Equal("mock-ca", d.CertificateRef.Issuer)
	s.Nil(d.PendingRef)

	records, err := s.records.ListByDomain(s.ctx, "example.com")
	s.Require().NoError(err)
	s.Require().Len(records, 3)
	for _, rec := range records {
		s.Equal(models.OutcomeSuccess, rec.Outcome)
	}
	s.Equal(models.StateRequesting, records[0].ToState)
	s.Equal(models.StateIssued, records[2].ToState)
}

func (s *EngineSuite) TestInvalidTransitionLeavesDomainUntouched() {
	s.register("example.com")

	_, err := s.engine.Trigger(s.ctx, "example.com", models.EventRenewalSucceeded, Payload{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	d, err := s.domains.FindByName(s.ctx, "example.com")
	s.Require().NoError(err)
	s.Equal(models.StateUnissued, d.State)
	s.Equal(int64(1), d.Version, "rejected attempts must not bump the version")

	records, err := s.records.ListByDomain(s.ctx, "example.com")
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(models.OutcomeRejected, records[0].Outcome)
	s.Empty(records[0].ToState)
}

func (s *EngineSuite) TestRepeatedEventRejectedSecondTime() {
	s.register("example.com")

	_, err := s.engine.Trigger(s.ctx, "example.com", models.EventRequestIssuance, Payload{})
	s.Require().NoError(err)

	_, err = s.engine.Trigger(s.ctx, "example.com", models.EventRequestIssuance, Payload{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	d, err := s.domains.FindByName(s.ctx, "example.com")
	s.Require().NoError(err)
	s.Equal(models.StateRequesting, d.State)
	s.Equal(int64(2), d.Version)
}

func (s *EngineSuite) TestUnknownEvent() {
	s.register("example.com")

	_, err := s.engine.Trigger(s.ctx, "example.com", models.Event("bogus"), Payload{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeBadRequest))
	s.Empty(s.records.All(), "unparseable events never reach the audit trail")
}

func (s *EngineSuite) TestUnknownDomain() {
	_, err := s.engine.Trigger(s.ctx, "nope.example.com", models.EventRequestIssuance, Payload{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *EngineSuite) TestIssuanceFailureCommitsFailedState() {
	s.register("example.com")
	s.mockCA.ScriptIssue(errors.New("CAA record forbids issuance"))

	d, err := s.engine.Trigger(s.ctx, "example.com", models.EventRequestIssuance, Payload{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeCAFailure))
	s.Require().NotNil(d)
	s.Equal(models.StateFailed, d.State)
	s.Equal(int64(2), d.Version)
	s.Nil(d.CertificateRef)
	s.Contains(d.LastError, "CAA record forbids issuance")

	records, err := s.records.ListByDomain(s.ctx, "example.com")
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(models.OutcomeFailure, records[0].Outcome)
	s.Equal(models.StateFailed, records[0].ToState)
}

func (s *EngineSuite) TestPendingOutcomeCommitsNothing() {
	s.register("example.com")
	s.mockCA.ScriptIssue(ca.ErrPending)

	_, err := s.engine.Trigger(s.ctx, "example.com", models.EventRequestIssuance, Payload{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeCAPending))

	d, err := s.domains.FindByName(s.ctx, "example.com")
	s.Require().NoError(err)
	s.Equal(models.StateUnissued, d.State)
	s.Equal(int64(1), d.Version)

	records, err := s.records.ListByDomain(s.ctx, "example.com")
	s.Require().NoError(err)
	s.Require().Len(records, 1)
	s.Equal(models.OutcomeFailure, records[0].Outcome)
	s.Empty(records[0].ToState, "nothing was committed")
}

func (s *EngineSuite) TestRenewalLifecycle() {
	s.issueDomain("example.com")

	d, err := s.engine.Trigger(s.ctx, "example.com", models.EventRequestRenewal, Payload{})
	s.Require().NoError(err)
	s.Equal(models.StateRenewing, d.State)
	s.Nil(d.CertificateRef)
	s.NotNil(d.PendingRef)

	d, err = s.engine.Trigger(s.ctx, "example.com", models.EventRenewalSucceeded, Payload{})
	s.Require().NoError(err)
	s.Equal(models.StateRenewed, d.State)
	s.Require().NotNil(d.CertificateRef)
}

func (s *EngineSuite) TestRenewalFailureClearsRef() {
	s.issueDomain("example.com")
	s.mockCA.ScriptRenew(errors.New("rate limited"))

	d, err := s.engine.Trigger(s.ctx, "example.com", models.EventRequestRenewal, Payload{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeCAFailure))
	s.Require().NotNil(d)
	s.Equal(models.StateFailed, d.State)
	s.Nil(d.CertificateRef)
	s.Contains(d.LastError, "rate limited")
}

func (s *EngineSuite) TestRevocation() {
	s.issueDomain("example.com")

	d, err := s.engine.Trigger(s.ctx, "example.com", models.EventRequestRevocation, Payload{Reason: "key compromise"})
	s.Require().NoError(err)
	s.Equal(models.StateRevoked, d.State)
	s.Nil(d.CertificateRef)
	s.Equal("key compromise", d.LastError)

	report, err := s.mockCA.CheckStatus(s.ctx, "example.com", nil)
	s.Require().NoError(err)
	s.Equal(ca.StatusRevoked, report.Status)
}

func (s *EngineSuite) TestExplicitPayloadRefWins() {
	s.register("example.com")
	_, err := s.engine.Trigger(s.ctx, "example.com", models.EventRequestIssuance, Payload{})
	s.Require().NoError(err)
	_, err = s.engine.Trigger(s.ctx, "example.com", models.EventValidationPassed, Payload{})
	s.Require().NoError(err)

	explicit := &models.CertificateRef{
		Issuer:       "external-ca",
		SerialNumber: "deadbeef",
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	d, err := s.engine.Trigger(s.ctx, "example.com", models.EventIssuanceSucceeded, Payload{Ref: explicit})
	s.Require().NoError(err)
	s.Require().NotNil(d.CertificateRef)
	s.Equal("external-ca", d.CertificateRef.Issuer)
	s.Equal("deadbeef", d.CertificateRef.SerialNumber)
}

func (s *EngineSuite) TestIssuanceSucceededWithoutRefRejected() {
	d := s.register("example.com")
	// Force the domain into validating without a staged ref.
	_, err := s.domains.CommitTransition(s.ctx, d.Name, d.Version, models.TransitionCommit{
		NewState: models.StateRequesting, At: time.Now(),
	})
	s.Require().NoError(err)
	_, err = s.domains.CommitTransition(s.ctx, d.Name, 2, models.TransitionCommit{
		NewState: models.StateValidating, At: time.Now(),
	})
	s.Require().NoError(err)

	_, err = s.engine.Trigger(s.ctx, "example.com", models.EventIssuanceSucceeded, Payload{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	got, err := s.domains.FindByName(s.ctx, "example.com")
	s.Require().NoError(err)
	s.Equal(models.StateValidating, got.State)
	s.Equal(int64(3), got.Version)
}

func (s *EngineSuite) TestConcurrentModificationAfterRetries() {
	s.register("example.com")
	conflicting := &conflictingStore{DomainStore: s.domains, conflicts: 10}
	eng := New(conflicting, s.mockCA, audit.NewStoreRecorder(s.records))

	_, err := eng.Trigger(s.ctx, "example.com", models.EventRequestIssuance, Payload{})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConcurrentModification))
	s.Equal(3, conflicting.attempts, "default retry budget is three attempts")
}

func (s *EngineSuite) TestConflictThenSuccess() {
	s.register("example.com")
	conflicting := &conflictingStore{DomainStore: s.domains, conflicts: 2}
	eng := New(conflicting, s.mockCA, audit.NewStoreRecorder(s.records))

	d, err := eng.Trigger(s.ctx, "example.com", models.EventRequestIssuance, Payload{})
	s.Require().NoError(err)
	s.Equal(models.StateRequesting, d.State)
	s.Equal(3, conflicting.attempts)
}

func (s *EngineSuite) TestSideEffectRunsOnceAcrossRetries() {
	s.register("example.com")
	conflicting := &conflictingStore{DomainStore: s.domains, conflicts: 1}
	counting := &countingAuthority{Authority: s.mockCA}
	eng := New(conflicting, counting, audit.NewStoreRecorder(s.records))

	_, err := eng.Trigger(s.ctx, "example.com", models.EventRequestIssuance, Payload{})
	s.Require().NoError(err)
	s.Equal(1, counting.issueCalls, "a conflicted commit must not re-issue")
}

// issueDomain walks a freshly registered domain to issued.
func (s *EngineSuite) issueDomain(name string) {
	s.register(name)
	_, err := s.engine.Trigger(s.ctx, name, models.EventRequestIssuance, Payload{})
	s.Require().NoError(err)
	_, err = s.engine.Trigger(s.ctx, name, models.EventValidationPassed, Payload{})
	s.Require().NoError(err)
	_, err = s.engine.Trigger(s.ctx, name, models.EventIssuanceSucceeded, Payload{})
	s.Require().NoError(err)
}

// conflictingStore reports a version conflict for the first N commits, then
// delegates.
type conflictingStore struct {
	store.DomainStore
	conflicts int
	attempts  int
}

func (c *conflictingStore) CommitTransition(ctx context.Context, name string, expectedVersion int64, commit models.TransitionCommit) (*models.Domain, error) {
	c.attempts++
	if c.attempts <= c.conflicts {
		return nil, sentinel.ErrVersionConflict
	}
	return c.DomainStore.CommitTransition(ctx, name, expectedVersion, commit)
}

// countingAuthority counts Issue calls.
type countingAuthority struct {
	ca.Authority
	issueCalls int
}

func (c *countingAuthority) Issue(ctx context.Context, domain string, opts ca.IssueOptions) (models.CertificateRef, error) {
	c.issueCalls++
	return c.Authority.Issue(ctx, domain, opts)
}
