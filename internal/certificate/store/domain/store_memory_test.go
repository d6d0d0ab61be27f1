package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"certfsm/internal/certificate/models"
	"certfsm/pkg/platform/sentinel"
)

type DomainStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *DomainStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestDomainStoreSuite(t *testing.T) {
	suite.Run(t, new(DomainStoreSuite))
}

func (s *DomainStoreSuite) newDomain(name string) *models.Domain {
	d, err := models.NewDomain(name, time.Now())
	s.Require().NoError(err)
	return d
}

func (s *DomainStoreSuite) TestCreateAndFind() {
	s.Run("creates and finds domain", func() {
		d := s.newDomain("example.com")
		s.Require().NoError(s.store.Create(s.ctx, d))

		found, err := s.store.FindByName(s.ctx, "example.com")
		s.Require().NoError(err)
		s.Equal(models.StateUnissued, found.State)
		s.EqualValues(1, found.Version)
	})

	s.Run("returns ErrNotFound for unknown domain", func() {
		_, err := s.store.FindByName(s.ctx, "missing.example.com")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("rejects duplicate name", func() {
		d := s.newDomain("dup.example.com")
		s.Require().NoError(s.store.Create(s.ctx, d))
		s.Require().ErrorIs(s.store.Create(s.ctx, s.newDomain("dup.example.com")), sentinel.ErrAlreadyExists)
	})
}

func (s *DomainStoreSuite) TestListOrdersByName() {
	for _, name := range []string{"charlie.example.com", "alpha.example.com", "bravo.example.com"} {
		s.Require().NoError(s.store.Create(s.ctx, s.newDomain(name)))
	}

	domains, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(domains, 3)
	s.Equal("alpha.example.com", domains[0].Name)
	s.Equal("bravo.example.com", domains[1].Name)
	s.Equal("charlie.example.com", domains[2].Name)
}

func (s *DomainStoreSuite) TestCommitTransition() {
	s.Run("commits with matching version", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newDomain("example.com")))

		committed, err := s.store.CommitTransition(s.ctx, "example.com", 1, models.TransitionCommit{
			NewState: models.StateRequesting,
			At:       time.Now(),
		})
		s.Require().NoError(err)
		s.Equal(models.StateRequesting, committed.State)
		s.EqualValues(2, committed.Version)
	})

	s.Run("rejects stale version", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newDomain("stale.example.com")))
		_, err := s.store.CommitTransition(s.ctx, "stale.example.com", 1, models.TransitionCommit{
			NewState: models.StateRequesting, At: time.Now(),
		})
		s.Require().NoError(err)

		_, err = s.store.CommitTransition(s.ctx, "stale.example.com", 1, models.TransitionCommit{
			NewState: models.StateRequesting, At: time.Now(),
		})
		s.Require().ErrorIs(err, sentinel.ErrVersionConflict)
	})

	s.Run("unknown domain", func() {
		_, err := s.store.CommitTransition(s.ctx, "missing.example.com", 1, models.TransitionCommit{
			NewState: models.StateRequesting, At: time.Now(),
		})
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("invariant violation leaves store untouched", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.newDomain("inv.example.com")))

		// issued without a ref violates the certificate invariant
		_, err := s.store.CommitTransition(s.ctx, "inv.example.com", 1, models.TransitionCommit{
			NewState: models.StateIssued, At: time.Now(),
		})
		s.Require().Error(err)

		found, err := s.store.FindByName(s.ctx, "inv.example.com")
		s.Require().NoError(err)
		s.Equal(models.StateUnissued, found.State)
		s.EqualValues(1, found.Version)
	})
}

func (s *DomainStoreSuite) TestConcurrentCommitsExactlyOneWins() {
	s.Require().NoError(s.store.Create(s.ctx, s.newDomain("race.example.com")))

	const workers = 8
	var wg sync.WaitGroup
	wins := make(chan struct{}, workers)
	conflicts := make(chan struct{}, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.CommitTransition(s.ctx, "race.example.com", 1, models.TransitionCommit{
				NewState: models.StateRequesting, At: time.Now(),
			})
			switch {
			case err == nil:
				wins <- struct{}{}
			default:
				conflicts <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)
	close(conflicts)

	s.Equal(1, len(wins), "exactly one commit must win")
	s.Equal(workers-1, len(conflicts))

	found, err := s.store.FindByName(s.ctx, "race.example.com")
	s.Require().NoError(err)
	s.EqualValues(2, found.Version, "version advances exactly once")
}

func (s *DomainStoreSuite) TestStoreHandsOutCopies() {
	s.Require().NoError(s.store.Create(s.ctx, s.newDomain("copy.example.com")))

	found, err := s.store.FindByName(s.ctx, "copy.example.com")
	s.Require().NoError(err)
	found.State = models.StateInvalid

	again, err := s.store.FindByName(s.ctx, "copy.example.com")
	s.Require().NoError(err)
	s.Equal(models.StateUnissued, again.State)
}
