//go:build integration

package service_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"patron/internal/identity/models"
	"patron/internal/identity/service"
	"patron/internal/identity/store"
	"patron/internal/platform/postgres"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/sentinel"
	"patron/pkg/testutil/containers"
)

// PostgresServiceSuite reruns the uniqueness races against real constraints.
type PostgresServiceSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	svc      *service.Service
}

func TestPostgresServiceSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresServiceSuite))
}

func (s *PostgresServiceSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.svc = service.New(s.store, postgres.NewTransactor(s.postgres.DB))
}

func (s *PostgresServiceSuite) SetupTest() {
	s.Require().NoError(s.postgres.ResetRegistry(context.Background()))
}

func (s *PostgresServiceSuite) TestConcurrentCreatesWithSamePhone() {
	ctx := context.Background()
	const writers = 25

	var wg sync.WaitGroup
	var ok, conflicts atomic.Int32
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.CreateCustomer(ctx, &models.CreateCustomerRequest{
				Code: fmt.Sprintf("PG-%02d", i), FirstName: "Racer", Phone: "+5511977776666",
			})
			switch {
			case err == nil:
				ok.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), ok.Load())
	s.Equal(int32(writers-1), conflicts.Load())
}

func (s *PostgresServiceSuite) TestConcurrentPromotesKeepOnePrimary() {
	ctx := context.Background()
	c, err := s.svc.CreateCustomer(ctx, &models.CreateCustomerRequest{Code: "PG-P", FirstName: "Ana"})
	s.Require().NoError(err)

	var contacts []*models.ContactPoint
	for i := range 5 {
		cp, _, err := s.svc.UpsertContactPoint(ctx, "PG-P", &models.ContactInput{
			Type: "email", Value: fmt.Sprintf("p%d@example.com", i),
		})
		s.Require().NoError(err)
		contacts = append(contacts, cp)
	}

	var wg sync.WaitGroup
	for _, cp := range contacts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.PromoteToPrimary(ctx, "PG-P", models.ContactEmail, cp.ID)
			s.NoError(err)
		}()
	}
	wg.Wait()

	n, err := s.store.CountPrimaryContacts(ctx, c.ID, models.ContactEmail)
	s.Require().NoError(err)
	s.Equal(1, n)
}

func (s *PostgresServiceSuite) TestConcurrentFindOrCreateConverges() {
	ctx := context.Background()
	const callers = 10

	var wg sync.WaitGroup
	codes := make([]string, callers)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, _, err := s.svc.FindOrCreateByIdentifier(ctx, models.IdentifierEmail, "same@example.com", nil)
			if s.NoError(err) {
				codes[i] = c.Code
			}
		}()
	}
	wg.Wait()

	for _, code := range codes {
		s.Equal(codes[0], code)
	}
}

func (s *PostgresServiceSuite) TestLegacyPhoneLookup() {
	ctx := context.Background()
	c, err := s.svc.CreateCustomer(ctx, &models.CreateCustomerRequest{Code: "PG-L", FirstName: "Ana"})
	s.Require().NoError(err)
	c.Phone = "11966665555"
	s.Require().NoError(s.store.UpdateCustomer(ctx, c))

	found, err := s.svc.GetByPhone(ctx, "+5511966665555")
	s.Require().NoError(err)
	s.Equal(c.ID, found.ID)
}

func (s *PostgresServiceSuite) TestConflictsCarryConstraintName() {
	ctx := context.Background()
	a, err := s.svc.CreateCustomer(ctx, &models.CreateCustomerRequest{Code: "PG-CA", FirstName: "Ana", Email: "ca@example.com"})
	s.Require().NoError(err)
	b, err := s.svc.CreateCustomer(ctx, &models.CreateCustomerRequest{Code: "PG-CB", FirstName: "Bia"})
	s.Require().NoError(err)

	dup, err := models.NewContactPoint(b.ID, models.ContactEmail, "ca@example.com", "BR", time.Now())
	s.Require().NoError(err)
	err = s.store.CreateContactPoint(ctx, dup)
	s.ErrorIs(err, sentinel.ErrConflict)
	s.Equal(models.ConstraintContactValue, sentinel.ConstraintOf(err))

	second, err := models.NewContactPoint(a.ID, models.ContactEmail, "other@example.com", "BR", time.Now())
	s.Require().NoError(err)
	second.IsPrimary = true
	err = s.store.CreateContactPoint(ctx, second)
	s.ErrorIs(err, sentinel.ErrConflict)
	s.Equal(models.ConstraintContactPrimary, sentinel.ConstraintOf(err))
}
