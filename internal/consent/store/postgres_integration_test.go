//go:build integration

package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"patron/internal/consent/models"
	"patron/internal/consent/store"
	identitymodels "patron/internal/identity/models"
	identitystore "patron/internal/identity/store"
	id "patron/pkg/domain"
	"patron/pkg/platform/sentinel"
	"patron/pkg/testutil/containers"
)

type PostgresConsentSuite struct {
	suite.Suite
	postgres  *containers.PostgresContainer
	store     *store.PostgresStore
	customers *identitystore.PostgresStore
}

func TestPostgresConsentSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresConsentSuite))
}

func (s *PostgresConsentSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.customers = identitystore.NewPostgres(s.postgres.DB)
}

func (s *PostgresConsentSuite) SetupTest() {
	s.Require().NoError(s.postgres.ResetRegistry(context.Background()))
}

func (s *PostgresConsentSuite) newCustomer(code string) id.CustomerID {
	c, err := identitymodels.NewCustomer(id.NewCustomerID(), code, "Ana", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.customers.CreateCustomer(context.Background(), c))
	return c.ID
}

func (s *PostgresConsentSuite) TestGrantRevokeRoundTrip() {
	ctx := context.Background()
	customerID := s.newCustomer("PC-1")

	_, err := s.store.Find(ctx, customerID, models.ChannelEmail)
	s.ErrorIs(err, sentinel.ErrNotFound)

	granted, err := s.store.Update(ctx, customerID, models.ChannelEmail, func(c *models.Consent) {
		c.Grant(models.BasisContract, "pos", "10.0.0.1", time.Now())
	})
	s.Require().NoError(err)
	s.True(granted.IsOptedIn())

	_, err = s.store.Update(ctx, customerID, models.ChannelEmail, func(c *models.Consent) {
		c.Revoke(time.Now())
	})
	s.Require().NoError(err)

	found, err := s.store.Find(ctx, customerID, models.ChannelEmail)
	s.Require().NoError(err)
	s.Equal(models.StatusOptedOut, found.Status)
	s.Equal(models.BasisContract, found.LegalBasis)
	s.NotNil(found.ConsentedAt)
	s.NotNil(found.RevokedAt)
}

func (s *PostgresConsentSuite) TestConcurrentUpdatesKeepOneRow() {
	ctx := context.Background()
	customerID := s.newCustomer("PC-2")

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Update(ctx, customerID, models.ChannelSMS, func(c *models.Consent) {
				if i%2 == 0 {
					c.Grant(models.BasisConsent, "race", "", time.Now())
				} else {
					c.Revoke(time.Now())
				}
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	all, err := s.store.ListByCustomer(ctx, customerID)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *PostgresConsentSuite) TestListOptedIn() {
	ctx := context.Background()
	a, b := s.newCustomer("PC-3"), s.newCustomer("PC-4")
	for _, c := range []id.CustomerID{a, b} {
		_, err := s.store.Update(ctx, c, models.ChannelPush, func(rec *models.Consent) {
			rec.Grant(models.BasisConsent, "", "", time.Now())
		})
		s.Require().NoError(err)
	}
	_, err := s.store.Update(ctx, b, models.ChannelPush, func(rec *models.Consent) { rec.Revoke(time.Now()) })
	s.Require().NoError(err)

	ids, err := s.store.ListOptedIn(ctx, models.ChannelPush)
	s.Require().NoError(err)
	s.Equal([]id.CustomerID{a}, ids)
}
