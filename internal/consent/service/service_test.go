package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"patron/internal/consent/models"
	"patron/internal/consent/store"
	"patron/internal/events"
	identitymodels "patron/internal/identity/models"
	identityservice "patron/internal/identity/service"
	identitystore "patron/internal/identity/store"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/requestcontext"
)

type ConsentServiceSuite struct {
	suite.Suite
	ctx       context.Context
	customers *identityservice.Service
	recorder  *events.Recorder
	svc       *Service
}

func TestConsentServiceSuite(t *testing.T) {
	suite.Run(t, new(ConsentServiceSuite))
}

func (s *ConsentServiceSuite) SetupTest() {
	s.ctx = context.Background()
	ids := identitystore.NewInMemory()
	s.customers = identityservice.New(ids, ids)
	s.recorder = &events.Recorder{}
	s.svc = New(store.NewInMemory(), s.customers, WithPublisher(s.recorder))
}

func (s *ConsentServiceSuite) customer(code string) *identitymodels.Customer {
	c, err := s.customers.CreateCustomer(s.ctx, &identitymodels.CreateCustomerRequest{Code: code, FirstName: "Ana"})
	s.Require().NoError(err)
	return c
}

func (s *ConsentServiceSuite) TestGrantThenRevokeKeepsConsentedAt() {
	c := s.customer("K-1")
	grantedAt := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	granted, err := s.svc.Grant(requestcontext.WithTime(s.ctx, grantedAt), "K-1", models.GrantInput{
		Channel: "WhatsApp", Source: "signup", IPAddress: "198.51.100.1",
	})
	s.Require().NoError(err)
	s.Equal(models.StatusOptedIn, granted.Status)
	s.Equal(models.BasisConsent, granted.LegalBasis)

	ok, err := s.svc.HasConsent(s.ctx, c.ID, "whatsapp")
	s.Require().NoError(err)
	s.True(ok)

	revoked, err := s.svc.Revoke(s.ctx, "K-1", "whatsapp")
	s.Require().NoError(err)
	s.Equal(models.StatusOptedOut, revoked.Status)
	s.Require().NotNil(revoked.ConsentedAt)
	s.True(grantedAt.Equal(*revoked.ConsentedAt))
	s.NotNil(revoked.RevokedAt)

	ok, err = s.svc.HasConsent(s.ctx, c.ID, "whatsapp")
	s.Require().NoError(err)
	s.False(ok)

	s.Len(s.recorder.OfType(events.ConsentGranted), 1)
	s.Len(s.recorder.OfType(events.ConsentRevoked), 1)
}

func (s *ConsentServiceSuite) TestMissingAndPendingAnswerFalse() {
	c := s.customer("K-2")

	ok, err := s.svc.HasConsent(s.ctx, c.ID, "email")
	s.Require().NoError(err)
	s.False(ok)

	_, err = s.svc.HasConsent(s.ctx, c.ID, "pigeon")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	_, err = s.svc.Grant(s.ctx, "K-2", models.GrantInput{Channel: "email", LegalBasis: "whim"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ConsentServiceSuite) TestInactiveCustomersAreNotMarketable() {
	s.customer("K-3")
	s.customer("K-4")
	for _, code := range []string{"K-3", "K-4"} {
		_, err := s.svc.Grant(s.ctx, code, models.GrantInput{Channel: "sms"})
		s.Require().NoError(err)
	}
	_, err := s.customers.DeactivateCustomer(s.ctx, "K-4")
	s.Require().NoError(err)

	codes, err := s.svc.GetMarketableCustomers(s.ctx, "sms")
	s.Require().NoError(err)
	s.Equal([]string{"K-3"}, codes)

	ok, err := s.svc.HasConsentByCode(s.ctx, "K-4", "sms")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *ConsentServiceSuite) TestOptedInChannels() {
	s.customer("K-5")
	for _, ch := range []string{"push", "email", "sms"} {
		_, err := s.svc.Grant(s.ctx, "K-5", models.GrantInput{Channel: ch})
		s.Require().NoError(err)
	}
	_, err := s.svc.Revoke(s.ctx, "K-5", "sms")
	s.Require().NoError(err)

	channels, err := s.svc.GetOptedInChannels(s.ctx, "K-5")
	s.Require().NoError(err)
	s.Equal([]models.Channel{models.ChannelEmail, models.ChannelPush}, channels)

	all, err := s.svc.GetConsents(s.ctx, "K-5")
	s.Require().NoError(err)
	s.Len(all, 3)
}
