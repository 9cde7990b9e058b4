package handler

import (
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"patron/internal/consent/handler/mocks"
	"patron/internal/consent/models"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/requestcontext"
	"patron/pkg/testutil"
)

type ConsentHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestConsentHandlerSuite(t *testing.T) {
	suite.Run(t, new(ConsentHandlerSuite))
}

func (s *ConsentHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(s.service, logger).Register(s.router)
}

func (s *ConsentHandlerSuite) TestGrantRecordsClientIP() {
	now := time.Date(2025, 12, 3, 10, 0, 0, 0, time.UTC)
	s.service.EXPECT().Grant(gomock.Any(), "C-1", models.GrantInput{
		Channel: "whatsapp", Source: "checkout", IPAddress: "203.0.113.9",
	}).Return(&models.Consent{
		CustomerID:  id.NewCustomerID(),
		Channel:     models.ChannelWhatsApp,
		Status:      models.StatusOptedIn,
		LegalBasis:  models.BasisConsent,
		ConsentedAt: &now,
		UpdatedAt:   now,
	}, nil)

	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/consents/C-1/grant", map[string]any{
		"channel": " whatsapp ", "source": "checkout",
	})
	req = testutil.WithContextValue(req, requestcontext.ContextKeyClientIP, "203.0.113.9")
	rr := testutil.DoRequest(s.router, req)

	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "status", "opted_in")
}

func (s *ConsentHandlerSuite) TestGrantRequiresChannel() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/consents/C-1/grant", map[string]any{}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
}

func (s *ConsentHandlerSuite) TestRevokeUnknownCustomer() {
	s.service.EXPECT().Revoke(gomock.Any(), "NOPE", "email").
		Return(nil, dErrors.New(dErrors.CodeNotFound, "customer not found"))

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/consents/NOPE/revoke", map[string]any{"channel": "email"}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *ConsentHandlerSuite) TestCheck() {
	s.service.EXPECT().HasConsentByCode(gomock.Any(), "C-1", "sms").Return(false, nil)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/consents/C-1/check?channel=sms"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "has_consent", false)
}

func (s *ConsentHandlerSuite) TestMarketable() {
	s.service.EXPECT().GetMarketableCustomers(gomock.Any(), "email").Return([]string{"A", "B"}, nil)

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/consents/marketable?channel=email"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "customer_codes", []any{"A", "B"})
}
