package handler_test

import (
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"patron/internal/identity/handler"
	"patron/internal/identity/models"
	"patron/internal/identity/service"
	"patron/internal/identity/store"
	"patron/pkg/testutil"
)

type HandlerSuite struct {
	suite.Suite
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	st := store.NewInMemory()
	svc := service.New(st, st)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	handler.New(svc, logger).Register(s.router)
}

func (s *HandlerSuite) createCustomer(code, phone string) {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/customers", map[string]any{
		"code": code, "first_name": "Ana", "phone": phone,
	}))
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
}

func (s *HandlerSuite) TestCreateAndGet() {
	s.createCustomer("H-1", "11 99999-1111")

	rr := testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/customers/H-1"))
	testutil.AssertStatusOK(s.T(), rr)
	profile := testutil.UnmarshalResponse[models.Profile](s.T(), rr)
	s.Equal("+5511999991111", profile.Customer.Phone)
	s.Len(profile.ContactPoints, 1)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/customers/lookup?phone=%2B5511999991111"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "code", "H-1")
}

func (s *HandlerSuite) TestCreateRejectsBadInput() {
	rr := testutil.DoRequest(s.router, testutil.NewRequestWithBody(s.T(), http.MethodPost, "/customers", "{not json"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/customers", map[string]any{"code": "X"}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
}

func (s *HandlerSuite) TestDuplicateContactReportsGate() {
	s.createCustomer("H-2", "11 99999-2222")
	s.createCustomer("H-3", "")

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/customers/H-3/contacts", map[string]any{
		"type": "phone", "value": "+55 11 99999-2222",
	}))
	testutil.AssertStatus(s.T(), rr, http.StatusConflict)
	body := testutil.UnmarshalErrorResponse(s.T(), rr)
	s.Equal("conflict", body["error"])
	s.Equal("G1_ContactPointUniqueness", body["gate"])
	s.Equal("duplicate_contact", body["reason"])
}

func (s *HandlerSuite) TestContactLifecycle() {
	s.createCustomer("H-4", "")

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/customers/H-4/contacts", map[string]any{
		"type": "email", "value": "first@example.com",
	}))
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/customers/H-4/contacts", map[string]any{
		"type": "email", "value": "second@example.com",
	}))
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)
	second := testutil.UnmarshalResponse[struct {
		ContactPoint models.ContactPoint `json:"contact_point"`
	}](s.T(), rr)
	s.False(second.ContactPoint.IsPrimary)
	contactID := second.ContactPoint.ID.String()

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost,
		"/customers/H-4/contacts/"+contactID+"/primary", map[string]any{"type": "email"}))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "is_primary", true)

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost,
		"/contacts/"+contactID+"/verify", map[string]any{"method": "sms_guess"}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusUnprocessableEntity, "invalid_transition")

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost,
		"/contacts/"+contactID+"/verify", map[string]any{"method": "email_link", "ref": "tok"}))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "is_verified", true)

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost,
		"/contacts/not-a-uuid/verify", map[string]any{"method": "email_link"}))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)
}

func (s *HandlerSuite) TestIdentifiersAndResolve() {
	s.createCustomer("H-5", "")

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/customers/H-5/identifiers", map[string]any{
		"identifier_type": "instagram", "identifier_value": "@Shop", "is_primary": true,
	}))
	testutil.AssertStatus(s.T(), rr, http.StatusCreated)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/identifiers/resolve?type=instagram&value=shop"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "found", true)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/identifiers/resolve?type=instagram&value=nobody"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "found", false)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/identifiers/resolve?type=pager&value=1"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
}

func (s *HandlerSuite) TestLinkAndDeactivate() {
	s.createCustomer("H-6", "")

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/customers/H-6/external-identities", map[string]any{
		"provider": "manychat", "provider_uid": "123",
	}))
	testutil.AssertStatusOK(s.T(), rr)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodDelete, "/customers/H-6"))
	testutil.AssertStatusOK(s.T(), rr)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/customers/H-6"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *HandlerSuite) TestGroupsAndValidate() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPut, "/groups", map[string]any{
		"code": "wholesale", "name": "Wholesale", "price_list_code": "atacado", "is_default": true,
	}))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "is_default", true)

	rr = testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPut, "/groups", map[string]any{"code": "No Slug"}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/groups"))
	testutil.AssertStatusOK(s.T(), rr)
	groups := testutil.UnmarshalResponse[struct {
		Groups []models.Group `json:"groups"`
	}](s.T(), rr)
	s.Len(groups.Groups, 1)

	s.createCustomer("H-G", "")
	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/customers/H-G/validate"))
	testutil.AssertStatusOK(s.T(), rr)
	v := testutil.UnmarshalResponse[models.Validation](s.T(), rr)
	s.True(v.Valid)
	s.Equal("wholesale", v.GroupCode)
	s.Equal("atacado", v.PriceListCode)

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/customers/H-G/price-list"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "price_list_code", "atacado")

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/customers/NOPE/validate"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "valid", false)
	testutil.AssertJSONContains(s.T(), rr, "error_code", "CUSTOMER_NOT_FOUND")

	rr = testutil.DoRequest(s.router, testutil.NewRequest(s.T(), http.MethodGet, "/customers/NOPE/price-list"))
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
}
