package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"patron/internal/gates"
	"patron/internal/identity/models"
	"patron/internal/identity/service"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/httputil"
	"patron/pkg/requestcontext"
)

// Service is the identity surface the HTTP layer needs.
type Service interface {
	CreateCustomer(ctx context.Context, req *models.CreateCustomerRequest) (*models.Customer, error)
	GetByUUID(ctx context.Context, customerID id.CustomerID) (*models.Customer, error)
	GetByPhone(ctx context.Context, phone string) (*models.Customer, error)
	GetByEmail(ctx context.Context, email string) (*models.Customer, error)
	GetByDocument(ctx context.Context, document string) (*models.Customer, error)
	Search(ctx context.Context, query string, limit int) ([]*models.Customer, error)
	Profile(ctx context.Context, code string) (*models.Profile, error)
	UpdateCustomer(ctx context.Context, code string, req *models.UpdateCustomerRequest) (*models.Customer, map[string]models.Change, error)
	DeactivateCustomer(ctx context.Context, code string) (*models.Customer, error)
	UpsertContactPoint(ctx context.Context, customerCode string, in *models.ContactInput) (*models.ContactPoint, bool, error)
	ListContactPoints(ctx context.Context, customerCode string) ([]*models.ContactPoint, error)
	PromoteToPrimary(ctx context.Context, customerCode string, t models.ContactType, contactID id.ContactPointID) (*models.ContactPoint, error)
	MarkVerified(ctx context.Context, contactID id.ContactPointID, method models.VerificationMethod, ref string) (*models.ContactPoint, error)
	LinkExternalIdentity(ctx context.Context, customerCode string, provider models.Provider, uid string, meta map[string]any) (*models.ExternalIdentity, error)
	AddIdentifier(ctx context.Context, customerCode string, in service.AddIdentifierInput) (*models.CustomerIdentifier, error)
	ListIdentifiers(ctx context.Context, customerCode string) ([]*models.CustomerIdentifier, error)
	ResolveByIdentifier(ctx context.Context, t models.IdentifierType, value string) (*models.Customer, error)
	ValidateCustomer(ctx context.Context, code string) (*models.Validation, error)
	PriceList(ctx context.Context, code string) (string, error)
	SaveGroup(ctx context.Context, req *models.CreateGroupRequest) (*models.Group, error)
	ListGroups(ctx context.Context) ([]*models.Group, error)
}

// Handler exposes customer identity endpoints.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts identity endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/customers", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleSearch)
		r.Get("/lookup", h.HandleLookup)
		r.Get("/{code}", h.HandleGet)
		r.Get("/{code}/validate", h.HandleValidate)
		r.Get("/{code}/price-list", h.HandlePriceList)
		r.Patch("/{code}", h.HandleUpdate)
		r.Delete("/{code}", h.HandleDeactivate)
		r.Get("/{code}/contacts", h.HandleListContacts)
		r.Post("/{code}/contacts", h.HandleUpsertContact)
		r.Post("/{code}/contacts/{contactID}/primary", h.HandlePromote)
		r.Post("/{code}/external-identities", h.HandleLink)
		r.Get("/{code}/identifiers", h.HandleListIdentifiers)
		r.Post("/{code}/identifiers", h.HandleAddIdentifier)
	})
	r.Get("/groups", h.HandleListGroups)
	r.Put("/groups", h.HandleSaveGroup)
	r.Post("/contacts/{contactID}/verify", h.HandleVerify)
	r.Get("/identifiers/resolve", h.HandleResolve)
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[models.CreateCustomerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	c, err := h.service.CreateCustomer(ctx, req)
	if err != nil {
		h.fail(ctx, w, "create customer failed", err)
		return
	}
	h.logger.InfoContext(ctx, "customer created",
		"request_id", requestID,
		"customer_code", c.Code,
	)
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := h.service.Search(ctx, r.URL.Query().Get("q"), limit)
	if err != nil {
		h.fail(ctx, w, "search customers failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"customers": out})
}

// HandleLookup resolves one customer by uuid, phone, email or document,
// checked in that order.
func (h *Handler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	var (
		c   *models.Customer
		err error
	)
	switch {
	case q.Get("uuid") != "":
		var customerID id.CustomerID
		if customerID, err = id.ParseCustomerID(q.Get("uuid")); err == nil {
			c, err = h.service.GetByUUID(ctx, customerID)
		}
	case q.Get("phone") != "":
		c, err = h.service.GetByPhone(ctx, q.Get("phone"))
	case q.Get("email") != "":
		c, err = h.service.GetByEmail(ctx, q.Get("email"))
	case q.Get("document") != "":
		c, err = h.service.GetByDocument(ctx, q.Get("document"))
	default:
		err = dErrors.New(dErrors.CodeBadRequest, "one of uuid, phone, email or document is required")
	}
	if err != nil {
		h.fail(ctx, w, "customer lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	profile, err := h.service.Profile(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(ctx, w, "get customer failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, profile)
}

// HandleValidate always answers 200 for a well-formed code; an unknown
// customer is reported in the body with valid=false.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out, err := h.service.ValidateCustomer(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(ctx, w, "validate customer failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) HandlePriceList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	code := chi.URLParam(r, "code")
	priceList, err := h.service.PriceList(ctx, code)
	if err != nil {
		h.fail(ctx, w, "price list lookup failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"code": code, "price_list_code": priceList})
}

func (h *Handler) HandleListGroups(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out, err := h.service.ListGroups(ctx)
	if err != nil {
		h.fail(ctx, w, "list groups failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"groups": out})
}

func (h *Handler) HandleSaveGroup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[models.CreateGroupRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	g, err := h.service.SaveGroup(ctx, req)
	if err != nil {
		h.fail(ctx, w, "save group failed", err)
		return
	}
	h.logger.InfoContext(ctx, "customer group saved",
		"request_id", requestID,
		"group_code", g.Code,
		"is_default", g.IsDefault,
	)
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[models.UpdateCustomerRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	c, changes, err := h.service.UpdateCustomer(ctx, chi.URLParam(r, "code"), req)
	if err != nil {
		h.fail(ctx, w, "update customer failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updateResponse{Customer: c, Changes: changes})
}

func (h *Handler) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := h.service.DeactivateCustomer(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(ctx, w, "deactivate customer failed", err)
		return
	}
	h.logger.InfoContext(ctx, "customer deactivated",
		"request_id", requestcontext.RequestID(ctx),
		"customer_code", c.Code,
	)
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) HandleListContacts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out, err := h.service.ListContactPoints(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(ctx, w, "list contact points failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"contact_points": out})
}

func (h *Handler) HandleUpsertContact(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[models.ContactInput](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	cp, created, err := h.service.UpsertContactPoint(ctx, chi.URLParam(r, "code"), req)
	if err != nil {
		h.fail(ctx, w, "upsert contact point failed", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, contactResponse{ContactPoint: cp, Created: created})
}

func (h *Handler) HandlePromote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	contactID, err := id.ParseContactPointID(chi.URLParam(r, "contactID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[promoteRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	t, _ := models.ParseContactType(req.Type)
	cp, err := h.service.PromoteToPrimary(ctx, chi.URLParam(r, "code"), t, contactID)
	if err != nil {
		h.fail(ctx, w, "promote contact point failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cp)
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	contactID, err := id.ParseContactPointID(chi.URLParam(r, "contactID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[verifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	cp, err := h.service.MarkVerified(ctx, contactID, models.VerificationMethod(req.Method), req.Ref)
	if err != nil {
		h.fail(ctx, w, "verify contact point failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cp)
}

func (h *Handler) HandleLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[linkRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	provider, _ := models.ParseProvider(req.Provider)
	e, err := h.service.LinkExternalIdentity(ctx, chi.URLParam(r, "code"), provider, req.ProviderUID, req.Meta)
	if err != nil {
		h.fail(ctx, w, "link external identity failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) HandleListIdentifiers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out, err := h.service.ListIdentifiers(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(ctx, w, "list identifiers failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"identifiers": out})
}

func (h *Handler) HandleAddIdentifier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[identifierRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	t, _ := models.ParseIdentifierType(req.Type)
	ident, err := h.service.AddIdentifier(ctx, chi.URLParam(r, "code"), service.AddIdentifierInput{
		Type:         t,
		Value:        req.Value,
		IsPrimary:    req.IsPrimary,
		SourceSystem: req.SourceSystem,
	})
	if err != nil {
		h.fail(ctx, w, "add identifier failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ident)
}

func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := models.ParseIdentifierType(r.URL.Query().Get("type"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	c, err := h.service.ResolveByIdentifier(ctx, t, r.URL.Query().Get("value"))
	if err != nil {
		h.fail(ctx, w, "resolve identifier failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resolveResponse{Found: c != nil, Customer: c})
}

// fail logs and renders err. Gate failures carry their gate, reason and
// details in the body.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	code := dErrors.CodeOf(err)
	if code == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	if ge, ok := gates.AsError(err); ok {
		httputil.WriteJSON(w, dErrors.ToHTTPStatus(ge.Code), ge.Body())
		return
	}
	httputil.WriteError(w, err)
}
