package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"patron/internal/consent/models"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/httputil"
	"patron/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the consent operations exposed over HTTP.
type Service interface {
	Grant(ctx context.Context, customerCode string, in models.GrantInput) (*models.Consent, error)
	Revoke(ctx context.Context, customerCode, channel string) (*models.Consent, error)
	HasConsentByCode(ctx context.Context, customerCode, channel string) (bool, error)
	GetConsents(ctx context.Context, customerCode string) ([]*models.Consent, error)
	GetOptedInChannels(ctx context.Context, customerCode string) ([]models.Channel, error)
	GetMarketableCustomers(ctx context.Context, channel string) ([]string, error)
}

// Handler handles consent endpoints.
type Handler struct {
	consent Service
	logger  *slog.Logger
}

func New(consent Service, logger *slog.Logger) *Handler {
	return &Handler{consent: consent, logger: logger}
}

// Register registers the consent routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/consents", func(r chi.Router) {
		r.Get("/marketable", h.HandleMarketable)
		r.Get("/{code}", h.HandleList)
		r.Get("/{code}/channels", h.HandleOptedInChannels)
		r.Get("/{code}/check", h.HandleCheck)
		r.Post("/{code}/grant", h.HandleGrant)
		r.Post("/{code}/revoke", h.HandleRevoke)
	})
}

type grantRequest models.GrantInput

func (r *grantRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.Channel = strings.TrimSpace(r.Channel)
	if r.Channel == "" {
		return dErrors.New(dErrors.CodeValidation, "channel is required")
	}
	return nil
}

type revokeRequest struct {
	Channel string `json:"channel"`
}

func (r *revokeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.Channel = strings.TrimSpace(r.Channel)
	if r.Channel == "" {
		return dErrors.New(dErrors.CodeValidation, "channel is required")
	}
	return nil
}

// HandleGrant opts the customer in. The caller's IP is recorded when the
// body carries none.
func (h *Handler) HandleGrant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[grantRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	in := models.GrantInput(*req)
	if in.IPAddress == "" {
		in.IPAddress = requestcontext.ClientIP(ctx)
	}
	code := chi.URLParam(r, "code")
	consent, err := h.consent.Grant(ctx, code, in)
	if err != nil {
		h.fail(ctx, w, "grant consent failed", err)
		return
	}
	h.logger.InfoContext(ctx, "consent granted",
		"request_id", requestID,
		"customer_code", code,
		"channel", string(consent.Channel),
	)
	httputil.WriteJSON(w, http.StatusOK, consent)
}

func (h *Handler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[revokeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	code := chi.URLParam(r, "code")
	consent, err := h.consent.Revoke(ctx, code, req.Channel)
	if err != nil {
		h.fail(ctx, w, "revoke consent failed", err)
		return
	}
	h.logger.InfoContext(ctx, "consent revoked",
		"request_id", requestID,
		"customer_code", code,
		"channel", string(consent.Channel),
	)
	httputil.WriteJSON(w, http.StatusOK, consent)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	consents, err := h.consent.GetConsents(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(ctx, w, "list consents failed", err)
		return
	}
	if consents == nil {
		consents = []*models.Consent{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"consents": consents})
}

func (h *Handler) HandleOptedInChannels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channels, err := h.consent.GetOptedInChannels(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(ctx, w, "list opted-in channels failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"channels": channels})
}

func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channel := r.URL.Query().Get("channel")
	ok, err := h.consent.HasConsentByCode(ctx, chi.URLParam(r, "code"), channel)
	if err != nil {
		h.fail(ctx, w, "consent check failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"channel": channel, "has_consent": ok})
}

func (h *Handler) HandleMarketable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	codes, err := h.consent.GetMarketableCustomers(ctx, r.URL.Query().Get("channel"))
	if err != nil {
		h.fail(ctx, w, "list marketable customers failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"customer_codes": codes})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}
