package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	identity "patron/internal/identity/models"
	"patron/internal/ledger/models"
	id "patron/pkg/domain"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/httputil"
	"patron/pkg/requestcontext"
)

// Service is the ledger surface the HTTP layer needs.
type Service interface {
	Enroll(ctx context.Context, customerID id.CustomerID) (*models.Account, error)
	Account(ctx context.Context, customerID id.CustomerID) (*models.Account, error)
	Transactions(ctx context.Context, customerID id.CustomerID, limit int) ([]*models.Transaction, error)
	Earn(ctx context.Context, customerID id.CustomerID, points int64, opts models.EntryOptions) (*models.Result, error)
	Redeem(ctx context.Context, customerID id.CustomerID, points int64, opts models.EntryOptions) (*models.Result, error)
	Expire(ctx context.Context, customerID id.CustomerID, points int64, opts models.EntryOptions) (*models.Result, error)
	Adjust(ctx context.Context, customerID id.CustomerID, delta int64, opts models.EntryOptions) (*models.Result, error)
	AddStamp(ctx context.Context, customerID id.CustomerID, opts models.EntryOptions) (*models.Result, error)
}

// Customers resolves the public customer code used in URLs.
type Customers interface {
	GetByCode(ctx context.Context, code string) (*identity.Customer, error)
}

// Handler exposes loyalty endpoints keyed by customer code.
type Handler struct {
	service   Service
	customers Customers
	logger    *slog.Logger
}

func New(service Service, customers Customers, logger *slog.Logger) *Handler {
	return &Handler{service: service, customers: customers, logger: logger}
}

// Register mounts loyalty endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/loyalty/{code}", func(r chi.Router) {
		r.Post("/", h.HandleEnroll)
		r.Get("/", h.HandleAccount)
		r.Get("/transactions", h.HandleTransactions)
		r.Post("/earn", h.HandleEarn)
		r.Post("/redeem", h.HandleRedeem)
		r.Post("/expire", h.HandleExpire)
		r.Post("/adjust", h.HandleAdjust)
		r.Post("/stamps", h.HandleStamp)
	})
}

func (h *Handler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	acct, err := h.service.Enroll(ctx, customerID)
	if err != nil {
		h.fail(ctx, w, "enroll failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (h *Handler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	acct, err := h.service.Account(ctx, customerID)
	if err != nil {
		h.fail(ctx, w, "get loyalty account failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toAccountResponse(acct))
}

func (h *Handler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	txns, err := h.service.Transactions(ctx, customerID, limit)
	if err != nil {
		h.fail(ctx, w, "list transactions failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (h *Handler) HandleEarn(w http.ResponseWriter, r *http.Request) {
	h.handlePoints(w, r, "earn", h.service.Earn)
}

func (h *Handler) HandleRedeem(w http.ResponseWriter, r *http.Request) {
	h.handlePoints(w, r, "redeem", h.service.Redeem)
}

func (h *Handler) HandleExpire(w http.ResponseWriter, r *http.Request) {
	h.handlePoints(w, r, "expire", h.service.Expire)
}

type pointsFunc func(ctx context.Context, customerID id.CustomerID, points int64, opts models.EntryOptions) (*models.Result, error)

func (h *Handler) handlePoints(w http.ResponseWriter, r *http.Request, op string, fn pointsFunc) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[pointsRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := fn(ctx, customerID, req.Points, h.entryOptions(ctx, req.Description, req.Reference))
	if err != nil {
		h.fail(ctx, w, op+" failed", err)
		return
	}
	h.logger.InfoContext(ctx, "ledger entry appended",
		"request_id", requestID,
		"type", op,
		"transaction_id", res.Transaction.ID,
		"balance_after", res.Transaction.BalanceAfter,
	)
	httputil.WriteJSON(w, http.StatusOK, toResultResponse(res))
}

func (h *Handler) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[adjustRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.service.Adjust(ctx, customerID, req.Delta, h.entryOptions(ctx, req.Description, req.Reference))
	if err != nil {
		h.fail(ctx, w, "adjust failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResultResponse(res))
}

func (h *Handler) HandleStamp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	customerID, ok := h.customerID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[stampRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.service.AddStamp(ctx, customerID, h.entryOptions(ctx, req.Description, req.Reference))
	if err != nil {
		h.fail(ctx, w, "add stamp failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResultResponse(res))
}

func (h *Handler) entryOptions(ctx context.Context, description, reference string) models.EntryOptions {
	return models.EntryOptions{
		Description: description,
		Reference:   reference,
		CreatedBy:   requestcontext.ActorName(ctx, "api"),
	}
}

func (h *Handler) customerID(w http.ResponseWriter, r *http.Request) (id.CustomerID, bool) {
	ctx := r.Context()
	c, err := h.customers.GetByCode(ctx, chi.URLParam(r, "code"))
	if err != nil {
		h.fail(ctx, w, "resolve customer failed", err)
		return id.CustomerID{}, false
	}
	return c.ID, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	} else {
		h.logger.WarnContext(ctx, msg, "request_id", requestcontext.RequestID(ctx), "error", err)
	}
	httputil.WriteError(w, err)
}
