package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"patron/internal/gates"
	"patron/internal/webhook/pipeline"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/httputil"
	"patron/pkg/requestcontext"
)

// MaxPayloadBytes bounds a delivery body; larger bodies get 413.
const MaxPayloadBytes = 1 << 20

// Header names read from provider deliveries.
const (
	HeaderHubSignature = "X-Hub-Signature-256"
	HeaderSignature    = "X-Signature"
	HeaderTimestamp    = "X-Signature-Timestamp"
	HeaderNonce        = "X-Event-Nonce"
)

// Processor runs a delivery through the ingress pipeline.
type Processor interface {
	Process(ctx context.Context, d pipeline.Delivery) (pipeline.Outcome, error)
}

type Handler struct {
	pipeline Processor
	logger   *slog.Logger
}

func New(p Processor, logger *slog.Logger) *Handler {
	return &Handler{pipeline: p, logger: logger}
}

// Register mounts the provider webhook endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/webhooks/{provider}", h.HandleDelivery)
}

type statusResponse struct {
	Status       string `json:"status"`
	CustomerCode string `json:"customer_code,omitempty"`
}

func (h *Handler) HandleDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "provider")

	body, err := httputil.ReadBody(w, r, MaxPayloadBytes)
	if err != nil {
		h.logger.WarnContext(ctx, "webhook body rejected", "provider", name, "error", err)
		httputil.WriteError(w, err)
		return
	}
	signature := r.Header.Get(HeaderHubSignature)
	if signature == "" {
		signature = r.Header.Get(HeaderSignature)
	}

	out, err := h.pipeline.Process(ctx, pipeline.Delivery{
		Provider:   name,
		Body:       body,
		Signature:  signature,
		Timestamp:  r.Header.Get(HeaderTimestamp),
		Nonce:      r.Header.Get(HeaderNonce),
		ReceivedAt: requestcontext.Now(ctx),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "webhook processing failed",
			"provider", name, "nonce", out.Nonce, "state", out.State, "error", err)
		httputil.WriteError(w, err)
		return
	}

	switch {
	case out.Duplicate():
		httputil.WriteJSON(w, http.StatusOK, statusResponse{Status: "duplicate"})
	case out.Gate != nil:
		ge, _ := gates.AsError(out.Gate.Err())
		httputil.WriteJSON(w, dErrors.ToHTTPStatus(ge.Code), ge.Body())
	case out.Err != nil:
		h.logger.WarnContext(ctx, "webhook delivery rejected", "provider", name, "error", out.Err)
		httputil.WriteError(w, out.Err)
	default:
		httputil.WriteJSON(w, http.StatusOK, statusResponse{
			Status:       out.Dispatch.Status(),
			CustomerCode: out.Dispatch.CustomerCode,
		})
	}
}
