package handler

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/httputil"
	"patron/pkg/requestcontext"
)

const maxNonceBatch = 500

// NonceLookup reports which nonces the replay store has recorded.
type NonceLookup interface {
	SeenAny(ctx context.Context, nonces []string) ([]string, error)
}

// AdminHandler serves operator endpoints over the replay store.
type AdminHandler struct {
	nonces NonceLookup
	logger *slog.Logger
}

func NewAdmin(nonces NonceLookup, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{nonces: nonces, logger: logger}
}

type nonceCheckRequest struct {
	Nonces []string `json:"nonces"`
}

func (r *nonceCheckRequest) Validate() error {
	var out []string
	for _, n := range r.Nonces {
		if n = strings.TrimSpace(n); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	r.Nonces = out
	switch {
	case len(r.Nonces) == 0:
		return dErrors.New(dErrors.CodeValidation, "nonces is required")
	case len(r.Nonces) > maxNonceBatch:
		return dErrors.New(dErrors.CodeValidation, "at most 500 nonces per request")
	}
	return nil
}

type nonceCheckResponse struct {
	Processed []string `json:"processed"`
	Pending   []string `json:"pending"`
}

// HandleNonceCheck splits the requested nonces into those already processed
// and those a provider retry would still deliver.
func (h *AdminHandler) HandleNonceCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[nonceCheckRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	seen, err := h.nonces.SeenAny(ctx, req.Nonces)
	if err != nil {
		h.logger.ErrorContext(ctx, "nonce check failed", "request_id", requestID, "error", err)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check nonces"))
		return
	}
	resp := nonceCheckResponse{Processed: []string{}, Pending: []string{}}
	for _, n := range req.Nonces {
		if slices.Contains(seen, n) {
			resp.Processed = append(resp.Processed, n)
		} else {
			resp.Pending = append(resp.Pending, n)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
