package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"patron/internal/gates"
	"patron/internal/merge"
	"patron/internal/platform/middleware"
	dErrors "patron/pkg/domain-errors"
	"patron/pkg/platform/httputil"
	"patron/pkg/requestcontext"
)

// Merger folds one customer into another.
type Merger interface {
	Merge(ctx context.Context, req merge.Request) (*merge.Result, error)
}

// Handler exposes the staff-only merge endpoint.
type Handler struct {
	merger    Merger
	validator middleware.StaffValidator
	logger    *slog.Logger
}

func New(merger Merger, validator middleware.StaffValidator, logger *slog.Logger) *Handler {
	return &Handler{merger: merger, validator: validator, logger: logger}
}

// Register mounts the merge endpoint behind staff bearer authentication.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin/customers", func(r chi.Router) {
		r.Use(middleware.RequireStaff(h.validator, h.logger))
		r.Post("/merge", h.HandleMerge)
	})
}

type mergeRequest struct {
	SourceCode string   `json:"source_code"`
	TargetCode string   `json:"target_code"`
	Evidence   []string `json:"evidence"`
}

func (r *mergeRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	r.SourceCode = strings.TrimSpace(r.SourceCode)
	r.TargetCode = strings.TrimSpace(r.TargetCode)
	if r.SourceCode == "" || r.TargetCode == "" {
		return dErrors.New(dErrors.CodeValidation, "source_code and target_code are required")
	}
	return nil
}

// HandleMerge merges source_code into target_code. staff_override evidence
// counts only for tokens carrying the staff role.
func (h *Handler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	req, ok := httputil.DecodeAndPrepare[mergeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	actor, _ := requestcontext.Actor(ctx)
	evidence := make([]gates.Evidence, 0, len(req.Evidence))
	for _, e := range req.Evidence {
		evidence = append(evidence, gates.Evidence(e))
	}

	res, err := h.merger.Merge(ctx, merge.Request{
		SourceCode: req.SourceCode,
		TargetCode: req.TargetCode,
		Evidence:   evidence,
		Actor:      actor,
	})
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal {
			h.logger.ErrorContext(ctx, "merge failed", "request_id", requestID, "error", err)
		} else {
			h.logger.WarnContext(ctx, "merge rejected", "request_id", requestID, "error", err)
		}
		if ge, ok := gates.AsError(err); ok {
			httputil.WriteJSON(w, dErrors.ToHTTPStatus(ge.Code), ge.Body())
			return
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
