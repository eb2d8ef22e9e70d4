package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"custodia/internal/unlock/models"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
)

// Service defines the unlock operations the handler exposes.
type Service interface {
	Unlock(ctx context.Context, principalID string, submissions []models.Submission) (models.Result, error)
}

// Handler wires the unlock endpoint to the gate.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an unlock handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the unlock endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/principals/{principalID}/unlock", h.HandleUnlock)
}

// UnlockRequest carries the credential submissions for one attempt.
type UnlockRequest struct {
	Submissions []models.Submission `json:"submissions"`
}

// HandleUnlock handles POST /principals/{principalID}/unlock requests.
func (h *Handler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := chi.URLParam(r, "principalID")

	req, ok := httputil.Decode[UnlockRequest](w, r)
	if !ok {
		return
	}
	for _, sub := range req.Submissions {
		if sub.PartyID == "" || sub.PIN == "" {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "each submission needs party_id and pin"))
			return
		}
	}

	result, err := h.service.Unlock(ctx, principalID, req.Submissions)
	if err != nil {
		h.logger.WarnContext(ctx, "unlock attempt rejected",
			"principal_id", principalID,
			"submissions", len(req.Submissions),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "unlock granted",
		"principal_id", principalID,
		"request_id", result.RequestID,
		"rule", result.Rule,
		"already_unlocked", result.AlreadyUnlocked,
	)
	httputil.WriteJSON(w, http.StatusOK, result)
}
