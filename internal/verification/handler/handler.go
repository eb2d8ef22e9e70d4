package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/verification/models"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
)

// Service defines the verification operations the handler exposes.
type Service interface {
	SubmitReport(ctx context.Context, token string, reported models.Result) (models.Request, error)
	Get(ctx context.Context, id string) (models.Request, error)
}

// Handler wires verification endpoints to the verification service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a verification handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts verification endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/verification/report", h.HandleReport)
	r.Get("/verification/requests/{requestID}", h.HandleGet)
}

// ReportRequest is a party's status report, authorized by the signed
// token from their report link.
type ReportRequest struct {
	Token  string `json:"token"`
	Status string `json:"status"` // confirmed_alive or confirmed_deceased
}

// RequestResponse is the JSON shape of a verification request.
type RequestResponse struct {
	ID           string     `json:"id"`
	PrincipalID  string     `json:"principal_id"`
	Status       string     `json:"status"`
	Result       string     `json:"result,omitempty"`
	InitiatedAt  time.Time  `json:"initiated_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	UnlockStatus string     `json:"unlock_status"`
}

func fromRequest(r models.Request) RequestResponse {
	return RequestResponse{
		ID:           r.ID,
		PrincipalID:  r.PrincipalID,
		Status:       string(r.Status),
		Result:       string(r.Result),
		InitiatedAt:  r.InitiatedAt,
		ExpiresAt:    r.ExpiresAt,
		ResolvedAt:   r.ResolvedAt,
		UnlockStatus: string(r.UnlockStatus),
	}
}

// HandleReport handles POST /verification/report requests.
func (h *Handler) HandleReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.Decode[ReportRequest](w, r)
	if !ok {
		return
	}
	if req.Token == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "token is required"))
		return
	}

	resolved, err := h.service.SubmitReport(ctx, req.Token, models.Result(req.Status))
	if err != nil {
		h.logger.WarnContext(ctx, "status report rejected",
			"status", req.Status,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "status report accepted",
		"principal_id", resolved.PrincipalID,
		"request_id", resolved.ID,
		"result", resolved.Result,
	)
	httputil.WriteJSON(w, http.StatusOK, fromRequest(resolved))
}

// HandleGet handles GET /verification/requests/{requestID} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := chi.URLParam(r, "requestID")

	request, err := h.service.Get(ctx, requestID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromRequest(request))
}
