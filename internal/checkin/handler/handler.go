package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"custodia/internal/checkin/models"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/httputil"
)

// Service defines the check-in operations the handler exposes.
type Service interface {
	RecordCheckin(ctx context.Context, principalID string) (models.Record, error)
	Current(ctx context.Context, principalID string) (models.Record, error)
	History(ctx context.Context, principalID string, limit int) ([]models.Record, error)
}

// Resetter performs the administrative reset across engine modules.
type Resetter interface {
	Reset(ctx context.Context, principalID string) error
}

// Handler wires check-in endpoints to the tracker.
type Handler struct {
	service  Service
	resetter Resetter
	logger   *slog.Logger
}

// New constructs a check-in handler with its dependencies.
func New(service Service, resetter Resetter, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		resetter: resetter,
		logger:   logger,
	}
}

// Register mounts check-in endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/principals/{principalID}/checkin", h.HandleCheckin)
	r.Get("/principals/{principalID}/checkin", h.HandleCurrent)
	r.Get("/principals/{principalID}/checkins", h.HandleHistory)
	r.Post("/principals/{principalID}/reset", h.HandleReset)
}

// RecordResponse is the JSON shape of a check-in record.
type RecordResponse struct {
	ID          string    `json:"id"`
	PrincipalID string    `json:"principal_id"`
	CheckedInAt time.Time `json:"checked_in_at"`
	NextCheckIn time.Time `json:"next_check_in"`
	Status      string    `json:"status"`
}

func fromRecord(r models.Record) RecordResponse {
	return RecordResponse{
		ID:          r.ID,
		PrincipalID: r.PrincipalID,
		CheckedInAt: r.CheckedInAt,
		NextCheckIn: r.NextCheckIn,
		Status:      string(r.Status),
	}
}

// HandleCheckin handles POST /principals/{principalID}/checkin requests.
func (h *Handler) HandleCheckin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := chi.URLParam(r, "principalID")

	record, err := h.service.RecordCheckin(ctx, principalID)
	if err != nil {
		h.logger.ErrorContext(ctx, "check-in failed",
			"principal_id", principalID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "check-in recorded",
		"principal_id", principalID,
		"record_id", record.ID,
		"next_check_in", record.NextCheckIn,
	)
	httputil.WriteJSON(w, http.StatusCreated, fromRecord(record))
}

// HandleCurrent handles GET /principals/{principalID}/checkin requests.
func (h *Handler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := chi.URLParam(r, "principalID")

	record, err := h.service.Current(ctx, principalID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromRecord(record))
}

// HandleHistory handles GET /principals/{principalID}/checkins requests.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := chi.URLParam(r, "principalID")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	records, err := h.service.History(ctx, principalID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	out := make([]RecordResponse, len(records))
	for i, record := range records {
		out[i] = fromRecord(record)
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"records": out})
}

// HandleReset handles POST /principals/{principalID}/reset requests.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principalID := chi.URLParam(r, "principalID")

	if err := h.resetter.Reset(ctx, principalID); err != nil {
		h.logger.ErrorContext(ctx, "administrative reset failed",
			"principal_id", principalID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "administrative reset applied", "principal_id", principalID)
	w.WriteHeader(http.StatusNoContent)
}
