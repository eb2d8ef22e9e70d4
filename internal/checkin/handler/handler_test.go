package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodia/internal/checkin/models"
	dErrors "custodia/pkg/domain-errors"
)

type fakeService struct {
	record models.Record
	err    error
	limits []int
}

func (f *fakeService) RecordCheckin(context.Context, string) (models.Record, error) {
	return f.record, f.err
}

func (f *fakeService) Current(context.Context, string) (models.Record, error) {
	return f.record, f.err
}

func (f *fakeService) History(_ context.Context, _ string, limit int) ([]models.Record, error) {
	f.limits = append(f.limits, limit)
	return []models.Record{f.record}, f.err
}

type fakeResetter struct {
	err   error
	calls []string
}

func (f *fakeResetter) Reset(_ context.Context, principalID string) error {
	f.calls = append(f.calls, principalID)
	return f.err
}

func newRouter(svc Service, resetter Resetter) http.Handler {
	r := chi.NewRouter()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	New(svc, resetter, logger).Register(r)
	return r
}

func TestHandleCheckin(t *testing.T) {
	record := models.Record{
		ID:          "rec-1",
		PrincipalID: "alice",
		CheckedInAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		NextCheckIn: time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC),
		Status:      models.StatusAlive,
	}

	t.Run("returns the new record with 201", func(t *testing.T) {
		router := newRouter(&fakeService{record: record}, &fakeResetter{})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/principals/alice/checkin", nil))

		require.Equal(t, http.StatusCreated, w.Code)
		var body RecordResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "rec-1", body.ID)
		assert.Equal(t, "alive", body.Status)
	})

	t.Run("maps domain errors to status codes", func(t *testing.T) {
		svc := &fakeService{err: dErrors.New(dErrors.CodeConflict, "check-ins are not enabled for this principal")}
		router := newRouter(svc, &fakeResetter{})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/principals/bob/checkin", nil))

		require.Equal(t, http.StatusConflict, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "conflict", body["error"])
		assert.NotEmpty(t, body["error_description"])
	})
}

func TestHandleHistory(t *testing.T) {
	t.Run("passes the limit through", func(t *testing.T) {
		svc := &fakeService{}
		router := newRouter(svc, &fakeResetter{})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/principals/alice/checkins?limit=5", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []int{5}, svc.limits)
	})

	t.Run("rejects a malformed limit", func(t *testing.T) {
		router := newRouter(&fakeService{}, &fakeResetter{})
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/principals/alice/checkins?limit=soon", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHandleReset(t *testing.T) {
	resetter := &fakeResetter{}
	router := newRouter(&fakeService{}, resetter)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/principals/alice/reset", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"alice"}, resetter.calls)
}
