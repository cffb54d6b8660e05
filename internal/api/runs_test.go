package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/store"
)

type stubRuns struct {
	runs map[uuid.UUID]store.Run
	err  error
}

func (s stubRuns) GetRun(_ context.Context, id uuid.UUID) (store.Run, error) {
	if s.err != nil {
		return store.Run{}, s.err
	}
	run, ok := s.runs[id]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

func serve(t *testing.T, h *RunHandler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	h.Mount(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestGetRun(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	h := NewRunHandler(stubRuns{runs: map[uuid.UUID]store.Run{
		id: {
			ID:        id,
			Job:       "crawl-names",
			StartedAt: started,
			Status:    store.RunRunning,
			Eligible:  120,
			Progress:  store.RunProgress{Pages: 2, Processed: 100, Succeeded: 90, Failed: 10, Rules: map[string]int64{"og:title": 90}},
		},
	}}, zap.NewNop())

	rec := serve(t, h, "/api/runs/"+id.String())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body struct {
		Run runDTO `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, id.String(), body.Run.ID)
	assert.Equal(t, "running", body.Run.Status)
	assert.Equal(t, int64(120), body.Run.Eligible)
	assert.Equal(t, int64(90), body.Run.Progress.Rules["og:title"])
	assert.Nil(t, body.Run.FinishedAt)
}

func TestGetRunErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		repo store.RunReader
		path string
		want int
	}{
		{"malformed id", stubRuns{}, "/api/runs/not-a-uuid", http.StatusBadRequest},
		{"missing run", stubRuns{}, "/api/runs/" + uuid.NewString(), http.StatusNotFound},
		{"repo failure", stubRuns{err: errors.New("socket closed")}, "/api/runs/" + uuid.NewString(), http.StatusInternalServerError},
		{"no repo", nil, "/api/runs/" + uuid.NewString(), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := serve(t, NewRunHandler(tt.repo, nil), tt.path)
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}
