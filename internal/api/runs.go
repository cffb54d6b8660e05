package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/store"
)

const runTimeout = 3 * time.Second

// RunHandler exposes run history.
type RunHandler struct {
	repo    store.RunReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the repository and logger.
func NewRunHandler(repo store.RunReader, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		repo:    repo,
		timeout: runTimeout,
		logger:  logger,
	}
}

// Mount registers the handler routes on r.
func (h *RunHandler) Mount(r chi.Router) {
	r.Get("/api/runs/{run_id}", h.GetRun)
}

// GetRun handles GET /api/runs/{run_id}. It returns {"run": {...}} on success,
// 400 for malformed IDs, 404 when the repository reports store.ErrNotFound,
// 503 if the repo is not initialized, or 500 otherwise.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "run repository unavailable")
		return
	}
	runID, err := parseRunID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.String("run_id", runID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

func parseRunID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "run_id")
	if raw == "" {
		return uuid.UUID{}, errors.New("run_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid run_id")
	}
	return id, nil
}

type progressDTO struct {
	Pages       int              `json:"pages"`
	Processed   int64            `json:"processed"`
	Succeeded   int64            `json:"succeeded"`
	Failed      int64            `json:"failed"`
	Modified    int64            `json:"modified"`
	WriteErrors int64            `json:"write_errors"`
	Rules       map[string]int64 `json:"rules,omitempty"`
	Rate        float64          `json:"rate"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

type runDTO struct {
	ID         string      `json:"id"`
	Job        string      `json:"job"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Status     string      `json:"status"`
	Eligible   int64       `json:"eligible"`
	Progress   progressDTO `json:"progress"`
	Error      *string     `json:"error,omitempty"`
}

func toRunDTO(run store.Run) runDTO {
	p := run.Progress
	return runDTO{
		ID:         run.ID.String(),
		Job:        run.Job,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Status:     string(run.Status),
		Eligible:   run.Eligible,
		Progress: progressDTO{
			Pages:       p.Pages,
			Processed:   p.Processed,
			Succeeded:   p.Succeeded,
			Failed:      p.Failed,
			Modified:    p.Modified,
			WriteErrors: p.WriteErrors,
			Rules:       p.Rules,
			Rate:        p.Rate,
			UpdatedAt:   p.UpdatedAt,
		},
		Error: run.ErrorMessage,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
