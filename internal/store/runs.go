package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the crawl_runs status field.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunProgress is the cumulative state of a run after a page.
type RunProgress struct {
	Pages       int
	Processed   int64
	Succeeded   int64
	Failed      int64
	Modified    int64
	WriteErrors int64
	Rules       map[string]int64
	Rate        float64
	UpdatedAt   time.Time
}

// Run models one crawl_runs document.
type Run struct {
	ID         uuid.UUID
	Job        string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Eligible   int64
	Progress   RunProgress
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// RunReader loads run history.
type RunReader interface {
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
}

// RunRepository persists run history.
type RunRepository interface {
	RunReader

	// StartRun inserts (or idempotently updates) the run's start document.
	StartRun(ctx context.Context, runID uuid.UUID, job string, startedAt time.Time, eligible int64) error
	// UpdateProgress overwrites the run's cumulative counters.
	UpdateProgress(ctx context.Context, runID uuid.UUID, progress RunProgress) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
}
