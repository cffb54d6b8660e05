package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the run milestone an Event represents.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StagePageDone Stage = "PAGE_DONE"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"
)

// Usage is a point-in-time sample of host utilization.
type Usage struct {
	CPUPercent float64
	MemPercent float64
	MemUsedGB  float64
}

// Counters accumulate over a whole run.
type Counters struct {
	Pages       int
	Processed   int64
	Succeeded   int64
	Failed      int64
	Modified    int64
	WriteErrors int64
	// Rules counts which extraction rule satisfied each success.
	Rules map[string]int64
}

func (c Counters) clone() Counters {
	out := c
	out.Rules = make(map[string]int64, len(c.Rules))
	for k, v := range c.Rules {
		out.Rules[k] = v
	}
	return out
}

// Event is one run milestone with the run's cumulative state.
type Event struct {
	RunID uuid.UUID
	Job   string
	TS    time.Time
	Stage Stage
	// Eligible is the record count computed before the first page.
	Eligible int64
	// Page is the 1-based page number for PAGE_DONE events.
	Page     int
	PageSize int
	Counters Counters
	Elapsed  time.Duration
	// Rate is processed records per second since the run started.
	Rate  float64
	Usage *Usage
	Note  string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageDone:
		if e.Page <= 0 {
			return errors.New("page done requires page number")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Elapsed < 0 {
		return errors.New("elapsed must be >= 0")
	}
	return nil
}

// Throughput returns records per second, or zero before any time elapsed.
func Throughput(processed int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(processed) / elapsed.Seconds()
}
