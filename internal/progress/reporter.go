package progress

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Reporter accumulates a run's counters and emits milestone events. It is
// owned by a single coordinating goroutine and is not safe for concurrent use.
type Reporter struct {
	runID    uuid.UUID
	job      string
	emitter  Emitter
	sampler  Sampler
	now      func() time.Time
	start    time.Time
	started  bool
	eligible int64
	counters Counters
}

// ReporterOption customizes a Reporter.
type ReporterOption func(*Reporter)

// WithSampler enables per-page utilization sampling.
func WithSampler(s Sampler) ReporterOption {
	return func(r *Reporter) { r.sampler = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) { r.now = now }
}

// NewReporter builds a Reporter for one run. A nil emitter discards events.
func NewReporter(runID uuid.UUID, job string, emitter Emitter, opts ...ReporterOption) *Reporter {
	if emitter == nil {
		emitter = EmitterFunc(func(Event) {})
	}
	r := &Reporter{
		runID:    runID,
		job:      job,
		emitter:  emitter,
		now:      time.Now,
		counters: Counters{Rules: map[string]int64{}},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the identifier stamped on every event.
func (r *Reporter) RunID() uuid.UUID { return r.runID }

// Start records the eligible count and emits RUN_START.
func (r *Reporter) Start(eligible int64) {
	r.start = r.now()
	r.started = true
	r.eligible = eligible
	r.emitAt(r.start, StageRunStart, 0, 0, nil, "")
}

// Record folds one record outcome into the counters.
func (r *Reporter) Record(succeeded bool, rule string) {
	r.counters.Processed++
	if !succeeded {
		r.counters.Failed++
		return
	}
	r.counters.Succeeded++
	if rule != "" {
		r.counters.Rules[rule]++
	}
}

// RecordWrite folds a bulk write result into the counters.
func (r *Reporter) RecordWrite(modified int64, writeErrors int) {
	r.counters.Modified += modified
	r.counters.WriteErrors += int64(writeErrors)
}

// PageDone samples utilization and emits PAGE_DONE.
func (r *Reporter) PageDone(ctx context.Context, page, size int) {
	r.counters.Pages++
	var usage *Usage
	if r.sampler != nil {
		if u, err := r.sampler.Sample(ctx); err == nil {
			usage = &u
		}
	}
	r.emit(StagePageDone, page, size, usage, "")
}

// Finish emits RUN_DONE, or RUN_ERROR when err is non-nil, and returns the
// final counters. A run that never started emits RUN_START first so every
// terminal event has a run to close.
func (r *Reporter) Finish(err error) Counters {
	if !r.started {
		r.Start(r.eligible)
	}
	if err != nil {
		r.emit(StageRunError, 0, 0, nil, err.Error())
	} else {
		r.emit(StageRunDone, 0, 0, nil, "")
	}
	return r.counters.clone()
}

// Counters returns a copy of the current counters.
func (r *Reporter) Counters() Counters {
	return r.counters.clone()
}

func (r *Reporter) emit(stage Stage, page, size int, usage *Usage, note string) {
	r.emitAt(r.now(), stage, page, size, usage, note)
}

func (r *Reporter) emitAt(now time.Time, stage Stage, page, size int, usage *Usage, note string) {
	if r.start.IsZero() {
		r.start = now
	}
	elapsed := now.Sub(r.start)
	r.emitter.Emit(Event{
		RunID:    r.runID,
		Job:      r.job,
		TS:       now.UTC(),
		Stage:    stage,
		Eligible: r.eligible,
		Page:     page,
		PageSize: size,
		Counters: r.counters.clone(),
		Elapsed:  elapsed,
		Rate:     Throughput(r.counters.Processed, elapsed),
		Usage:    usage,
		Note:     note,
	})
}
