package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/progress"
	"github.com/JakeFAU/countly-etl/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Consecutive page
// events in one batch collapse into a single progress write.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume forwards run milestones to the repository and returns repository
// errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	var pending *progress.Event
	flush := func() error {
		if pending == nil {
			return nil
		}
		evt := *pending
		pending = nil
		if err := s.repo.UpdateProgress(ctx, evt.RunID, toRunProgress(evt)); err != nil {
			return fmt.Errorf("update run progress: %w", err)
		}
		return nil
	}

	for i := range batch {
		evt := batch[i]
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.StartRun(ctx, evt.RunID, evt.Job, evt.TS, evt.Eligible); err != nil {
				return fmt.Errorf("start run: %w", err)
			}
		case progress.StagePageDone:
			if pending != nil && pending.RunID != evt.RunID {
				if err := flush(); err != nil {
					return err
				}
			}
			pending = &evt
		case progress.StageRunDone, progress.StageRunError:
			pending = &evt
			if err := flush(); err != nil {
				return err
			}
			if err := s.complete(ctx, evt); err != nil {
				return err
			}
		}
	}
	return flush()
}

func (s *StoreSink) complete(ctx context.Context, evt progress.Event) error {
	status := store.RunSuccess
	var note *string
	if evt.Stage == progress.StageRunError {
		status = store.RunError
		if evt.Note != "" {
			msg := evt.Note
			note = &msg
		}
	}
	if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, status, note); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

func toRunProgress(evt progress.Event) store.RunProgress {
	return store.RunProgress{
		Pages:       evt.Counters.Pages,
		Processed:   evt.Counters.Processed,
		Succeeded:   evt.Counters.Succeeded,
		Failed:      evt.Counters.Failed,
		Modified:    evt.Counters.Modified,
		WriteErrors: evt.Counters.WriteErrors,
		Rules:       evt.Counters.Rules,
		Rate:        evt.Rate,
		UpdatedAt:   evt.TS,
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
