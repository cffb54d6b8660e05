package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/countly-etl/internal/progress"
	"github.com/JakeFAU/countly-etl/internal/store"
)

// TestStoreSinkPersistsEvents ensures page events collapse before persisting.
func TestStoreSinkPersistsEvents(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := uuid.New()
	now := time.Now()

	batch := []progress.Event{
		{RunID: runID, Job: "crawl-names", Stage: progress.StageRunStart, TS: now, Eligible: 5},
		{RunID: runID, Stage: progress.StagePageDone, Page: 1, TS: now.Add(time.Second),
			Counters: progress.Counters{Pages: 1, Processed: 2, Succeeded: 2}},
		{RunID: runID, Stage: progress.StagePageDone, Page: 2, TS: now.Add(2 * time.Second),
			Counters: progress.Counters{Pages: 2, Processed: 4, Succeeded: 3, Failed: 1}},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 1)
	require.Equal(t, int64(5), repo.starts[0].eligible)
	require.Len(t, repo.progress, 1)
	require.Equal(t, 2, repo.progress[0].Pages)
	require.Equal(t, int64(1), repo.progress[0].Failed)

	done := []progress.Event{{
		RunID: runID, Stage: progress.StageRunDone, TS: now.Add(3 * time.Second),
		Counters: progress.Counters{Pages: 3, Processed: 5, Succeeded: 4, Failed: 1},
	}}
	require.NoError(t, sink.Consume(context.Background(), done))
	require.Len(t, repo.progress, 2)
	require.Equal(t, 3, repo.progress[1].Pages)
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunSuccess, repo.completes[0].status)
	require.Nil(t, repo.completes[0].msg)
}

// TestStoreSinkRecordsFailure stores the abort reason.
func TestStoreSinkRecordsFailure(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{{
		RunID: uuid.New(), Stage: progress.StageRunError, TS: time.Now(), Note: "connection lost",
	}})
	require.NoError(t, err)
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunError, repo.completes[0].status)
	require.NotNil(t, repo.completes[0].msg)
	require.Equal(t, "connection lost", *repo.completes[0].msg)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{err: errors.New("boom")}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{{
		RunID: uuid.New(), Stage: progress.StageRunStart, TS: time.Now(),
	}})
	require.ErrorContains(t, err, "start run")

	var nilSink *StoreSink
	require.NoError(t, nilSink.Consume(context.Background(), nil))
}

type startCall struct {
	runID    uuid.UUID
	job      string
	eligible int64
}

type completeCall struct {
	runID  uuid.UUID
	status store.RunStatus
	msg    *string
}

type fakeRunRepo struct {
	starts    []startCall
	progress  []store.RunProgress
	completes []completeCall
	err       error
}

func (f *fakeRunRepo) StartRun(_ context.Context, runID uuid.UUID, job string, _ time.Time, eligible int64) error {
	if f.err != nil {
		return f.err
	}
	f.starts = append(f.starts, startCall{runID: runID, job: job, eligible: eligible})
	return nil
}

func (f *fakeRunRepo) UpdateProgress(_ context.Context, _ uuid.UUID, p store.RunProgress) error {
	if f.err != nil {
		return f.err
	}
	f.progress = append(f.progress, p)
	return nil
}

func (f *fakeRunRepo) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	_ time.Time,
	status store.RunStatus,
	msg *string,
) error {
	if f.err != nil {
		return f.err
	}
	f.completes = append(f.completes, completeCall{runID: runID, status: status, msg: msg})
	return nil
}

func (f *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.Run, error) {
	return store.Run{}, store.ErrNotFound
}
