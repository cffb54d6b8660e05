package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/countly-etl/internal/store"
)

// Runs persists run history in the crawl_runs collection. It satisfies
// store.RunRepository.
type Runs struct {
	c *Collection
}

type runDoc struct {
	ID           string         `bson:"_id"`
	Job          string         `bson:"job"`
	StartedAt    time.Time      `bson:"started_at"`
	FinishedAt   *time.Time     `bson:"finished_at,omitempty"`
	Status       string         `bson:"status"`
	Eligible     int64          `bson:"eligible"`
	Progress     runProgressDoc `bson:"progress"`
	ErrorMessage *string        `bson:"error_message,omitempty"`
}

type runProgressDoc struct {
	Pages       int              `bson:"pages"`
	Processed   int64            `bson:"processed"`
	Succeeded   int64            `bson:"succeeded"`
	Failed      int64            `bson:"failed"`
	Modified    int64            `bson:"modified"`
	WriteErrors int64            `bson:"write_errors"`
	Rules       map[string]int64 `bson:"rules,omitempty"`
	Rate        float64          `bson:"records_per_sec"`
	UpdatedAt   time.Time        `bson:"updated_at"`
}

// StartRun upserts the run's start document.
func (r *Runs) StartRun(ctx context.Context, runID uuid.UUID, job string, startedAt time.Time, eligible int64) error {
	_, err := r.c.coll.UpdateOne(ctx,
		bson.M{"_id": runID.String()},
		bson.M{
			"$set":         bson.M{"eligible": eligible, "status": string(store.RunRunning)},
			"$setOnInsert": bson.M{"job": job, "started_at": startedAt.UTC()},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("start run %s: %w", runID, err)
	}
	return nil
}

// UpdateProgress overwrites the cumulative counters.
func (r *Runs) UpdateProgress(ctx context.Context, runID uuid.UUID, p store.RunProgress) error {
	_, err := r.c.coll.UpdateOne(ctx,
		bson.M{"_id": runID.String()},
		bson.M{"$set": bson.M{"progress": runProgressDoc{
			Pages:       p.Pages,
			Processed:   p.Processed,
			Succeeded:   p.Succeeded,
			Failed:      p.Failed,
			Modified:    p.Modified,
			WriteErrors: p.WriteErrors,
			Rules:       p.Rules,
			Rate:        p.Rate,
			UpdatedAt:   p.UpdatedAt.UTC(),
		}}})
	if err != nil {
		return fmt.Errorf("update run %s: %w", runID, err)
	}
	return nil
}

// CompleteRun marks the run finished.
func (r *Runs) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	set := bson.M{"finished_at": finishedAt.UTC(), "status": string(status)}
	if errMsg != nil {
		set["error_message"] = *errMsg
	}
	_, err := r.c.coll.UpdateOne(ctx, bson.M{"_id": runID.String()}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("complete run %s: %w", runID, err)
	}
	return nil
}

// GetRun loads one run.
func (r *Runs) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	var doc runDoc
	err := r.c.coll.FindOne(ctx, bson.M{"_id": runID.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return store.Run{}, store.ErrNotFound
	}
	if err != nil {
		return store.Run{}, fmt.Errorf("get run %s: %w", runID, err)
	}
	return doc.toRun()
}

func (d runDoc) toRun() (store.Run, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return store.Run{}, fmt.Errorf("parse run id %q: %w", d.ID, err)
	}
	return store.Run{
		ID:         id,
		Job:        d.Job,
		StartedAt:  d.StartedAt,
		FinishedAt: d.FinishedAt,
		Status:     store.RunStatus(d.Status),
		Eligible:   d.Eligible,
		Progress: store.RunProgress{
			Pages:       d.Progress.Pages,
			Processed:   d.Progress.Processed,
			Succeeded:   d.Progress.Succeeded,
			Failed:      d.Progress.Failed,
			Modified:    d.Progress.Modified,
			WriteErrors: d.Progress.WriteErrors,
			Rules:       d.Progress.Rules,
			Rate:        d.Progress.Rate,
			UpdatedAt:   d.Progress.UpdatedAt,
		},
		ErrorMessage: d.ErrorMessage,
	}, nil
}
