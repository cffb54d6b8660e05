// Package ipenrich fills in the location of pending distinct-IP records.
package ipenrich

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/model"
	"github.com/JakeFAU/countly-etl/internal/progress"
)

// ErrStore marks a store failure; it aborts the run.
var ErrStore = errors.New("store unavailable")

// Store is the distinct_ips work queue.
type Store interface {
	CountPending(ctx context.Context) (int64, error)
	NextPending(ctx context.Context, after primitive.ObjectID, limit int) ([]model.DistinctIP, error)
	ApplyUpdates(ctx context.Context, updates []model.IPUpdate) (model.BulkResult, error)
}

// Locator resolves an address to a country.
type Locator interface {
	Lookup(ip string) (model.Location, error)
}

// Summary describes a finished (or aborted) enrichment run.
type Summary struct {
	Pending  int64
	Pages    int
	Counters progress.Counters
}

// Enricher pages pending IPs and writes their locations.
type Enricher struct {
	store     Store
	locator   Locator
	reporter  *progress.Reporter
	batchSize int
	logger    *zap.Logger
}

// New builds an Enricher. A nil reporter records counters without emitting.
func New(store Store, locator Locator, reporter *progress.Reporter, batchSize int, logger *zap.Logger) *Enricher {
	if batchSize <= 0 {
		batchSize = 5000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reporter == nil {
		reporter = progress.NewReporter(uuid.New(), "enrich-ips", nil)
	}
	return &Enricher{store: store, locator: locator, reporter: reporter, batchSize: batchSize, logger: logger}
}

// Run enriches every pending IP, one bulk write per page.
func (e *Enricher) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	pending, err := e.store.CountPending(ctx)
	if err != nil {
		return e.abort(sum, fmt.Errorf("%w: count pending ips: %w", ErrStore, err))
	}
	sum.Pending = pending
	e.reporter.Start(pending)
	e.logger.Info("enriching pending ips", zap.Int64("pending", pending), zap.Int("batch_size", e.batchSize))

	var after primitive.ObjectID
	for {
		if err := ctx.Err(); err != nil {
			return e.abort(sum, err)
		}
		page, err := e.store.NextPending(ctx, after, e.batchSize)
		if err != nil {
			return e.abort(sum, fmt.Errorf("%w: read page %d: %w", ErrStore, sum.Pages+1, err))
		}
		if len(page) == 0 {
			break
		}
		after = page[len(page)-1].ID

		updates, failed := e.lookupPage(page)
		res, err := e.store.ApplyUpdates(ctx, updates)
		if err != nil {
			return e.abort(sum, fmt.Errorf("%w: write page %d: %w", ErrStore, sum.Pages+1, err))
		}
		e.reporter.RecordWrite(res.Modified, res.WriteErrors)
		sum.Pages++
		e.reporter.PageDone(ctx, sum.Pages, len(page))
		counters := e.reporter.Counters()
		e.logger.Info("processed ip batch",
			zap.Int("batch", sum.Pages),
			zap.Int("size", len(page)),
			zap.Int("failed", failed),
			zap.Int64("processed", counters.Processed),
			zap.Int64("pending", pending),
		)
		if len(page) < e.batchSize {
			break
		}
	}

	sum.Counters = e.reporter.Finish(nil)
	e.logger.Info("ip enrichment complete",
		zap.Int64("succeeded", sum.Counters.Succeeded),
		zap.Int64("failed", sum.Counters.Failed),
	)
	return sum, nil
}

func (e *Enricher) lookupPage(page []model.DistinctIP) ([]model.IPUpdate, int) {
	updates := make([]model.IPUpdate, 0, len(page))
	failed := 0
	for _, rec := range page {
		loc, err := e.locator.Lookup(rec.IP)
		if err != nil {
			e.logger.Warn("ip lookup failed", zap.String("ip", rec.IP), zap.Error(err))
			updates = append(updates, model.IPUpdate{ID: rec.ID, Status: model.StatusError})
			e.reporter.Record(false, "")
			failed++
			continue
		}
		updates = append(updates, model.IPUpdate{ID: rec.ID, Status: model.StatusDone, Location: &loc})
		e.reporter.Record(true, "")
	}
	return updates, failed
}

func (e *Enricher) abort(sum Summary, err error) (Summary, error) {
	sum.Counters = e.reporter.Finish(err)
	e.logger.Error("ip enrichment aborted", zap.Error(err), zap.Int("pages_written", sum.Pages))
	return sum, err
}
