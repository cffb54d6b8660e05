// Package pipeline drives the product-name crawl: it pages eligible records out
// of the store, resolves each page on a bounded worker pool, and writes the
// outcomes back as one unordered bulk write per page.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/model"
	"github.com/JakeFAU/countly-etl/internal/progress"
	"github.com/JakeFAU/countly-etl/internal/retry"
	"github.com/JakeFAU/countly-etl/internal/scrape"
	"github.com/JakeFAU/countly-etl/internal/worker"
)

// ErrStore marks a store failure; it aborts the run.
var ErrStore = errors.New("store unavailable")

// ErrProbe is returned when the pre-run probe URL cannot be resolved.
var ErrProbe = errors.New("probe failed")

// Store is the slice of the product collection the coordinator needs.
type Store interface {
	// RequeueFailed resets failed records below the retry ceiling to pending.
	RequeueFailed(ctx context.Context, ceiling int) (int64, error)
	// CountEligible counts pending records with a URL below the retry ceiling.
	CountEligible(ctx context.Context, ceiling int) (int64, error)
	// NextEligible returns up to limit eligible records with product_id > after,
	// ordered by product_id.
	NextEligible(ctx context.Context, after string, limit, ceiling int) ([]model.Product, error)
	// ApplyUpdates issues one unordered bulk write. Per-record write errors are
	// reported in the result; a returned error means the store is unreachable.
	ApplyUpdates(ctx context.Context, updates []model.ProductUpdate) (model.BulkResult, error)
}

// Resolver turns a product URL into a name.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) scrape.Result
}

// Config sizes the run.
type Config struct {
	PageSize      int
	Concurrency   int
	RetryCeiling  int
	PageDelay     time.Duration
	RequeueFailed bool
	ProbeURL      string
}

// Summary describes a finished (or aborted) run.
type Summary struct {
	Eligible int64
	Requeued int64
	Pages    int
	Writes   int
	Counters progress.Counters
	Final    State
}

// Coordinator runs the crawl state machine.
type Coordinator struct {
	store    Store
	resolver Resolver
	reporter *progress.Reporter
	cfg      Config
	logger   *zap.Logger
	sleep    func(context.Context, time.Duration) error
	observe  func(from, to State)
	state    State
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the detail logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithSleep overrides the inter-page delay function.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = fn }
}

// WithObserver is called on every state transition.
func WithObserver(fn func(from, to State)) Option {
	return func(c *Coordinator) { c.observe = fn }
}

// New builds a Coordinator. A nil reporter discards progress.
func New(store Store, resolver Resolver, reporter *progress.Reporter, cfg Config, opts ...Option) *Coordinator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = worker.DefaultConcurrency
	}
	if cfg.RetryCeiling <= 0 {
		cfg.RetryCeiling = model.MaxRetries
	}
	c := &Coordinator{
		store:    store,
		resolver: resolver,
		reporter: reporter,
		cfg:      cfg,
		logger:   zap.NewNop(),
		sleep:    retry.Sleep,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.reporter == nil {
		c.reporter = progress.NewReporter(uuid.New(), "crawl-names", nil)
	}
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	return c.state
}

type outcome struct {
	record model.Product
	result scrape.Result
}

// Run executes the state machine to completion. Pages already written are
// kept when the run aborts.
func (c *Coordinator) Run(ctx context.Context) (Summary, error) {
	var sum Summary
	if c.cfg.ProbeURL != "" {
		if err := c.probe(ctx); err != nil {
			return c.abort(sum, err)
		}
	}

	if c.cfg.RequeueFailed {
		n, err := c.store.RequeueFailed(ctx, c.cfg.RetryCeiling)
		if err != nil {
			return c.abort(sum, fmt.Errorf("%w: requeue failed records: %w", ErrStore, err))
		}
		sum.Requeued = n
		c.logger.Info("requeued failed records", zap.Int64("count", n))
	}

	eligible, err := c.store.CountEligible(ctx, c.cfg.RetryCeiling)
	if err != nil {
		return c.abort(sum, fmt.Errorf("%w: count eligible: %w", ErrStore, err))
	}
	sum.Eligible = eligible
	c.reporter.Start(eligible)
	if eligible == 0 {
		c.logger.Info("no eligible records")
		return c.finish(sum), nil
	}

	pool := worker.New(c.cfg.Concurrency, c.resolve, recoverOutcome)
	after := ""
	for {
		c.transition(StatePaging)
		records, err := c.store.NextEligible(ctx, after, c.cfg.PageSize, c.cfg.RetryCeiling)
		if err != nil {
			return c.abort(sum, fmt.Errorf("%w: read page %d: %w", ErrStore, sum.Pages+1, err))
		}
		if len(records) == 0 {
			return c.finish(sum), nil
		}
		after = records[len(records)-1].ProductID

		c.transition(StateDispatching)
		updates := c.collect(pool.Stream(ctx, records))

		c.transition(StateWriting)
		res, err := c.store.ApplyUpdates(ctx, updates)
		if err != nil {
			return c.abort(sum, fmt.Errorf("%w: write page %d: %w", ErrStore, sum.Pages+1, err))
		}
		sum.Pages++
		sum.Writes++
		c.reporter.RecordWrite(res.Modified, res.WriteErrors)
		if res.WriteErrors > 0 {
			c.logger.Warn("bulk write partially failed",
				zap.Int("page", sum.Pages),
				zap.Int("write_errors", res.WriteErrors))
		}
		c.reporter.PageDone(ctx, sum.Pages, len(records))

		if len(records) < c.cfg.PageSize {
			return c.finish(sum), nil
		}
		if err := c.sleep(ctx, c.cfg.PageDelay); err != nil {
			return c.abort(sum, fmt.Errorf("page delay: %w", err))
		}
	}
}

func (c *Coordinator) probe(ctx context.Context) error {
	res := c.resolver.Resolve(ctx, c.cfg.ProbeURL)
	if !res.OK() {
		c.logger.Error("probe url failed", zap.String("url", c.cfg.ProbeURL), zap.Error(res.Err))
		return fmt.Errorf("%w: %s: %s", ErrProbe, c.cfg.ProbeURL, scrape.Describe(res.Err))
	}
	c.logger.Info("probe url resolved",
		zap.String("url", c.cfg.ProbeURL),
		zap.String("name", res.Name),
		zap.String("rule", res.Rule))
	return nil
}

func (c *Coordinator) resolve(ctx context.Context, rec model.Product) outcome {
	return outcome{record: rec, result: c.resolver.Resolve(ctx, rec.CurrentURL)}
}

func recoverOutcome(rec model.Product, r any) outcome {
	if err, ok := r.(error); ok {
		return outcome{record: rec, result: scrape.Result{Err: err}}
	}
	return outcome{record: rec, result: scrape.Result{Err: fmt.Errorf("resolver panic: %v", r)}}
}

// collect turns each outcome into exactly one update instruction.
func (c *Coordinator) collect(results <-chan outcome) []model.ProductUpdate {
	var updates []model.ProductUpdate
	for o := range results {
		u := model.ProductUpdate{
			ProductID:  o.record.ProductID,
			Status:     model.StatusFailed,
			RetryCount: o.record.RetryCount + 1,
		}
		if o.result.OK() {
			u.Status = model.StatusProcessed
			u.Name = o.result.Name
			c.logger.Debug("resolved product name",
				zap.String("product_id", u.ProductID),
				zap.String("name", u.Name),
				zap.String("rule", o.result.Rule),
				zap.Int("attempts", o.result.Attempts))
		} else {
			c.logger.Warn("product name not resolved",
				zap.String("product_id", u.ProductID),
				zap.String("url", o.record.CurrentURL),
				zap.String("error_type", scrape.Describe(o.result.Err)),
				zap.Int("attempts", o.result.Attempts),
				zap.Error(o.result.Err))
		}
		c.reporter.Record(o.result.OK(), o.result.Rule)
		updates = append(updates, u)
	}
	return updates
}

func (c *Coordinator) finish(sum Summary) Summary {
	c.transition(StateDone)
	sum.Counters = c.reporter.Finish(nil)
	sum.Final = c.state
	return sum
}

func (c *Coordinator) abort(sum Summary, err error) (Summary, error) {
	c.transition(StateFatal)
	c.logger.Error("run aborted", zap.Error(err), zap.Int("pages_written", sum.Pages))
	sum.Counters = c.reporter.Finish(err)
	sum.Final = c.state
	return sum, err
}

func (c *Coordinator) transition(to State) {
	from := c.state
	c.state = to
	if c.observe != nil && from != to {
		c.observe(from, to)
	}
}
