// Package app is the dependency container for one job run. It opens the
// MongoDB client, job loggers, progress hub and optional metrics endpoint
// once, and Close releases them on every exit path.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/api"
	"github.com/JakeFAU/countly-etl/internal/config"
	"github.com/JakeFAU/countly-etl/internal/database"
	"github.com/JakeFAU/countly-etl/internal/logging"
	"github.com/JakeFAU/countly-etl/internal/metrics"
	"github.com/JakeFAU/countly-etl/internal/progress"
	"github.com/JakeFAU/countly-etl/internal/progress/sinks"
	"github.com/JakeFAU/countly-etl/internal/publisher"
	"github.com/JakeFAU/countly-etl/internal/storage"
)

// Connector opens the MongoDB client.
type Connector func(ctx context.Context, opts database.Options) (*database.Client, error)

// App holds the shared, long-lived services of a job.
type App struct {
	Config   config.Config
	Job      string
	RunID    uuid.UUID
	Started  time.Time
	Loggers  logging.Loggers
	Mongo    *database.Client
	Registry *prometheus.Registry
	Hub      *progress.Hub

	metrics *metrics.Server
	closers []func(context.Context) error
	closed  bool
}

// Option customizes New.
type Option func(*options)

type options struct {
	connect Connector
	now     func() time.Time
	loggers *logging.Loggers
}

// WithConnector replaces database.Connect.
func WithConnector(c Connector) Option {
	return func(o *options) { o.connect = c }
}

// WithClock fixes the run start time (and so the log file stamp).
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLoggers injects prebuilt loggers instead of creating job log files.
func WithLoggers(l logging.Loggers) Option {
	return func(o *options) { o.loggers = &l }
}

// New builds the container for job. On failure everything opened so far is
// released before returning.
func New(ctx context.Context, cfg config.Config, job string, opts ...Option) (*App, error) {
	o := options{connect: database.Connect, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	// v7 IDs sort crawl_runs by start time.
	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a := &App{Config: cfg, Job: job, RunID: runID, Started: o.now()}
	if o.loggers != nil {
		a.Loggers = *o.loggers
	} else {
		loggers, err := logging.NewJob(cfg.Logging.Development, cfg.Logging.Dir, job, a.Started.Format("20060102_150405"))
		if err != nil {
			return nil, fmt.Errorf("init loggers: %w", err)
		}
		a.Loggers = loggers
	}
	log := a.Logger()
	log.Info("initializing job services", zap.String("run_id", a.RunID.String()))

	client, err := o.connect(ctx, database.Options{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
		MaxPoolSize:    cfg.Mongo.MaxPoolSize,
	})
	if err != nil {
		log.Error("mongo connection failed", zap.Error(err))
		a.Loggers.Summary.Error("run aborted", zap.String("job", job), zap.Error(err))
		_ = a.Loggers.Sync()
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	a.Mongo = client
	log.Info("connected to mongo", zap.String("database", cfg.Mongo.Database))

	a.Registry = metrics.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(a.Registry)
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("init prometheus sink: %w", err)
	}
	hubSinks := []progress.Sink{
		sinks.NewLogSink(a.Loggers.Detail, a.Loggers.Summary),
		promSink,
	}
	if client != nil {
		hubSinks = append(hubSinks, sinks.NewStoreSink(client.Runs(cfg.Collections.Runs), log))
	}
	a.Hub = progress.NewHub(progress.Config{Logger: log}, hubSinks...)

	if cfg.Metrics.Addr != "" {
		router := metrics.NewRouter(a.Registry, job, a.RunID.String(), a.Started)
		if client != nil {
			api.NewRunHandler(client.Runs(cfg.Collections.Runs), log).Mount(router)
		}
		srv, err := metrics.Start(cfg.Metrics.Addr, router, log)
		if err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("start metrics endpoint: %w", err)
		}
		a.metrics = srv
	}
	return a, nil
}

// Logger is the detailed job logger.
func (a *App) Logger() *zap.Logger {
	return a.Loggers.Detail
}

// Reporter returns a progress reporter for this run, publishing to the hub.
func (a *App) Reporter() *progress.Reporter {
	return progress.NewReporter(a.RunID, a.Job, a.Hub,
		progress.WithSampler(progress.SystemSampler{Interval: a.Config.Crawler.SampleInterval}))
}

// Storage opens the configured blob store. Clients it creates are released by Close.
func (a *App) Storage(ctx context.Context) (storage.Provider, error) {
	p, closer, err := NewStorage(ctx, a.Config.Storage, a.Logger())
	if err != nil {
		return nil, err
	}
	a.onClose(closer)
	return p, nil
}

// Publisher opens the configured completion publisher.
func (a *App) Publisher(ctx context.Context) (publisher.Publisher, error) {
	p, closer, err := NewPublisher(ctx, a.Config.PubSub, a.Logger())
	if err != nil {
		return nil, err
	}
	a.onClose(closer)
	return p, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	if fn != nil {
		a.closers = append(a.closers, fn)
	}
}

// Close flushes progress sinks, stops the metrics endpoint, releases cloud
// clients and the MongoDB connection, and syncs the loggers. It is safe to
// call more than once.
func (a *App) Close(ctx context.Context) error {
	if a == nil || a.closed {
		return nil
	}
	a.closed = true
	log := a.Logger()
	var errs []error

	if a.Hub != nil {
		if err := a.Hub.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		if dropped := a.Hub.Dropped(); dropped > 0 {
			log.Warn("progress events dropped", zap.Int64("dropped", dropped))
		}
	}
	if err := a.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Mongo.Close(ctx); err != nil {
		errs = append(errs, err)
	} else if a.Mongo != nil {
		log.Info("mongo connection closed")
	}
	err := errors.Join(errs...)
	if err != nil {
		log.Warn("errors while shutting down job services", zap.Error(err))
	}
	_ = a.Loggers.Sync()
	return err
}
