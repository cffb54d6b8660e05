package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/countly-etl/internal/progress"
)

// PrometheusSink exports run progress via Prometheus. Counters are fed from
// the cumulative totals carried on each event, so only deltas are added.
type PrometheusSink struct {
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	records       *prometheus.CounterVec
	rules         *prometheus.CounterVec
	pages         *prometheus.CounterVec
	throughput    *prometheus.GaugeVec
	cpuPercent    prometheus.Gauge
	memPercent    prometheus.Gauge

	last map[string]progress.Counters
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "countly_etl_runs_started_total",
			Help: "Job runs started, by job.",
		}, []string{"job"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "countly_etl_runs_completed_total",
			Help: "Job runs finished, by job and result.",
		}, []string{"job", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "countly_etl_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"job", "result"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "countly_etl_records_total",
			Help: "Records processed, by job and outcome.",
		}, []string{"job", "outcome"}),
		rules: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "countly_etl_extract_rule_hits_total",
			Help: "Successful extractions, by matching rule.",
		}, []string{"rule"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "countly_etl_pages_total",
			Help: "Pages written back to the store, by job.",
		}, []string{"job"}),
		throughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "countly_etl_records_per_second",
			Help: "Run throughput as of the last page.",
		}, []string{"job"}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "countly_etl_host_cpu_percent",
			Help: "Host CPU utilization sampled after each page.",
		}),
		memPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "countly_etl_host_memory_percent",
			Help: "Host memory utilization sampled after each page.",
		}),
		last: make(map[string]progress.Counters),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runDuration,
		s.records,
		s.rules,
		s.pages,
		s.throughput,
		s.cpuPercent,
		s.memPercent,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. The hub calls sinks from a
// single goroutine.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.WithLabelValues(evt.Job).Inc()
	case progress.StagePageDone:
		s.pages.WithLabelValues(evt.Job).Inc()
		s.throughput.WithLabelValues(evt.Job).Set(evt.Rate)
		if evt.Usage != nil {
			s.cpuPercent.Set(evt.Usage.CPUPercent)
			s.memPercent.Set(evt.Usage.MemPercent)
		}
	case progress.StageRunDone:
		s.finish(evt, "success")
	case progress.StageRunError:
		s.finish(evt, "error")
	}
	s.addDeltas(evt)
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(evt.Job, result).Inc()
	if evt.Elapsed > 0 {
		s.runDuration.WithLabelValues(evt.Job, result).Observe(evt.Elapsed.Seconds())
	}
}

func (s *PrometheusSink) addDeltas(evt progress.Event) {
	key := evt.RunID.String()
	prev := s.last[key]
	cur := evt.Counters
	if d := cur.Succeeded - prev.Succeeded; d > 0 {
		s.records.WithLabelValues(evt.Job, "succeeded").Add(float64(d))
	}
	if d := cur.Failed - prev.Failed; d > 0 {
		s.records.WithLabelValues(evt.Job, "failed").Add(float64(d))
	}
	for rule, n := range cur.Rules {
		if d := n - prev.Rules[rule]; d > 0 {
			s.rules.WithLabelValues(rule).Add(float64(d))
		}
	}
	if evt.Stage == progress.StageRunDone || evt.Stage == progress.StageRunError {
		delete(s.last, key)
		return
	}
	s.last[key] = cur
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
