package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/progress"
)

// LogSink writes progress to the detailed job log and run milestones to the
// summary log.
type LogSink struct {
	detail  *zap.Logger
	summary *zap.Logger
}

// NewLogSink wires the two loggers; nil loggers discard output.
func NewLogSink(detail, summary *zap.Logger) *LogSink {
	if detail == nil {
		detail = zap.NewNop()
	}
	if summary == nil {
		summary = zap.NewNop()
	}
	return &LogSink{detail: detail, summary: summary}
}

// Consume logs each event using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *LogSink) consumeEvent(evt progress.Event) {
	base := []zap.Field{
		zap.String("run_id", evt.RunID.String()),
		zap.String("job", evt.Job),
	}
	totals := []zap.Field{
		zap.Int64("processed", evt.Counters.Processed),
		zap.Int64("succeeded", evt.Counters.Succeeded),
		zap.Int64("failed", evt.Counters.Failed),
		zap.Float64("records_per_sec", evt.Rate),
	}
	switch evt.Stage {
	case progress.StageRunStart:
		s.summary.Info("run started", append(base, zap.Int64("eligible", evt.Eligible))...)
		s.detail.Info("run started", append(base, zap.Int64("eligible", evt.Eligible))...)
	case progress.StagePageDone:
		fields := append(append(base, zap.Int("page", evt.Page), zap.Int("page_size", evt.PageSize)), totals...)
		s.summary.Info("page complete", fields...)
		detail := append(fields,
			zap.Int64("modified", evt.Counters.Modified),
			zap.Int64("write_errors", evt.Counters.WriteErrors),
			zap.Any("rules", evt.Counters.Rules),
		)
		if evt.Usage != nil {
			detail = append(detail,
				zap.Float64("cpu_percent", evt.Usage.CPUPercent),
				zap.Float64("mem_percent", evt.Usage.MemPercent),
				zap.Float64("mem_used_gb", evt.Usage.MemUsedGB),
			)
		}
		s.detail.Info("page complete", detail...)
	case progress.StageRunDone:
		fields := append(append(base, zap.Duration("elapsed", evt.Elapsed)), totals...)
		fields = append(fields,
			zap.Float64("success_rate_pct", successRate(evt.Counters)),
			zap.Any("rules", evt.Counters.Rules))
		s.summary.Info("run complete", fields...)
		s.detail.Info("run complete", fields...)
	case progress.StageRunError:
		fields := append(append(base, zap.String("error", evt.Note), zap.Duration("elapsed", evt.Elapsed)), totals...)
		s.summary.Error("run aborted", fields...)
		s.detail.Error("run aborted", fields...)
	}
}

func successRate(c progress.Counters) float64 {
	if c.Processed == 0 {
		return 0
	}
	return float64(c.Succeeded) / float64(c.Processed) * 100
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
