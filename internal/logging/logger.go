// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	return build(development, []string{"stderr"})
}

// Loggers pairs the detailed job logger with the low-volume summary stream.
type Loggers struct {
	Detail  *zap.Logger
	Summary *zap.Logger
}

// NewJob builds the loggers for one job run. The detail logger writes to stderr and
// <dir>/<job>_<stamp>.log; the summary logger writes run milestones to
// <dir>/summary_<stamp>.log only.
func NewJob(development bool, dir, job, stamp string) (Loggers, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Loggers{}, fmt.Errorf("create log dir %s: %w", dir, err)
	}
	detail, err := build(development, []string{
		"stderr",
		filepath.Join(dir, fmt.Sprintf("%s_%s.log", job, stamp)),
	})
	if err != nil {
		return Loggers{}, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.Sampling = nil
	cfg.OutputPaths = []string{filepath.Join(dir, fmt.Sprintf("summary_%s.log", stamp))}
	summary, err := cfg.Build()
	if err != nil {
		return Loggers{}, fmt.Errorf("build summary logger: %w", err)
	}
	return Loggers{
		Detail:  detail.Named(job),
		Summary: summary.Named("summary"),
	}, nil
}

// Sync flushes both loggers, returning the first error.
func (l Loggers) Sync() error {
	var first error
	for _, lg := range []*zap.Logger{l.Detail, l.Summary} {
		if lg == nil {
			continue
		}
		if err := lg.Sync(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func build(development bool, outputs []string) (*zap.Logger, error) {
	if development {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cfg.OutputPaths = outputs
		logger, err := cfg.Build()
		if err != nil {
			return nil, fmt.Errorf("build dev logger: %w", err)
		}
		return logger, nil
	}
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = false
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = outputs
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, nil
}
