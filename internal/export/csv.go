// Package export writes the product catalog and collections out of MongoDB:
// CSV reports on local disk and Parquet batches that can be uploaded to a
// blob store.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/model"
	"github.com/JakeFAU/countly-etl/internal/scrape"
	"github.com/JakeFAU/countly-etl/internal/worker"
)

// NamedSource streams product_id/product_name pairs.
type NamedSource interface {
	EachNamed(ctx context.Context, fn func(model.Product) error) error
}

// FailedSource streams failed product records.
type FailedSource interface {
	CountFailed(ctx context.Context) (int64, error)
	EachFailed(ctx context.Context, fn func(model.Product) error) error
}

// Diagnoser describes why a URL cannot be scraped.
type Diagnoser interface {
	Diagnose(ctx context.Context, rawURL string) string
}

// ProductCSV writes every record as product_id,product_name and returns the
// number of rows written. A null name is written as an empty field.
func ProductCSV(ctx context.Context, src NamedSource, w io.Writer) (int64, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"product_id", "product_name"}); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}
	var rows int64
	err := src.EachNamed(ctx, func(p model.Product) error {
		name := ""
		if p.ProductName != nil {
			name = *p.ProductName
		}
		if err := cw.Write([]string{p.ProductID, name}); err != nil {
			return fmt.Errorf("write row %s: %w", p.ProductID, err)
		}
		rows++
		return nil
	})
	if err != nil {
		return rows, err
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("flush csv: %w", err)
	}
	return rows, nil
}

// FailedReportName is the file name of a failed-record report created at ts.
func FailedReportName(ts time.Time) string {
	return fmt.Sprintf("failed_errors_%s.csv", ts.Format("20060102_150405"))
}

// FailedReportConfig sizes the diagnosis fan-out.
type FailedReportConfig struct {
	Concurrency int
	// ChunkSize is how many records are diagnosed before rows are flushed.
	ChunkSize int
}

type diagnosis struct {
	seq   int
	id    string
	url   string
	label string
}

// FailedReport re-fetches every failed record once and writes
// product_id,url,error type rows in store order. Records without a URL are
// reported as "Missing URL" without a fetch.
func FailedReport(
	ctx context.Context,
	src FailedSource,
	diag Diagnoser,
	w io.Writer,
	cfg FailedReportConfig,
	logger *zap.Logger,
) (map[string]int64, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 64
	}
	total, err := src.CountFailed(ctx)
	if err != nil {
		return nil, fmt.Errorf("count failed records: %w", err)
	}
	logger.Info("diagnosing failed records", zap.Int64("failed", total))

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"product_id", "url", "error type"}); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	pool := worker.New(cfg.Concurrency, func(ctx context.Context, d diagnosis) diagnosis {
		if d.url == "" {
			d.label = scrape.DiagnosisMissingURL
			return d
		}
		d.label = diag.Diagnose(ctx, d.url)
		return d
	}, func(d diagnosis, r any) diagnosis {
		d.label = fmt.Sprintf("Unexpected error: %v", r)
		return d
	})

	tally := map[string]int64{}
	var seq int
	chunk := make([]diagnosis, 0, cfg.ChunkSize)
	flush := func() error {
		results := pool.Run(ctx, chunk)
		sort.Slice(results, func(i, j int) bool { return results[i].seq < results[j].seq })
		for _, d := range results {
			if err := cw.Write([]string{d.id, d.url, d.label}); err != nil {
				return fmt.Errorf("write row %s: %w", d.id, err)
			}
			tally[d.label]++
			logger.Debug("diagnosed record", zap.String("product_id", d.id), zap.String("error_type", d.label))
		}
		cw.Flush()
		chunk = chunk[:0]
		return cw.Error()
	}

	err = src.EachFailed(ctx, func(p model.Product) error {
		chunk = append(chunk, diagnosis{seq: seq, id: p.ProductID, url: p.CurrentURL})
		seq++
		if len(chunk) < cfg.ChunkSize {
			return nil
		}
		return flush()
	})
	if err != nil {
		return tally, fmt.Errorf("scan failed records: %w", err)
	}
	if len(chunk) > 0 {
		if err := flush(); err != nil {
			return tally, err
		}
	}
	logger.Info("failed record analysis complete", zap.Int("analyzed", seq), zap.Any("error_types", tally))
	return tally, nil
}
