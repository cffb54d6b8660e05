package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/config"
	"github.com/JakeFAU/countly-etl/internal/export"
	"github.com/JakeFAU/countly-etl/internal/extract"
	collyfetcher "github.com/JakeFAU/countly-etl/internal/fetcher/colly"
	"github.com/JakeFAU/countly-etl/internal/metrics"
	"github.com/JakeFAU/countly-etl/internal/pipeline"
	"github.com/JakeFAU/countly-etl/internal/policy/ratelimit"
	"github.com/JakeFAU/countly-etl/internal/retry"
	"github.com/JakeFAU/countly-etl/internal/scrape"
)

// buildResolver composes the Colly fetcher, the per-host limiter and the
// default extraction rules. Limiter waits are recorded in reg.
func buildResolver(cfg config.CrawlerConfig, reg prometheus.Registerer) *scrape.Resolver {
	f := ratelimit.Wrap(
		collyfetcher.New(collyfetcher.Config{
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: cfg.AcceptLanguage,
			Timeout:        cfg.RequestTimeout,
		}),
		ratelimit.New(
			ratelimit.Config{RequestsPerSecond: cfg.RateLimit, Burst: cfg.RateBurst},
			ratelimit.WithObserver(metrics.NewRateLimitObserver(reg)),
		),
	)
	return scrape.NewResolver(f, extract.New(), retry.Policy{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     cfg.RetryBackoff,
	})
}

func newCrawlNamesCmd() *cobra.Command {
	var (
		probeURL      string
		requeueFailed bool
	)
	cmd := &cobra.Command{
		Use:   "crawl-names",
		Short: "Fetch product pages and record product names",
		Long: `Pages pending products with a URL out of the product collection, fetches
each page on a bounded worker pool and extracts the product name. Outcomes are
written back as one unordered bulk write per page.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config.Crawler
			if cmd.Flags().Changed("probe-url") {
				cfg.ProbeURL = probeURL
			}

			coordinator := pipeline.New(
				a.Mongo.Products(a.Config.Collections.Products),
				buildResolver(cfg, a.Registry),
				a.Reporter(),
				pipeline.Config{
					PageSize:      cfg.BatchSize,
					Concurrency:   cfg.Concurrency,
					RetryCeiling:  cfg.RetryCeiling,
					PageDelay:     cfg.PageDelay,
					RequeueFailed: requeueFailed,
					ProbeURL:      cfg.ProbeURL,
				},
				pipeline.WithLogger(a.Logger()),
			)
			sum, err := coordinator.Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("crawl names: %w", err)
			}
			a.Logger().Info("crawl finished",
				zap.Int64("eligible", sum.Eligible),
				zap.Int64("requeued", sum.Requeued),
				zap.Int("pages", sum.Pages),
				zap.Stringer("state", sum.Final),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&probeURL, "probe-url", "", "URL resolved once before the run; failure aborts it")
	cmd.Flags().BoolVar(&requeueFailed, "requeue-failed", false, "reset failed records below the retry ceiling to pending first")
	return cmd
}

func newDiagnoseFailedCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "diagnose-failed",
		Short: "Re-fetch failed products once and write an error-type report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if output == "" {
				output = export.FailedReportName(time.Now())
			}
			f, err := os.Create(output) //nolint:gosec // operator-chosen path
			if err != nil {
				return fmt.Errorf("create report %s: %w", output, err)
			}
			defer f.Close() //nolint:errcheck // closed explicitly below on success

			cfg := a.Config.Crawler
			tally, err := export.FailedReport(cmd.Context(),
				a.Mongo.Products(a.Config.Collections.Products),
				buildResolver(cfg, a.Registry),
				f,
				export.FailedReportConfig{Concurrency: cfg.Concurrency},
				a.Logger(),
			)
			if err != nil {
				return fmt.Errorf("diagnose failed records: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close report %s: %w", output, err)
			}
			a.Loggers.Summary.Info("run complete",
				zap.String("job", a.Job),
				zap.String("report", output),
				zap.Any("error_types", tally),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "report path (default failed_errors_<timestamp>.csv)")
	return cmd
}
