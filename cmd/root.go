// Package cmd defines the countly-etl CLI. Every subcommand is one job run: the
// root command loads configuration and builds the job services before the
// subcommand runs, and Execute releases them afterwards.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/app"
	"github.com/JakeFAU/countly-etl/internal/config"
	"github.com/JakeFAU/countly-etl/internal/logging"
)

const shutdownTimeout = 15 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// appFactory builds the job services. Tests replace it.
type appFactory func(ctx context.Context, cfg config.Config, job string) (*app.App, error)

func defaultAppFactory(ctx context.Context, cfg config.Config, job string) (*app.App, error) {
	return app.New(ctx, cfg, job)
}

// cli carries state shared by the root command and its hooks.
type cli struct {
	cfgFile string
	newApp  appFactory
	app     *app.App
}

// newRootCmd creates the root command and registers every job.
func newRootCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "countly-etl",
		Short: "Batch ETL jobs over the Countly MongoDB event log.",
		Long: `countly-etl derives, enriches and exports data from the Countly
event log. Each subcommand is an independent job run: derive distinct IPs and
products, enrich IPs with geolocation, crawl product names, diagnose failed
crawls, export CSV or Parquet, and profile collections.`,
		SilenceUsage: true,

		// Builds the job services before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a, err := c.newApp(cmd.Context(), cfg, cmd.Name())
			if err != nil {
				return fmt.Errorf("failed to initialize job services: %w", err)
			}
			c.app = a
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (defaults plus COUNTLY_* environment when empty)")

	cmd.AddCommand(
		newExtractIPsCmd(),
		newEnrichIPsCmd(),
		newInitProductsCmd(),
		newCrawlNamesCmd(),
		newDiagnoseFailedCmd(),
		newExportCSVCmd(),
		newExportParquetCmd(),
		newProfileCmd(),
	)
	return cmd
}

// close releases the job services. Cobra skips post-run hooks when RunE
// fails, so Execute calls this on every path.
func (c *cli) close() error {
	if c.app == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return c.app.Close(ctx)
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the CLI until the job finishes or SIGINT/SIGTERM cancels it.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	c := &cli{newApp: defaultAppFactory}
	err := newRootCmd(c).ExecuteContext(ctx)
	stop()
	if cerr := c.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err == nil {
		return
	}
	if logger, lerr := logging.New(false); lerr == nil {
		logger.Error("Command execution failed", zap.Error(err))
		_ = logger.Sync()
	}
	os.Exit(1)
}
