package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/derive"
	"github.com/JakeFAU/countly-etl/internal/geo"
	"github.com/JakeFAU/countly-etl/internal/ipenrich"
)

func newExtractIPsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "extract-ips",
		Short: "Rebuild the distinct IP collection from the event log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config
			res, err := derive.ExtractIPs(cmd.Context(),
				a.Mongo.Collection(cfg.Collections.Events),
				a.Mongo.IPs(cfg.Collections.IPs),
				cfg.Derive.IPBatchSize,
				a.Logger(),
			)
			if err != nil {
				a.Loggers.Summary.Error("run aborted", zap.String("job", a.Job), zap.Error(err))
				return fmt.Errorf("extract ips: %w", err)
			}
			a.Loggers.Summary.Info("run complete",
				zap.String("job", a.Job),
				zap.Int("batches", res.Batches),
				zap.Int64("inserted", res.Written),
				zap.Int64("write_errors", res.WriteErrors),
			)
			return nil
		},
	}
}

func newInitProductsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-products",
		Short: "Rebuild the product catalog from product events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config
			res, err := derive.InitProducts(cmd.Context(),
				a.Mongo.Collection(cfg.Collections.Events),
				a.Mongo.Products(cfg.Collections.Products),
				cfg.Derive.ProductEventTypes,
				cfg.Derive.ProductBatchSize,
				a.Logger(),
			)
			if err != nil {
				a.Loggers.Summary.Error("run aborted", zap.String("job", a.Job), zap.Error(err))
				return fmt.Errorf("init products: %w", err)
			}
			a.Loggers.Summary.Info("run complete",
				zap.String("job", a.Job),
				zap.Int("batches", res.Batches),
				zap.Int64("seeded", res.Written),
				zap.Int64("distinct", res.Distinct),
			)
			return nil
		},
	}
}

func newEnrichIPsCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "enrich-ips",
		Short: "Resolve pending IPs to country code and name",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config
			if dbPath == "" {
				dbPath = cfg.Geo.DatabasePath
			}
			locator, err := geo.Open(dbPath)
			if err != nil {
				return err
			}
			defer locator.Close()

			_, err = ipenrich.New(
				a.Mongo.IPs(cfg.Collections.IPs),
				locator,
				a.Reporter(),
				cfg.Geo.BatchSize,
				a.Logger(),
			).Run(cmd.Context())
			if err != nil {
				return fmt.Errorf("enrich ips: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "IP2Location BIN database (overrides geo.database_path)")
	return cmd
}
