package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/export"
	"github.com/JakeFAU/countly-etl/internal/profile"
	"github.com/JakeFAU/countly-etl/internal/publisher"
	"github.com/JakeFAU/countly-etl/internal/storage"
)

func newExportCSVCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export-csv",
		Short: "Write product_id,product_name for every product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if output == "" {
				output = a.Config.Export.CSVPath
			}
			f, err := os.Create(output) //nolint:gosec // operator-chosen path
			if err != nil {
				return fmt.Errorf("create csv %s: %w", output, err)
			}
			defer f.Close() //nolint:errcheck // closed explicitly below on success

			rows, err := export.ProductCSV(cmd.Context(), a.Mongo.Products(a.Config.Collections.Products), f)
			if err != nil {
				return fmt.Errorf("export csv: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close csv %s: %w", output, err)
			}
			a.Loggers.Summary.Info("run complete",
				zap.String("job", a.Job),
				zap.String("file", output),
				zap.Int64("rows", rows),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "CSV path (overrides export.csv_path)")
	return cmd
}

func newExportParquetCmd() *cobra.Command {
	var (
		testMode    bool
		upload      bool
		collections []string
	)
	cmd := &cobra.Command{
		Use:   "export-parquet",
		Short: "Export collections as batched Parquet files",
		Long: `Writes each collection as Parquet files of export.batch_size documents,
every column an optional string. With --upload each file is saved to the
configured blob store and a completion message is published once at the end.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config.Export
			if cmd.Flags().Changed("test-mode") {
				cfg.TestMode = testMode
			}
			if cmd.Flags().Changed("upload") {
				cfg.Upload = upload
			}
			if len(collections) > 0 {
				cfg.Collections = collections
			}

			var (
				blobs storage.Provider
				pub   publisher.Publisher
			)
			if cfg.Upload {
				if blobs, err = a.Storage(cmd.Context()); err != nil {
					return err
				}
				if pub, err = a.Publisher(cmd.Context()); err != nil {
					return err
				}
			}

			exp := export.NewParquetExporter(
				func(name string) export.Source { return a.Mongo.Collection(name) },
				export.ParquetConfig{
					Dir:          cfg.Dir,
					BatchSize:    cfg.BatchSize,
					TestMode:     cfg.TestMode,
					SampleSize:   cfg.SampleSize,
					Upload:       cfg.Upload,
					ObjectPrefix: a.Config.Storage.Prefix,
					Topic:        a.Config.PubSub.TopicID,
					RunID:        a.RunID.String(),
				},
				blobs, pub, a.Logger(),
			)
			res, err := exp.Export(cmd.Context(), cfg.Collections)
			if err != nil {
				a.Loggers.Summary.Error("run aborted", zap.String("job", a.Job), zap.Error(err))
				return fmt.Errorf("export parquet: %w", err)
			}
			a.Loggers.Summary.Info("run complete",
				zap.String("job", a.Job),
				zap.Int("files", len(res.Files)),
				zap.Int("uploaded", len(res.Objects)),
				zap.Int64("documents", res.Documents),
				zap.String("message_id", res.MessageID),
			)
			return nil
		},
	}
	cmd.Flags().BoolVar(&testMode, "test-mode", false, "export a small sample of each collection")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload files and publish a completion message")
	cmd.Flags().StringSliceVar(&collections, "collections", nil, "collections to export (overrides export.collections)")
	return cmd
}

func newProfileCmd() *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Report document counts, distinct and null counts per field",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config.Profile
			if strategy == "" {
				strategy = cfg.DistinctStrategy
			}
			switch profile.Strategy(strategy) {
			case profile.StrategyAggregate, profile.StrategyDistinct:
			default:
				return fmt.Errorf("unknown distinct strategy %q", strategy)
			}

			f, err := os.Create(cfg.OutputPath)
			if err != nil {
				return fmt.Errorf("create profile output %s: %w", cfg.OutputPath, err)
			}
			defer f.Close() //nolint:errcheck // closed explicitly below on success

			reports, err := profile.Run(cmd.Context(),
				func(name string) profile.Collection { return a.Mongo.Collection(name) },
				cfg.Collections,
				profile.Config{SampleSize: cfg.SampleSize, Strategy: profile.Strategy(strategy)},
				f,
				a.Logger(),
			)
			if err != nil {
				return fmt.Errorf("profile collections: %w", err)
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close profile output: %w", err)
			}
			a.Loggers.Summary.Info("run complete",
				zap.String("job", a.Job),
				zap.Int("collections", len(reports)),
				zap.String("output", cfg.OutputPath),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "distinct counting strategy: aggregate or distinct")
	return cmd
}
