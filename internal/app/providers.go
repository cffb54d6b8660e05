package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/config"
	"github.com/JakeFAU/countly-etl/internal/publisher"
	pubsubpub "github.com/JakeFAU/countly-etl/internal/publisher/pubsub"
	"github.com/JakeFAU/countly-etl/internal/storage"
	"github.com/JakeFAU/countly-etl/internal/storage/gcs"
	"github.com/JakeFAU/countly-etl/internal/storage/local"
	"github.com/JakeFAU/countly-etl/internal/storage/s3"
)

// NewStorage builds the blob store named by cfg.Provider. The returned closer
// may be nil.
func NewStorage(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Provider, func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Provider {
	case "", "noop":
		logger.Info("using no-op storage provider; uploads are discarded")
		return storage.NoOpProvider{}, nil, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("init local storage: %w", err)
		}
		logger.Info("using local storage provider", zap.String("base_dir", cfg.Local.BaseDir))
		return store, nil, nil
	case "gcs":
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCS.Bucket}, nil, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("init gcs storage: %w", err)
		}
		logger.Info("using GCS storage provider", zap.String("bucket", cfg.GCS.Bucket))
		return store, func(context.Context) error { return store.Close() }, nil
	case "s3":
		store, err := s3.Open(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			PathStyle:       cfg.S3.PathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("init s3 storage: %w", err)
		}
		logger.Info("using S3 storage provider", zap.String("bucket", cfg.S3.Bucket))
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

// NewPublisher opens a Pub/Sub publisher when cfg names a topic, and a no-op
// publisher otherwise.
func NewPublisher(ctx context.Context, cfg config.PubSubConfig, logger *zap.Logger) (publisher.Publisher, func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ProjectID == "" || cfg.TopicID == "" {
		logger.Info("pubsub not configured; completion messages are dropped")
		return publisher.NoOp{}, nil, nil
	}
	pub, err := pubsubpub.Open(ctx, cfg.ProjectID, cfg.TopicID, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	logger.Info("publishing completion messages", zap.String("topic", cfg.TopicID))
	return pub, func(context.Context) error { return pub.Close() }, nil
}
