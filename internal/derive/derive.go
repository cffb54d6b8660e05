// Package derive builds the distinct-key work queues (distinct_ips and
// product_names) from the raw event log.
package derive

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/JakeFAU/countly-etl/internal/model"
)

// Events is the raw event log.
type Events interface {
	Count(ctx context.Context, filter any) (int64, error)
	AggregateBatches(ctx context.Context, pipeline any, batchSize int, fn func([]bson.M) error) error
}

// IPTarget receives the distinct IPs.
type IPTarget interface {
	Drop(ctx context.Context) error
	Insert(ctx context.Context, records []model.DistinctIP) (model.BulkResult, error)
}

// ProductTarget receives the distinct products.
type ProductTarget interface {
	Drop(ctx context.Context) error
	Seed(ctx context.Context, seeds []model.Product) (model.BulkResult, error)
	CountAll(ctx context.Context) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

// Result summarizes a derivation run.
type Result struct {
	Batches  int
	Written  int64
	Distinct int64

	// WriteErrors counts documents the store rejected individually.
	WriteErrors int64
}

// IPPipeline groups the event log by non-empty ip.
func IPPipeline() mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"ip": bson.M{"$exists": true, "$nin": bson.A{nil, ""}}}}},
		{{Key: "$group", Value: bson.M{"_id": "$ip"}}},
		{{Key: "$project", Value: bson.M{
			"_id":      0,
			"ip":       "$_id",
			"location": nil,
			"status":   string(model.StatusPending),
		}}},
	}
}

// ProductFilter matches product events that carry a product_id.
func ProductFilter(eventTypes []string) bson.M {
	return bson.M{
		"collection": bson.M{"$in": eventTypes},
		"product_id": bson.M{"$exists": true, "$nin": bson.A{nil, ""}},
	}
}

// ProductPipeline groups product events by product_id, keeping the first URL seen.
func ProductPipeline(eventTypes []string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: ProductFilter(eventTypes)}},
		{{Key: "$group", Value: bson.M{
			"_id":         "$product_id",
			"current_url": bson.M{"$first": "$current_url"},
		}}},
		{{Key: "$project", Value: bson.M{
			"_id":         0,
			"product_id":  "$_id",
			"current_url": 1,
		}}},
	}
}

// ExtractIPs rebuilds distinct_ips from the event log.
func ExtractIPs(ctx context.Context, events Events, target IPTarget, batchSize int, logger *zap.Logger) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := target.Drop(ctx); err != nil {
		return Result{}, fmt.Errorf("reset distinct ips: %w", err)
	}
	logger.Info("dropped distinct ip collection")

	var res Result
	err := events.AggregateBatches(ctx, IPPipeline(), batchSize, func(batch []bson.M) error {
		records := make([]model.DistinctIP, 0, len(batch))
		for _, doc := range batch {
			ip := stringField(doc, "ip")
			if ip == "" {
				continue
			}
			records = append(records, model.DistinctIP{IP: ip, Status: model.StatusPending})
		}
		out, err := target.Insert(ctx, records)
		if err != nil {
			return fmt.Errorf("insert batch %d: %w", res.Batches+1, err)
		}
		res.Batches++
		res.Written += out.Inserted
		if out.WriteErrors > 0 {
			res.WriteErrors += int64(out.WriteErrors)
			logger.Warn("ip batch had rejected documents",
				zap.Int("batch", res.Batches), zap.Int("write_errors", out.WriteErrors))
		}
		logger.Info("inserted ip batch", zap.Int("batch", res.Batches), zap.Int64("total", res.Written))
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("extract distinct ips: %w", err)
	}
	res.Distinct = res.Written
	logger.Info("distinct ip extraction complete",
		zap.Int64("inserted", res.Written),
		zap.Int64("write_errors", res.WriteErrors),
		zap.Int("batches", res.Batches))
	return res, nil
}

// InitProducts rebuilds product_names from product events and indexes it.
func InitProducts(
	ctx context.Context,
	events Events,
	target ProductTarget,
	eventTypes []string,
	batchSize int,
	logger *zap.Logger,
) (Result, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := target.Drop(ctx); err != nil {
		return Result{}, fmt.Errorf("reset products: %w", err)
	}
	logger.Info("dropped product collection")

	estimated, err := events.Count(ctx, ProductFilter(eventTypes))
	if err != nil {
		return Result{}, fmt.Errorf("count product events: %w", err)
	}
	logger.Info("scanning product events", zap.Int64("events", estimated), zap.Strings("event_types", eventTypes))

	var res Result
	err = events.AggregateBatches(ctx, ProductPipeline(eventTypes), batchSize, func(batch []bson.M) error {
		seeds := make([]model.Product, 0, len(batch))
		for _, doc := range batch {
			id := stringField(doc, "product_id")
			if id == "" {
				continue
			}
			seeds = append(seeds, model.Product{ProductID: id, CurrentURL: stringField(doc, "current_url")})
		}
		out, err := target.Seed(ctx, seeds)
		if err != nil {
			return fmt.Errorf("seed batch %d: %w", res.Batches+1, err)
		}
		res.Batches++
		res.Written += out.Upserted
		if out.WriteErrors > 0 {
			logger.Warn("seed batch had write errors", zap.Int("batch", res.Batches), zap.Int("write_errors", out.WriteErrors))
		}
		logger.Info("seeded product batch", zap.Int("batch", res.Batches), zap.Int64("upserted", res.Written))
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("derive products: %w", err)
	}

	if res.Distinct, err = target.CountAll(ctx); err != nil {
		return res, fmt.Errorf("count products: %w", err)
	}
	if err := target.EnsureIndexes(ctx); err != nil {
		return res, fmt.Errorf("index products: %w", err)
	}
	logger.Info("product catalog initialized", zap.Int64("distinct", res.Distinct), zap.Int("batches", res.Batches))
	return res, nil
}

// stringField renders a scalar field as a string; missing or null yields "".
func stringField(doc bson.M, key string) string {
	v, ok := doc[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
