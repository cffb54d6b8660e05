package database

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/JakeFAU/countly-etl/internal/model"
)

// Products is the product_names work queue. It satisfies pipeline.Store.
type Products struct {
	c *Collection
}

// Collection exposes the underlying collection.
func (p *Products) Collection() *Collection {
	return p.c
}

// belowCeiling matches records never attempted or attempted fewer than ceiling times.
func belowCeiling(ceiling int) bson.A {
	return bson.A{
		bson.M{"retry_count": bson.M{"$exists": false}},
		bson.M{"retry_count": bson.M{"$lt": ceiling}},
	}
}

// EligibleFilter selects pending records that have a URL and retries left.
func EligibleFilter(ceiling int) bson.M {
	return bson.M{
		"status":      string(model.StatusPending),
		"current_url": bson.M{"$exists": true, "$nin": bson.A{nil, ""}},
		"$or":         belowCeiling(ceiling),
	}
}

// RequeueFilter selects failed records that still have retries left.
func RequeueFilter(ceiling int) bson.M {
	return bson.M{
		"status": string(model.StatusFailed),
		"$or":    belowCeiling(ceiling),
	}
}

// RequeueFailed resets retryable failed records to pending.
func (p *Products) RequeueFailed(ctx context.Context, ceiling int) (int64, error) {
	return p.c.UpdateMany(ctx, RequeueFilter(ceiling), bson.M{"$set": bson.M{"status": string(model.StatusPending)}})
}

// CountEligible counts records the crawl would process.
func (p *Products) CountEligible(ctx context.Context, ceiling int) (int64, error) {
	return p.c.Count(ctx, EligibleFilter(ceiling))
}

// NextEligible reads the next keyset page ordered by product_id.
func (p *Products) NextEligible(ctx context.Context, after string, limit, ceiling int) ([]model.Product, error) {
	filter := EligibleFilter(ceiling)
	if after != "" {
		filter["product_id"] = bson.M{"$gt": after}
	}
	var out []model.Product
	err := p.c.find(ctx, filter, FindOptions{
		Limit: int64(limit),
		Sort:  bson.D{{Key: "product_id", Value: 1}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateModels converts outcomes to update-one models keyed by product_id.
func UpdateModels(updates []model.ProductUpdate) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		set := bson.M{
			"status":      string(u.Status),
			"retry_count": u.RetryCount,
		}
		if u.Status == model.StatusProcessed {
			set["product_name"] = u.Name
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"product_id": u.ProductID}).
			SetUpdate(bson.M{"$set": set}))
	}
	return models
}

// ApplyUpdates writes one page of outcomes as an unordered bulk write.
func (p *Products) ApplyUpdates(ctx context.Context, updates []model.ProductUpdate) (model.BulkResult, error) {
	return p.c.BulkWrite(ctx, UpdateModels(updates))
}

// EachFailed streams every failed record.
func (p *Products) EachFailed(ctx context.Context, fn func(model.Product) error) error {
	return Each(ctx, p.c, bson.M{"status": string(model.StatusFailed)}, FindOptions{}, fn)
}

// CountFailed counts failed records.
func (p *Products) CountFailed(ctx context.Context) (int64, error) {
	return p.c.Count(ctx, bson.M{"status": string(model.StatusFailed)})
}

// EachNamed streams product_id and product_name for every record.
func (p *Products) EachNamed(ctx context.Context, fn func(model.Product) error) error {
	return Each(ctx, p.c, bson.M{}, FindOptions{
		Projection: bson.M{"_id": 0, "product_id": 1, "product_name": 1},
	}, fn)
}

// SeedModels converts derived (product_id, current_url) pairs into upserts that
// only touch new records.
func SeedModels(seeds []model.Product) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(seeds))
	for _, s := range seeds {
		doc := bson.M{
			"product_id":   s.ProductID,
			"product_name": nil,
			"status":       string(model.StatusPending),
		}
		if s.CurrentURL != "" {
			doc["current_url"] = s.CurrentURL
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"product_id": s.ProductID}).
			SetUpdate(bson.M{"$setOnInsert": doc}).
			SetUpsert(true))
	}
	return models
}

// Seed upserts new pending records.
func (p *Products) Seed(ctx context.Context, seeds []model.Product) (model.BulkResult, error) {
	res, err := p.c.BulkWrite(ctx, SeedModels(seeds))
	if err != nil {
		return res, fmt.Errorf("seed products: %w", err)
	}
	return res, nil
}

// Drop removes the collection; the init job recreates it.
func (p *Products) Drop(ctx context.Context) error {
	return p.c.Drop(ctx)
}

// CountAll counts every record.
func (p *Products) CountAll(ctx context.Context) (int64, error) {
	return p.c.Count(ctx, nil)
}

// EnsureIndexes creates the unique product_id index.
func (p *Products) EnsureIndexes(ctx context.Context) error {
	_, err := p.c.CreateUniqueIndex(ctx, "product_id")
	return err
}
