package database

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/JakeFAU/countly-etl/internal/model"
)

// IPs is the distinct_ips work queue.
type IPs struct {
	c *Collection
}

// Collection exposes the underlying collection.
func (i *IPs) Collection() *Collection {
	return i.c
}

func pendingIPFilter() bson.M {
	return bson.M{"status": string(model.StatusPending)}
}

// CountPending counts IPs awaiting enrichment.
func (i *IPs) CountPending(ctx context.Context) (int64, error) {
	return i.c.Count(ctx, pendingIPFilter())
}

// NextPending reads the next keyset page of pending IPs ordered by _id.
func (i *IPs) NextPending(ctx context.Context, after primitive.ObjectID, limit int) ([]model.DistinctIP, error) {
	filter := pendingIPFilter()
	if !after.IsZero() {
		filter["_id"] = bson.M{"$gt": after}
	}
	var out []model.DistinctIP
	err := i.c.find(ctx, filter, FindOptions{
		Limit: int64(limit),
		Sort:  bson.D{{Key: "_id", Value: 1}},
	}, &out)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IPUpdateModels converts enrichment outcomes into update-one models keyed by _id.
func IPUpdateModels(updates []model.IPUpdate) []mongo.WriteModel {
	models := make([]mongo.WriteModel, 0, len(updates))
	for _, u := range updates {
		set := bson.M{"status": string(u.Status)}
		if u.Location != nil {
			set["location"] = u.Location
		}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": u.ID}).
			SetUpdate(bson.M{"$set": set}))
	}
	return models
}

// ApplyUpdates writes one page of enrichment outcomes unordered.
func (i *IPs) ApplyUpdates(ctx context.Context, updates []model.IPUpdate) (model.BulkResult, error) {
	return i.c.BulkWrite(ctx, IPUpdateModels(updates))
}

// Drop removes the collection; the extract job recreates it.
func (i *IPs) Drop(ctx context.Context) error {
	return i.c.Drop(ctx)
}

// Insert adds new distinct-IP records unordered.
func (i *IPs) Insert(ctx context.Context, records []model.DistinctIP) (model.BulkResult, error) {
	docs := make([]any, 0, len(records))
	for _, r := range records {
		docs = append(docs, r)
	}
	return i.c.InsertMany(ctx, docs)
}
