package database

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/countly-etl/internal/model"
)

// Collection wraps a mongo.Collection with the batch-oriented operations the
// ETL jobs use. Documents cross this boundary as bson.M.
type Collection struct {
	coll *mongo.Collection
}

// FindOptions pages a Find.
type FindOptions struct {
	Skip       int64
	Limit      int64
	Sort       bson.D
	Projection bson.M
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.coll.Name()
}

// Drop removes the collection and its indexes.
func (c *Collection) Drop(ctx context.Context) error {
	if err := c.coll.Drop(ctx); err != nil {
		return fmt.Errorf("drop %s: %w", c.Name(), err)
	}
	return nil
}

// Count counts documents matching filter.
func (c *Collection) Count(ctx context.Context, filter any) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	n, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", c.Name(), err)
	}
	return n, nil
}

// Find returns the matching documents.
func (c *Collection) Find(ctx context.Context, filter any, fo FindOptions) ([]bson.M, error) {
	var out []bson.M
	if err := c.find(ctx, filter, fo, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Collection) find(ctx context.Context, filter any, fo FindOptions, results any) error {
	if filter == nil {
		filter = bson.M{}
	}
	opts := options.Find()
	if fo.Skip > 0 {
		opts.SetSkip(fo.Skip)
	}
	if fo.Limit > 0 {
		opts.SetLimit(fo.Limit)
	}
	if len(fo.Sort) > 0 {
		opts.SetSort(fo.Sort)
	}
	if fo.Projection != nil {
		opts.SetProjection(fo.Projection)
	}
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("find %s: %w", c.Name(), err)
	}
	if err := cur.All(ctx, results); err != nil {
		return fmt.Errorf("decode %s: %w", c.Name(), err)
	}
	return nil
}

// Each streams every matching document into fn, decoded into a fresh T.
func Each[T any](ctx context.Context, c *Collection, filter any, fo FindOptions, fn func(T) error) error {
	if filter == nil {
		filter = bson.M{}
	}
	opts := options.Find()
	if len(fo.Sort) > 0 {
		opts.SetSort(fo.Sort)
	}
	if fo.Projection != nil {
		opts.SetProjection(fo.Projection)
	}
	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("find %s: %w", c.Name(), err)
	}
	defer cur.Close(ctx) //nolint:errcheck // read-only cursor
	for cur.Next(ctx) {
		var doc T
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("decode %s: %w", c.Name(), err)
		}
		if err := fn(doc); err != nil {
			return err
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", c.Name(), err)
	}
	return nil
}

// Aggregate runs pipeline and returns every result document.
func (c *Collection) Aggregate(ctx context.Context, pipeline any) ([]bson.M, error) {
	cur, err := c.coll.Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", c.Name(), err)
	}
	var out []bson.M
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode aggregate %s: %w", c.Name(), err)
	}
	return out, nil
}

// AggregateBatches runs pipeline with disk use allowed and hands results to fn
// in slices of at most batchSize documents.
func (c *Collection) AggregateBatches(
	ctx context.Context,
	pipeline any,
	batchSize int,
	fn func([]bson.M) error,
) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	opts := options.Aggregate().SetAllowDiskUse(true).SetBatchSize(int32(min(batchSize, 1<<20))) //nolint:gosec // clamped
	cur, err := c.coll.Aggregate(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("aggregate %s: %w", c.Name(), err)
	}
	defer cur.Close(ctx) //nolint:errcheck // read-only cursor

	batch := make([]bson.M, 0, batchSize)
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("decode aggregate %s: %w", c.Name(), err)
		}
		batch = append(batch, doc)
		if len(batch) == batchSize {
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]bson.M, 0, batchSize)
		}
	}
	if err := cur.Err(); err != nil {
		return fmt.Errorf("iterate aggregate %s: %w", c.Name(), err)
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}

// Distinct returns the distinct values of field among documents matching filter.
func (c *Collection) Distinct(ctx context.Context, field string, filter any) ([]any, error) {
	if filter == nil {
		filter = bson.M{}
	}
	vals, err := c.coll.Distinct(ctx, field, filter)
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", c.Name(), field, err)
	}
	return vals, nil
}

// InsertMany inserts docs unordered. Per-document failures such as duplicate
// keys are counted in the result; only transport-level or write-concern
// errors are returned.
func (c *Collection) InsertMany(ctx context.Context, docs []any) (model.BulkResult, error) {
	if len(docs) == 0 {
		return model.BulkResult{}, nil
	}
	res, err := c.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	out, err := toInsertResult(len(docs), res, err)
	if err != nil {
		return out, fmt.Errorf("insert into %s: %w", c.Name(), err)
	}
	return out, nil
}

// BulkWrite executes models unordered. Per-document failures are counted in
// the result; only transport-level or write-concern errors are returned.
func (c *Collection) BulkWrite(ctx context.Context, models []mongo.WriteModel) (model.BulkResult, error) {
	if len(models) == 0 {
		return model.BulkResult{}, nil
	}
	res, err := c.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	out, err := toBulkResult(len(models), res, err)
	if err != nil {
		return out, fmt.Errorf("bulk write %s: %w", c.Name(), err)
	}
	return out, nil
}

// UpdateMany applies update to every document matching filter.
func (c *Collection) UpdateMany(ctx context.Context, filter, update any) (int64, error) {
	res, err := c.coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", c.Name(), err)
	}
	return res.ModifiedCount, nil
}

// CreateUniqueIndex builds an ascending unique index on field.
func (c *Collection) CreateUniqueIndex(ctx context.Context, field string) (string, error) {
	name, err := c.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return "", fmt.Errorf("create index %s.%s: %w", c.Name(), field, err)
	}
	return name, nil
}

func toInsertResult(ops int, res *mongo.InsertManyResult, err error) (model.BulkResult, error) {
	out := model.BulkResult{Operations: ops}
	if res != nil {
		out.Inserted = int64(len(res.InsertedIDs))
	}
	if err == nil {
		return out, nil
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && bwe.WriteConcernError == nil && len(bwe.WriteErrors) > 0 {
		// InsertedIDs lists every attempted document, failed ones included.
		out.WriteErrors = len(bwe.WriteErrors)
		out.Inserted = int64(ops - out.WriteErrors)
		return out, nil
	}
	return out, err
}

func toBulkResult(ops int, res *mongo.BulkWriteResult, err error) (model.BulkResult, error) {
	out := model.BulkResult{Operations: ops}
	if res != nil {
		out.Matched = res.MatchedCount
		out.Modified = res.ModifiedCount
		out.Upserted = res.UpsertedCount
	}
	if err == nil {
		return out, nil
	}
	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) && bwe.WriteConcernError == nil && len(bwe.WriteErrors) > 0 {
		out.WriteErrors = len(bwe.WriteErrors)
		return out, nil
	}
	return out, err
}
