package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/JakeFAU/countly-etl/internal/model"
	"github.com/JakeFAU/countly-etl/internal/store"
)

func TestEligibleFilter(t *testing.T) {
	t.Parallel()

	f := EligibleFilter(3)
	assert.Equal(t, "pending", f["status"])
	assert.Equal(t, bson.M{"$exists": true, "$nin": bson.A{nil, ""}}, f["current_url"])
	assert.Equal(t, bson.A{
		bson.M{"retry_count": bson.M{"$exists": false}},
		bson.M{"retry_count": bson.M{"$lt": 3}},
	}, f["$or"])

	// Each call returns a fresh map so keyset bounds never leak between pages.
	f["product_id"] = bson.M{"$gt": "x"}
	assert.NotContains(t, EligibleFilter(3), "product_id")
}

func TestRequeueFilter(t *testing.T) {
	t.Parallel()

	f := RequeueFilter(3)
	assert.Equal(t, "failed", f["status"])
	assert.Len(t, f["$or"], 2)
}

func TestUpdateModels(t *testing.T) {
	t.Parallel()

	models := UpdateModels([]model.ProductUpdate{
		{ProductID: "p1", Status: model.StatusProcessed, Name: "Ring", RetryCount: 1},
		{ProductID: "p2", Status: model.StatusFailed, RetryCount: 2},
	})
	require.Len(t, models, 2)

	ok, isUpdate := models[0].(*mongo.UpdateOneModel)
	require.True(t, isUpdate)
	assert.Equal(t, bson.M{"product_id": "p1"}, ok.Filter)
	assert.Equal(t, bson.M{"$set": bson.M{
		"status":       "processed",
		"retry_count":  1,
		"product_name": "Ring",
	}}, ok.Update)

	failed := models[1].(*mongo.UpdateOneModel)
	assert.Equal(t, bson.M{"$set": bson.M{"status": "failed", "retry_count": 2}}, failed.Update)
	assert.Nil(t, failed.Upsert)
}

func TestSeedModels(t *testing.T) {
	t.Parallel()

	models := SeedModels([]model.Product{
		{ProductID: "p1", CurrentURL: "https://shop.example.com/p1"},
		{ProductID: "p2"},
	})
	require.Len(t, models, 2)

	m := models[0].(*mongo.UpdateOneModel)
	require.NotNil(t, m.Upsert)
	assert.True(t, *m.Upsert)
	assert.Equal(t, bson.M{"$setOnInsert": bson.M{
		"product_id":   "p1",
		"product_name": nil,
		"status":       "pending",
		"current_url":  "https://shop.example.com/p1",
	}}, m.Update)

	noURL := models[1].(*mongo.UpdateOneModel)
	assert.NotContains(t, noURL.Update.(bson.M)["$setOnInsert"], "current_url")
}

func TestIPUpdateModels(t *testing.T) {
	t.Parallel()

	id := primitive.NewObjectID()
	loc := &model.Location{CountryCode: "VN", CountryName: "Viet Nam"}
	models := IPUpdateModels([]model.IPUpdate{
		{ID: id, Status: model.StatusDone, Location: loc},
		{ID: id, Status: model.StatusError},
	})
	require.Len(t, models, 2)
	done := models[0].(*mongo.UpdateOneModel)
	assert.Equal(t, bson.M{"_id": id}, done.Filter)
	assert.Equal(t, bson.M{"$set": bson.M{"status": "done", "location": loc}}, done.Update)
	assert.Equal(t, bson.M{"$set": bson.M{"status": "error"}}, models[1].(*mongo.UpdateOneModel).Update)
}

func TestToBulkResultToleratesWriteErrors(t *testing.T) {
	t.Parallel()

	res := &mongo.BulkWriteResult{MatchedCount: 2, ModifiedCount: 2}
	bwe := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
		{WriteError: mongo.WriteError{Index: 2, Code: 11000, Message: "duplicate key"}},
	}}

	out, err := toBulkResult(3, res, bwe)
	require.NoError(t, err)
	assert.Equal(t, model.BulkResult{Operations: 3, Matched: 2, Modified: 2, WriteErrors: 1}, out)
}

func TestToBulkResultSurfacesConnectivityErrors(t *testing.T) {
	t.Parallel()

	_, err := toBulkResult(1, nil, errors.New("server selection timeout"))
	require.Error(t, err)

	wce := mongo.BulkWriteException{WriteConcernError: &mongo.WriteConcernError{Code: 64, Message: "waiting for replication timed out"}}
	_, err = toBulkResult(1, nil, wce)
	require.Error(t, err)
}

func TestToInsertResultCountsRejectedDocuments(t *testing.T) {
	t.Parallel()

	res := &mongo.InsertManyResult{InsertedIDs: []any{1, 2, 3}}
	bwe := mongo.BulkWriteException{WriteErrors: []mongo.BulkWriteError{
		{WriteError: mongo.WriteError{Index: 1, Code: 11000, Message: "duplicate key"}},
	}}

	out, err := toInsertResult(3, res, bwe)
	require.NoError(t, err)
	assert.Equal(t, model.BulkResult{Operations: 3, Inserted: 2, WriteErrors: 1}, out)

	out, err = toInsertResult(3, res, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Inserted)
	assert.Zero(t, out.WriteErrors)
}

func TestToInsertResultSurfacesConnectivityErrors(t *testing.T) {
	t.Parallel()

	_, err := toInsertResult(2, nil, errors.New("connection reset"))
	require.Error(t, err)

	wce := mongo.BulkWriteException{WriteConcernError: &mongo.WriteConcernError{Code: 64, Message: "waiting for replication timed out"}}
	_, err = toInsertResult(2, nil, wce)
	require.Error(t, err)
}

func TestRunDocToRun(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	msg := "lost"
	now := time.Now().UTC()
	run, err := runDoc{
		ID: id.String(), Job: "crawl-names", StartedAt: now, Status: "error", Eligible: 7,
		Progress:     runProgressDoc{Pages: 2, Processed: 4, Rules: map[string]int64{"h1": 4}},
		ErrorMessage: &msg,
	}.toRun()
	require.NoError(t, err)
	assert.Equal(t, id, run.ID)
	assert.Equal(t, store.RunError, run.Status)
	assert.Equal(t, 2, run.Progress.Pages)
	assert.Equal(t, "lost", *run.ErrorMessage)

	_, err = runDoc{ID: "not-a-uuid"}.toRun()
	require.Error(t, err)
}

// TestProductsAgainstMongo exercises the queue against a live server when
// COUNTLY_TEST_MONGO_URI is set.
func TestProductsAgainstMongo(t *testing.T) {
	uri := os.Getenv("COUNTLY_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("COUNTLY_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := Connect(ctx, Options{URI: uri, Database: "countly_test_" + uuid.NewString()[:8], ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	defer func() { require.NoError(t, client.Close(context.Background())) }()

	products := client.Products("product_names")
	defer products.Collection().Drop(context.Background()) //nolint:errcheck // test cleanup

	_, err = products.Seed(ctx, []model.Product{
		{ProductID: "a", CurrentURL: "https://shop.example.com/a"},
		{ProductID: "b", CurrentURL: "https://shop.example.com/b"},
		{ProductID: "c"},
	})
	require.NoError(t, err)
	_, err = products.Collection().CreateUniqueIndex(ctx, "product_id")
	require.NoError(t, err)

	n, err := products.CountEligible(ctx, model.MaxRetries)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	page, err := products.NextEligible(ctx, "", 1, model.MaxRetries)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ProductID)

	res, err := products.ApplyUpdates(ctx, []model.ProductUpdate{
		{ProductID: "a", Status: model.StatusProcessed, Name: "Alpha", RetryCount: 1},
		{ProductID: "b", Status: model.StatusFailed, RetryCount: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Modified)

	n, err = products.CountEligible(ctx, model.MaxRetries)
	require.NoError(t, err)
	assert.Zero(t, n)

	requeued, err := products.RequeueFailed(ctx, model.MaxRetries)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)
}
