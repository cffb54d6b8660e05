package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "exports/summary_batch_1.parquet", "application/octet-stream", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://exports/summary_batch_1.parquet" {
		t.Fatalf("unexpected uri %s", uri)
	}
	payload[0] = 'C'
	got, ct, ok := store.Get("exports/summary_batch_1.parquet")
	if !ok || string(got) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", got)
	}
	if ct != "application/octet-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	got[0] = 'X'
	if again, _, _ := store.Get("exports/summary_batch_1.parquet"); string(again) != "content" {
		t.Fatalf("Get should return a copy, got %q", again)
	}
}

func TestBlobStoreObjectsSorted(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	for _, name := range []string{"b", "a", "c"} {
		if _, err := store.PutObject(context.Background(), name, "", bytes.NewReader(nil)); err != nil {
			t.Fatalf("PutObject(%s) error = %v", name, err)
		}
	}
	objs := store.Objects()
	if len(objs) != 3 || objs[0] != "a" || objs[2] != "c" {
		t.Fatalf("unexpected objects %v", objs)
	}
	if _, _, ok := store.Get("missing"); ok {
		t.Fatal("expected missing object")
	}
}
