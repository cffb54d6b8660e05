// Package memory keeps uploaded objects in process memory. It backs tests and
// dry runs of the export upload path.
package memory

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// BlobStore stores objects in-memory and returns memory:// URIs.
type BlobStore struct {
	mu           sync.RWMutex
	data         map[string][]byte
	contentTypes map[string]string
}

// NewBlobStore creates an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data:         make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

// PutObject reads r fully and stores it under objectName.
func (s *BlobStore) PutObject(_ context.Context, objectName string, contentType string, r io.Reader) (string, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", objectName, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[objectName] = body
	s.contentTypes[objectName] = contentType
	return "memory://" + objectName, nil
}

// Get returns a copy of the stored object.
func (s *BlobStore) Get(objectName string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[objectName]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), body...), s.contentTypes[objectName], true
}

// Objects lists the stored object names in sorted order.
func (s *BlobStore) Objects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.data))
	for name := range s.data {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
