package storage

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a testify mock of Provider. The reader is drained into a
// []byte before the call is recorded so expectations can match on content.
type MockProvider struct {
	mock.Mock
}

// PutObject records the call.
func (m *MockProvider) PutObject(ctx context.Context, objectName string, contentType string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	args := m.Called(ctx, objectName, contentType, data)
	return args.String(0), args.Error(1) //nolint:wrapcheck
}
