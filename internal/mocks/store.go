package mocks

import (
	"context"
	"io"

	"github.com/girvel/storagenode"
	"github.com/stretchr/testify/mock"
)

// MockFileStore implements the server's FileStore for testing across packages
type MockFileStore struct {
	mock.Mock
}

func (m *MockFileStore) Read(ctx context.Context, path string) (storagenode.Entry, error) {
	args := m.Called(ctx, path)

	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(storagenode.Entry), args.Error(1)
}

func (m *MockFileStore) Write(ctx context.Context, path string, r io.Reader) (int64, error) {
	args := m.Called(ctx, path, r)

	// Handle function return types so tests can consume the stream
	if fn, ok := args.Get(0).(func(context.Context, string, io.Reader) int64); ok {
		return fn(ctx, path, r), args.Error(1)
	}

	if args.Get(0) == nil {
		return 0, args.Error(1)
	}
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockFileStore) Delete(ctx context.Context, path string) error {
	args := m.Called(ctx, path)
	return args.Error(0)
}

// MockResolver implements the server's Resolver for testing across packages
type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) Resolve(rel string) (string, error) {
	args := m.Called(rel)
	return args.String(0), args.Error(1)
}
