package anthropic

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient is a testify mock implementing Client, shared by tests in this
// package and by the enrichment engine tests via a local copy of the pattern.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func (m *MockClient) CreateBatch(ctx context.Context, req BatchRequest) (*BatchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BatchResponse), args.Error(1)
}

func (m *MockClient) GetBatch(ctx context.Context, batchID string) (*BatchResponse, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*BatchResponse), args.Error(1)
}

func (m *MockClient) GetBatchResults(ctx context.Context, batchID string) (BatchResultIterator, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(BatchResultIterator), args.Error(1)
}

// sliceIterator is an in-memory BatchResultIterator for tests.
type sliceIterator struct {
	items []BatchResultItem
	pos   int
	err   error
}

func newSliceIterator(items ...BatchResultItem) *sliceIterator {
	return &sliceIterator{items: items}
}

func (it *sliceIterator) Next() bool {
	if it.pos >= len(it.items) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Item() BatchResultItem {
	return it.items[it.pos-1]
}

func (it *sliceIterator) Err() error   { return it.err }
func (it *sliceIterator) Close() error { return nil }
