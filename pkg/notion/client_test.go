package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *MockClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *MockClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func TestMockClientSatisfiesInterface(t *testing.T) {
	t.Parallel()
	var _ Client = (*MockClient)(nil)
}

func TestCreatePagePassthrough(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	want := &notionapi.Page{ID: "page-1"}
	mc.On("CreatePage", ctx, mock.AnythingOfType("*notionapi.PageCreateRequest")).
		Return(want, nil).Once()

	got, err := mc.CreatePage(ctx, &notionapi.PageCreateRequest{})
	assert.NoError(t, err)
	assert.Equal(t, want, got)
	mc.AssertExpectations(t)
}
