package notion

import (
	"context"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestQueryAll_SinglePage(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.AnythingOfType("*notionapi.DatabaseQueryRequest")).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{{ID: "p1"}, {ID: "p2"}},
			HasMore: false,
		}, nil).Once()

	pages, err := QueryAll(ctx, mc, "db-1", nil)
	assert.NoError(t, err)
	assert.Len(t, pages, 2)
	mc.AssertExpectations(t)
}

func TestQueryAll_MultiPage(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == ""
	})).Return(&notionapi.DatabaseQueryResponse{
		Results:    []notionapi.Page{{ID: "p1"}},
		HasMore:    true,
		NextCursor: notionapi.Cursor("cursor-abc"),
	}, nil).Once()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		return req.StartCursor == notionapi.Cursor("cursor-abc")
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "p2"}},
		HasMore: false,
	}, nil).Once()

	pages, err := QueryAll(ctx, mc, "db-1", nil)
	assert.NoError(t, err)
	assert.Len(t, pages, 2)
	assert.Equal(t, notionapi.ObjectID("p1"), pages[0].ID)
	assert.Equal(t, notionapi.ObjectID("p2"), pages[1].ID)
	mc.AssertExpectations(t)
}

func TestQueryAll_Error(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-err", mock.Anything).Return(nil, assert.AnError).Once()

	pages, err := QueryAll(ctx, mc, "db-err", nil)
	assert.Error(t, err)
	assert.Nil(t, pages)
	mc.AssertExpectations(t)
}

func TestFindPageByTitle_Found(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == "Name" && pf.RichText != nil && pf.RichText.Equals == "platform — onboarding"
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "page-1"}},
	}, nil).Once()

	page, err := FindPageByTitle(ctx, mc, "db-1", "platform — onboarding")
	assert.NoError(t, err)
	assert.NotNil(t, page)
	assert.Equal(t, notionapi.ObjectID("page-1"), page.ID)
	mc.AssertExpectations(t)
}

func TestFindPageByTitle_Missing(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()

	page, err := FindPageByTitle(ctx, mc, "db-1", "missing")
	assert.NoError(t, err)
	assert.Nil(t, page)
}
