package notify

import (
	"context"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/pkg/notion"
)

type mockNotion struct {
	mock.Mock
}

func (m *mockNotion) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	args := m.Called(ctx, dbID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.DatabaseQueryResponse), args.Error(1)
}

func (m *mockNotion) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	args := m.Called(ctx, pageID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notionapi.Page), args.Error(1)
}

var _ notion.Client = (*mockNotion)(nil)

func testReadout() Readout {
	return Readout{
		Team: model.Team{ID: "team-1", Name: "platform", Org: "acme"},
		Periods: []model.MetricPeriod{{
			PeriodStart: time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC),
			PRCount:     12, AvgRiskScore: 0.3,
		}},
		Insights: []model.Insight{{
			RuleKey: "review_coverage_low", Title: "Review Coverage Low",
			Detail: "only 40% reviewed", Narrative: "Reviews are slipping.",
		}},
	}
}

func TestNotionPhaseComplete_CreatesPage(t *testing.T) {
	mc := new(mockNotion)
	mc.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	mc.On("CreatePage", mock.Anything, mock.MatchedBy(func(req *notionapi.PageCreateRequest) bool {
		if req.Parent.DatabaseID != "db-1" {
			return false
		}
		_, hasTitle := req.Properties["Name"]
		return hasTitle && len(req.Children) >= 2
	})).Return(&notionapi.Page{ID: "page-1"}, nil).Once()

	n := NewNotion(mc, "db-1")
	require.NoError(t, n.PhaseComplete(context.Background(), testReadout()))
	mc.AssertExpectations(t)
}

func TestNotionPhaseComplete_SkipsExistingPage(t *testing.T) {
	mc := new(mockNotion)
	mc.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{
			Results: []notionapi.Page{{ID: "page-1"}},
		}, nil).Once()

	n := NewNotion(mc, "db-1")
	require.NoError(t, n.PhaseComplete(context.Background(), testReadout()))
	mc.AssertNotCalled(t, "CreatePage", mock.Anything, mock.Anything)
}

func TestNotionResyncComplete_PropagatesError(t *testing.T) {
	mc := new(mockNotion)
	mc.On("QueryDatabase", mock.Anything, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()
	mc.On("CreatePage", mock.Anything, mock.Anything).Return(nil, assert.AnError).Once()

	n := NewNotion(mc, "db-1")
	err := n.ResyncComplete(context.Background(), testReadout())
	assert.Error(t, err)
}

func TestLogNotifier(t *testing.T) {
	var n Notifier = LogNotifier{}
	assert.NoError(t, n.PhaseComplete(context.Background(), testReadout()))
	assert.NoError(t, n.ResyncComplete(context.Background(), testReadout()))
}
