package enrich

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/internal/store"
	"github.com/devlens/devlens/pkg/anthropic"
)

// --- client mock ---

type mockClient struct {
	mock.Mock
}

func (m *mockClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func (m *mockClient) CreateBatch(ctx context.Context, req anthropic.BatchRequest) (*anthropic.BatchResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.BatchResponse), args.Error(1)
}

func (m *mockClient) GetBatch(ctx context.Context, batchID string) (*anthropic.BatchResponse, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.BatchResponse), args.Error(1)
}

func (m *mockClient) GetBatchResults(ctx context.Context, batchID string) (anthropic.BatchResultIterator, error) {
	args := m.Called(ctx, batchID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(anthropic.BatchResultIterator), args.Error(1)
}

type sliceIterator struct {
	items []anthropic.BatchResultItem
	pos   int
}

func newSliceIterator(items ...anthropic.BatchResultItem) *sliceIterator {
	return &sliceIterator{items: items, pos: -1}
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.items)
}
func (it *sliceIterator) Item() anthropic.BatchResultItem { return it.items[it.pos] }
func (it *sliceIterator) Err() error                      { return nil }
func (it *sliceIterator) Close() error                    { return nil }

func endedBatch(id string, succeeded, errored int64) *anthropic.BatchResponse {
	return &anthropic.BatchResponse{
		ID:               id,
		ProcessingStatus: "ended",
		RequestCounts:    anthropic.RequestCounts{Succeeded: succeeded, Errored: errored},
	}
}

func succeededItem(customID, body string) anthropic.BatchResultItem {
	return anthropic.BatchResultItem{
		CustomID: customID,
		Type:     "succeeded",
		Message: &anthropic.MessageResponse{
			Content: []anthropic.ContentBlock{{Type: "text", Text: body}},
			Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
		},
	}
}

func erroredItem(customID string) anthropic.BatchResultItem {
	return anthropic.BatchResultItem{CustomID: customID, Type: "errored"}
}

func primerResponse() *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "ok"}},
		Usage:   anthropic.TokenUsage{InputTokens: 500, OutputTokens: 10},
	}
}

func goodAnalysisJSON(summary string) string {
	return fmt.Sprintf(`{"summary": %q, "category": "fix", "risk_score": 0.3, "ai_assisted": false}`, summary)
}

// --- fixtures ---

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "enrich.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedTeamWithPRs returns the team id and PR storage ids keyed by number.
func seedTeamWithPRs(t *testing.T, st store.Store, n int) (string, map[int]string) {
	t.Helper()
	ctx := context.Background()
	team, err := st.CreateTeam(ctx, model.Team{Name: "platform", Org: "acme", Repos: []string{"acme/api"}})
	require.NoError(t, err)

	now := time.Now().UTC()
	prs := make([]model.PullRequest, 0, n)
	for i := 1; i <= n; i++ {
		prs = append(prs, model.PullRequest{
			TeamID: team.ID, Repo: "acme/api", Number: i,
			Title: fmt.Sprintf("change %d", i), Author: "alice",
			CreatedAt: now, UpdatedAt: now,
		})
	}
	_, err = st.UpsertPullRequests(ctx, prs)
	require.NoError(t, err)

	stored, err := st.ListPullRequests(ctx, team.ID, store.PRFilter{})
	require.NoError(t, err)
	ids := make(map[int]string, n)
	for _, pr := range stored {
		ids[pr.Number] = pr.ID
	}
	return team.ID, ids
}

func testConfig() Config {
	return Config{
		PrimaryModel:  "claude-haiku-4-5-20251001",
		FallbackModel: "claude-sonnet-4-5-20250929",
		PollInterval:  time.Millisecond,
		PollTimeout:   time.Second,
	}
}

// --- tests ---

func TestEnrichTeam_NothingPending(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	team, err := st.CreateTeam(ctx, model.Team{Name: "empty", Org: "acme"})
	require.NoError(t, err)

	client := new(mockClient)
	engine := NewEngine(st, client, testConfig())

	stats, err := engine.EnrichTeam(ctx, team.ID, PurposeOnboard)
	require.NoError(t, err)
	assert.Zero(t, stats.Submitted)
	client.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestEnrichTeam_AllSucceedFirstTier(t *testing.T) {
	st := newTestStore(t)
	teamID, ids := seedTeamWithPRs(t, st, 3)
	ctx := context.Background()

	items := make([]anthropic.BatchResultItem, 0, 3)
	for _, id := range ids {
		items = append(items, succeededItem(id, goodAnalysisJSON("small fix")))
	}

	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(primerResponse(), nil).Once()
	client.On("CreateBatch", mock.Anything, mock.Anything).Return(endedBatch("batch-1", 3, 0), nil).Once()
	client.On("GetBatch", mock.Anything, "batch-1").Return(endedBatch("batch-1", 3, 0), nil)
	client.On("GetBatchResults", mock.Anything, "batch-1").Return(newSliceIterator(items...), nil).Once()

	engine := NewEngine(st, client, testConfig())
	stats, err := engine.EnrichTeam(ctx, teamID, PurposeOnboard)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.Submitted)
	assert.Equal(t, 3, stats.Succeeded)
	assert.Zero(t, stats.Retried)
	assert.Zero(t, stats.Failed)

	// No fallback batch was submitted.
	client.AssertNumberOfCalls(t, "CreateBatch", 1)

	pending, err := st.ListPullRequests(ctx, teamID, store.PRFilter{OnlyUnanalyzed: true})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// Twelve PRs: one provider rejection and two local parse failures go to the
// fallback model as a single union; the fallback recovers two and the last
// one gets a terminal failure marker. No third submission happens.
func TestEnrichTeam_FallbackUnionAndMerge(t *testing.T) {
	st := newTestStore(t)
	teamID, ids := seedTeamWithPRs(t, st, 12)
	ctx := context.Background()

	primary := make([]anthropic.BatchResultItem, 0, 12)
	for n, id := range ids {
		switch n {
		case 3:
			primary = append(primary, erroredItem(id))
		case 5:
			primary = append(primary, succeededItem(id, "this is not json"))
		case 7:
			// Parses but fails validation: risk out of range.
			primary = append(primary, succeededItem(id, `{"summary": "x", "category": "fix", "risk_score": 1.5}`))
		default:
			primary = append(primary, succeededItem(id, goodAnalysisJSON(fmt.Sprintf("primary %d", n))))
		}
	}
	fallback := []anthropic.BatchResultItem{
		succeededItem(ids[3], goodAnalysisJSON("recovered 3")),
		succeededItem(ids[5], goodAnalysisJSON("recovered 5")),
		erroredItem(ids[7]),
	}

	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(primerResponse(), nil).Twice()
	client.On("CreateBatch", mock.Anything, mock.MatchedBy(func(req anthropic.BatchRequest) bool {
		return len(req.Requests) == 12
	})).Return(endedBatch("batch-1", 9, 3), nil).Once()
	client.On("CreateBatch", mock.Anything, mock.MatchedBy(func(req anthropic.BatchRequest) bool {
		return len(req.Requests) == 3
	})).Return(endedBatch("batch-2", 2, 1), nil).Once()
	client.On("GetBatch", mock.Anything, "batch-1").Return(endedBatch("batch-1", 9, 3), nil)
	client.On("GetBatch", mock.Anything, "batch-2").Return(endedBatch("batch-2", 2, 1), nil)
	client.On("GetBatchResults", mock.Anything, "batch-1").Return(newSliceIterator(primary...), nil).Once()
	client.On("GetBatchResults", mock.Anything, "batch-2").Return(newSliceIterator(fallback...), nil).Once()

	engine := NewEngine(st, client, testConfig())
	stats, err := engine.EnrichTeam(ctx, teamID, PurposeOnboard)
	require.NoError(t, err)

	assert.Equal(t, 12, stats.Submitted)
	assert.Equal(t, 1, stats.ProviderFailures)
	assert.Equal(t, 2, stats.ParseFailures)
	assert.Equal(t, 3, stats.Retried)
	assert.Equal(t, 2, stats.Recovered)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 11, stats.Succeeded)

	// Exactly two submissions total: there is no third tier.
	client.AssertNumberOfCalls(t, "CreateBatch", 2)

	all, err := st.ListPullRequests(ctx, teamID, store.PRFilter{})
	require.NoError(t, err)
	byID := make(map[string]model.PullRequest, len(all))
	for _, pr := range all {
		byID[pr.ID] = pr
	}

	// Fallback results replaced only the retried ids.
	require.NotNil(t, byID[ids[3]].Analysis)
	assert.Equal(t, "recovered 3", byID[ids[3]].Analysis.Summary)
	assert.Equal(t, "claude-sonnet-4-5-20250929", byID[ids[3]].Analysis.Model)
	require.NotNil(t, byID[ids[1]].Analysis)
	assert.Equal(t, "primary 1", byID[ids[1]].Analysis.Summary)
	assert.Equal(t, "claude-haiku-4-5-20251001", byID[ids[1]].Analysis.Model)

	// The unrecoverable item carries a terminal marker and left the
	// pending set.
	require.NotNil(t, byID[ids[7]].Analysis)
	assert.True(t, byID[ids[7]].Analysis.Failed)
	assert.Contains(t, byID[ids[7]].Analysis.Error, "provider")

	pending, err := st.ListPullRequests(ctx, teamID, store.PRFilter{OnlyUnanalyzed: true})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// A redelivered task finds the batch job recorded by its first delivery
// and polls it instead of submitting a duplicate.
func TestEnrichTeam_ResumesOpenBatch(t *testing.T) {
	st := newTestStore(t)
	teamID, ids := seedTeamWithPRs(t, st, 2)
	ctx := context.Background()

	require.NoError(t, st.RecordBatchJob(ctx, model.BatchJob{
		TeamID:  teamID,
		BatchID: "batch-open",
		Purpose: PurposeOnboard + "_primary",
		Model:   "claude-haiku-4-5-20251001",
	}))

	items := make([]anthropic.BatchResultItem, 0, 2)
	for _, id := range ids {
		items = append(items, succeededItem(id, goodAnalysisJSON("resumed")))
	}

	client := new(mockClient)
	client.On("GetBatch", mock.Anything, "batch-open").Return(endedBatch("batch-open", 2, 0), nil)
	client.On("GetBatchResults", mock.Anything, "batch-open").Return(newSliceIterator(items...), nil).Once()

	engine := NewEngine(st, client, testConfig())
	stats, err := engine.EnrichTeam(ctx, teamID, PurposeOnboard)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Succeeded)

	client.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
	client.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)

	// The resumed job is closed once collected.
	open, err := st.OpenBatchJob(ctx, teamID, PurposeOnboard+"_primary")
	require.NoError(t, err)
	assert.Nil(t, open)
}

// A fresh submit is preceded by exactly one single-message request reusing
// the first batch item, so the cache-marked system prompt is warm when the
// batch lands. Its tokens count toward the run, and a primer error never
// blocks the submit.
func TestEnrichTeam_PrimerWarmsCacheBeforeSubmit(t *testing.T) {
	st := newTestStore(t)
	teamID, ids := seedTeamWithPRs(t, st, 2)
	ctx := context.Background()

	items := make([]anthropic.BatchResultItem, 0, 2)
	for _, id := range ids {
		items = append(items, succeededItem(id, goodAnalysisJSON("warm")))
	}

	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return len(req.System) == 1 && req.System[0].CacheControl != nil
	})).Return(primerResponse(), nil).Once()
	client.On("CreateBatch", mock.Anything, mock.Anything).Return(endedBatch("batch-1", 2, 0), nil).Once()
	client.On("GetBatch", mock.Anything, "batch-1").Return(endedBatch("batch-1", 2, 0), nil)
	client.On("GetBatchResults", mock.Anything, "batch-1").Return(newSliceIterator(items...), nil).Once()

	engine := NewEngine(st, client, testConfig())
	stats, err := engine.EnrichTeam(ctx, teamID, PurposeOnboard)
	require.NoError(t, err)

	client.AssertExpectations(t)
	assert.Equal(t, 2, stats.Succeeded)
	// 2 result items at 100 input tokens each, plus the primer's 500.
	assert.Equal(t, int64(700), stats.InputTokens)
}

func TestEnrichTeam_PrimerFailureDoesNotBlockSubmit(t *testing.T) {
	st := newTestStore(t)
	teamID, ids := seedTeamWithPRs(t, st, 1)
	ctx := context.Background()

	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("overloaded")).Once()
	client.On("CreateBatch", mock.Anything, mock.Anything).Return(endedBatch("batch-1", 1, 0), nil).Once()
	client.On("GetBatch", mock.Anything, "batch-1").Return(endedBatch("batch-1", 1, 0), nil)
	client.On("GetBatchResults", mock.Anything, "batch-1").
		Return(newSliceIterator(succeededItem(ids[1], goodAnalysisJSON("fine"))), nil).Once()

	engine := NewEngine(st, client, testConfig())
	stats, err := engine.EnrichTeam(ctx, teamID, PurposeOnboard)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
}

// Results for ids outside the submitted set are ignored rather than
// written through.
func TestEnrichTeam_UnknownCustomIDIgnored(t *testing.T) {
	st := newTestStore(t)
	teamID, ids := seedTeamWithPRs(t, st, 1)
	ctx := context.Background()

	items := []anthropic.BatchResultItem{
		succeededItem(ids[1], goodAnalysisJSON("known")),
		succeededItem("stranger", goodAnalysisJSON("unknown")),
	}

	client := new(mockClient)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(primerResponse(), nil).Once()
	client.On("CreateBatch", mock.Anything, mock.Anything).Return(endedBatch("batch-1", 2, 0), nil).Once()
	client.On("GetBatch", mock.Anything, "batch-1").Return(endedBatch("batch-1", 2, 0), nil)
	client.On("GetBatchResults", mock.Anything, "batch-1").Return(newSliceIterator(items...), nil).Once()

	engine := NewEngine(st, client, testConfig())
	stats, err := engine.EnrichTeam(ctx, teamID, PurposeOnboard)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Zero(t, stats.Failed)
}
