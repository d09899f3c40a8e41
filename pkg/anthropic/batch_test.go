package anthropic

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPollBatch_CompletesImmediately(t *testing.T) {
	mc := new(MockClient)

	mc.On("GetBatch", mock.Anything, "batch_123").Return(&BatchResponse{
		ID:               "batch_123",
		ProcessingStatus: "ended",
		RequestCounts:    RequestCounts{Succeeded: 5},
	}, nil)

	resp, err := PollBatch(context.Background(), mc, "batch_123",
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, "ended", resp.ProcessingStatus)
	assert.Equal(t, int64(5), resp.RequestCounts.Succeeded)

	mc.AssertExpectations(t)
}

// countingGetBatchMock returns in_progress until the threshold call, then
// the terminal response.
type countingGetBatchMock struct {
	MockClient
	calls     atomic.Int32
	threshold int32
	endResp   *BatchResponse
}

func (m *countingGetBatchMock) GetBatch(_ context.Context, batchID string) (*BatchResponse, error) {
	n := m.calls.Add(1)
	if n < m.threshold {
		return &BatchResponse{
			ID:               batchID,
			ProcessingStatus: "in_progress",
		}, nil
	}
	return m.endResp, nil
}

func TestPollBatch_CompletesAfterPolls(t *testing.T) {
	mc := &countingGetBatchMock{
		threshold: 3,
		endResp: &BatchResponse{
			ID:               "batch_456",
			ProcessingStatus: "ended",
			RequestCounts:    RequestCounts{Succeeded: 10},
		},
	}

	resp, err := PollBatch(context.Background(), mc, "batch_456",
		WithPollInterval(10*time.Millisecond),
	)
	require.NoError(t, err)
	assert.Equal(t, "ended", resp.ProcessingStatus)
	assert.Equal(t, int32(3), mc.calls.Load())
}

func TestPollBatch_DeadlineBoundsWait(t *testing.T) {
	mc := new(MockClient)
	mc.On("GetBatch", mock.Anything, "batch_slow").Return(&BatchResponse{
		ID:               "batch_slow",
		ProcessingStatus: "in_progress",
	}, nil)

	start := time.Now()
	_, err := PollBatch(context.Background(), mc, "batch_slow",
		WithPollInterval(10*time.Millisecond),
		WithPollTimeout(50*time.Millisecond),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPollBatch_Expired(t *testing.T) {
	mc := new(MockClient)
	mc.On("GetBatch", mock.Anything, "batch_exp").Return(&BatchResponse{
		ID:               "batch_exp",
		ProcessingStatus: "expired",
	}, nil)

	resp, err := PollBatch(context.Background(), mc, "batch_exp",
		WithPollInterval(10*time.Millisecond),
	)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, "expired", resp.ProcessingStatus)
}

func TestPollBatch_CallerCancellation(t *testing.T) {
	mc := new(MockClient)
	mc.On("GetBatch", mock.Anything, "batch_cancel").Return(&BatchResponse{
		ID:               "batch_cancel",
		ProcessingStatus: "in_progress",
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(25 * time.Millisecond)
		cancel()
	}()

	_, err := PollBatch(ctx, mc, "batch_cancel",
		WithPollInterval(10*time.Millisecond),
		WithPollTimeout(10*time.Second),
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectArtifacts_SplitsChannels(t *testing.T) {
	iter := newSliceIterator(
		BatchResultItem{CustomID: "pr-1", Type: "succeeded", Message: &MessageResponse{ID: "m1"}},
		BatchResultItem{CustomID: "pr-2", Type: "errored"},
		BatchResultItem{CustomID: "pr-3", Type: "succeeded", Message: &MessageResponse{ID: "m3"}},
		BatchResultItem{CustomID: "pr-4", Type: "expired"},
	)

	arts, err := CollectArtifacts(iter)
	require.NoError(t, err)

	assert.Len(t, arts.Results, 2)
	assert.Contains(t, arts.Results, "pr-1")
	assert.Contains(t, arts.Results, "pr-3")

	require.Len(t, arts.Failures, 2)
	assert.ElementsMatch(t, []string{"pr-2", "pr-4"}, arts.FailedIDs())
	assert.Equal(t, "errored", arts.Failures[0].Type)
}

func TestCollectArtifacts_Empty(t *testing.T) {
	arts, err := CollectArtifacts(newSliceIterator())
	require.NoError(t, err)
	assert.Empty(t, arts.Results)
	assert.Empty(t, arts.Failures)
}

func TestBatchResponse_Ended(t *testing.T) {
	assert.True(t, (&BatchResponse{ProcessingStatus: "ended"}).Ended())
	assert.True(t, (&BatchResponse{ProcessingStatus: "expired"}).Ended())
	assert.False(t, (&BatchResponse{ProcessingStatus: "in_progress"}).Ended())
}
