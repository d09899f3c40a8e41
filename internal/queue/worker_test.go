package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlens/devlens/internal/resilience"
)

// memQueue is a minimal in-memory Queue for worker routing tests.
type memQueue struct {
	mu        sync.Mutex
	pending   []*Task
	completed []string
	dropped   []string
	released  []string
}

func (m *memQueue) Enqueue(_ context.Context, name, teamID string, _ any, _ time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &Task{ID: name + "-id", Name: name, TeamID: teamID, MaxAttempts: 3}
	m.pending = append(m.pending, t)
	return t.ID, nil
}

func (m *memQueue) Claim(_ context.Context) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil, nil
	}
	t := m.pending[0]
	m.pending = m.pending[1:]
	t.Attempts++
	return t, nil
}

func (m *memQueue) Complete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, id)
	return nil
}

func (m *memQueue) Fail(_ context.Context, t *Task, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.Exhausted() {
		m.dropped = append(m.dropped, t.ID)
		return true, nil
	}
	m.released = append(m.released, t.ID)
	return false, nil
}

func (m *memQueue) Drop(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped = append(m.dropped, id)
	return nil
}

func (m *memQueue) Depth(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending), nil
}

func (m *memQueue) snapshot() (completed, dropped, released []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.completed...), append([]string{}, m.dropped...), append([]string{}, m.released...)
}

func runWorkerBriefly(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))
}

func TestWorker_RoutesToHandler(t *testing.T) {
	q := &memQueue{}
	_, err := q.Enqueue(context.Background(), "sync_members", "team-1", nil, 0)
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	w := NewWorker(q, WorkerConfig{Workers: 1, PollInterval: 10 * time.Millisecond})
	w.Register("sync_members", func(_ context.Context, task *Task) error {
		mu.Lock()
		seen = append(seen, task.TeamID)
		mu.Unlock()
		return nil
	})

	runWorkerBriefly(t, w)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"team-1"}, seen)
	completed, _, _ := q.snapshot()
	assert.Equal(t, []string{"sync_members-id"}, completed)
}

func TestWorker_UnknownTaskDropped(t *testing.T) {
	q := &memQueue{}
	_, err := q.Enqueue(context.Background(), "no_such_task", "team-1", nil, 0)
	require.NoError(t, err)

	w := NewWorker(q, WorkerConfig{Workers: 1, PollInterval: 10 * time.Millisecond})
	runWorkerBriefly(t, w)

	_, dropped, _ := q.snapshot()
	assert.Equal(t, []string{"no_such_task-id"}, dropped)
}

func TestWorker_FatalErrorDropped(t *testing.T) {
	q := &memQueue{}
	_, err := q.Enqueue(context.Background(), "process_batch", "team-1", nil, 0)
	require.NoError(t, err)

	w := NewWorker(q, WorkerConfig{Workers: 1, PollInterval: 10 * time.Millisecond})
	w.Register("process_batch", func(context.Context, *Task) error {
		return resilience.NewFatalError(eris.New("api key rejected"))
	})
	runWorkerBriefly(t, w)

	completed, dropped, released := q.snapshot()
	assert.Empty(t, completed)
	assert.Empty(t, released)
	assert.Equal(t, []string{"process_batch-id"}, dropped)
}

func TestWorker_TransientErrorReleased(t *testing.T) {
	q := &memQueue{}
	_, err := q.Enqueue(context.Background(), "sync_history", "team-1", nil, 0)
	require.NoError(t, err)

	w := NewWorker(q, WorkerConfig{Workers: 1, PollInterval: 10 * time.Millisecond})
	w.Register("sync_history", func(context.Context, *Task) error {
		return eris.New("connection reset by peer")
	})
	runWorkerBriefly(t, w)

	_, _, released := q.snapshot()
	assert.Contains(t, released, "sync_history-id")
}
