package queue

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

const testTasksDDL = `
CREATE TABLE tasks (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	team_id      TEXT NOT NULL,
	args         TEXT NOT NULL DEFAULT '{}',
	run_at       DATETIME NOT NULL,
	claimed_at   DATETIME,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	created_at   DATETIME NOT NULL
);`

func newTestQueue(t *testing.T, opts *Options) *SQLiteQueue {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck
	_, err = db.Exec(testTasksDDL)
	require.NoError(t, err)
	return NewSQLite(db, opts)
}

func TestQueue_EnqueueClaimComplete(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, "sync_members", "team-1", map[string]string{"org": "acme"}, 0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	task, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "sync_members", task.Name)
	assert.Equal(t, "team-1", task.TeamID)
	assert.Equal(t, 1, task.Attempts)

	var args map[string]string
	require.NoError(t, task.UnmarshalArgs(&args))
	assert.Equal(t, "acme", args["org"])

	require.NoError(t, q.Complete(ctx, task.ID))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueue_ClaimEmpty(t *testing.T) {
	q := newTestQueue(t, nil)

	task, err := q.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestQueue_DelayedTaskNotDue(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "sync_history", "team-1", nil, time.Hour)
	require.NoError(t, err)

	task, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, task)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}

func TestQueue_ClaimedTaskInvisibleDuringLease(t *testing.T) {
	q := newTestQueue(t, &Options{Lease: time.Hour})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "process_batch", "team-1", nil, 0)
	require.NoError(t, err)

	first, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestQueue_ExpiredLeaseReclaimable(t *testing.T) {
	// Lease of a millisecond expires immediately, simulating a dead worker.
	q := newTestQueue(t, &Options{Lease: time.Millisecond})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "process_batch", "team-1", nil, 0)
	require.NoError(t, err)

	first, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)

	time.Sleep(5 * time.Millisecond)
	second, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 2, second.Attempts)
}

func TestQueue_FailReleasesWithBackoff(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "sync_members", "team-1", nil, 0)
	require.NoError(t, err)

	task, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	dropped, err := q.Fail(ctx, task, time.Hour)
	require.NoError(t, err)
	assert.False(t, dropped)

	// Not due again until the backoff elapses.
	again, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestQueue_FailDropsWhenExhausted(t *testing.T) {
	q := newTestQueue(t, &Options{MaxAttempts: 1})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "sync_members", "team-1", nil, 0)
	require.NoError(t, err)

	task, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	require.True(t, task.Exhausted())

	dropped, err := q.Fail(ctx, task, 0)
	require.NoError(t, err)
	assert.True(t, dropped)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueue_Drop(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "sync_members", "team-1", nil, 0)
	require.NoError(t, err)

	task, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)

	require.NoError(t, q.Drop(ctx, task.ID))
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestQueue_ClaimOrderedByRunAt(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	// Enqueue out of order; the older run_at should come back first.
	_, err := q.Enqueue(ctx, "later", "team-1", nil, -time.Minute)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "earlier", "team-1", nil, -time.Hour)
	require.NoError(t, err)

	task, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "earlier", task.Name)
}
