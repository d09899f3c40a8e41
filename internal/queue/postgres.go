package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/devlens/devlens/internal/db"
)

// PGQueue stores tasks in the shared Postgres database. Claims use
// FOR UPDATE SKIP LOCKED so concurrent workers never hand out the same
// task twice within a lease.
type PGQueue struct {
	pool db.Pool
	opts Options
}

func NewPG(pool db.Pool, opts *Options) *PGQueue {
	return &PGQueue{pool: pool, opts: opts.withDefaults()}
}

func (q *PGQueue) Enqueue(ctx context.Context, name, teamID string, args any, delay time.Duration) (string, error) {
	task, err := newTask(name, teamID, args, delay, q.opts.MaxAttempts)
	if err != nil {
		return "", err
	}
	_, err = q.pool.Exec(ctx,
		`INSERT INTO tasks (id, name, team_id, args, run_at, attempts, max_attempts, created_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		task.ID, task.Name, task.TeamID, []byte(task.Args), task.RunAt, task.MaxAttempts, task.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrapf(err, "queue: enqueue %s", name)
	}
	return task.ID, nil
}

func (q *PGQueue) Claim(ctx context.Context) (*Task, error) {
	now := time.Now().UTC()
	var t Task
	var args []byte

	err := q.pool.QueryRow(ctx,
		`UPDATE tasks SET claimed_at = $1, attempts = attempts + 1
		 WHERE id = (
		   SELECT id FROM tasks
		   WHERE run_at <= $1
		     AND (claimed_at IS NULL OR claimed_at < $2)
		     AND attempts < max_attempts
		   ORDER BY run_at
		   LIMIT 1
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING id, name, team_id, args, run_at, attempts, max_attempts, created_at`,
		now, now.Add(-q.opts.Lease),
	).Scan(&t.ID, &t.Name, &t.TeamID, &args, &t.RunAt, &t.Attempts, &t.MaxAttempts, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "queue: claim")
	}
	t.Args = args
	return &t, nil
}

func (q *PGQueue) Complete(ctx context.Context, taskID string) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	return eris.Wrapf(err, "queue: complete %s", taskID)
}

func (q *PGQueue) Fail(ctx context.Context, task *Task, backoff time.Duration) (bool, error) {
	if task.Exhausted() {
		if err := q.Drop(ctx, task.ID); err != nil {
			return false, err
		}
		return true, nil
	}
	_, err := q.pool.Exec(ctx,
		`UPDATE tasks SET claimed_at = NULL, run_at = $1 WHERE id = $2`,
		time.Now().UTC().Add(backoff), task.ID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "queue: release %s", task.ID)
	}
	return false, nil
}

func (q *PGQueue) Drop(ctx context.Context, taskID string) error {
	_, err := q.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, taskID)
	return eris.Wrapf(err, "queue: drop %s", taskID)
}

func (q *PGQueue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx, `SELECT count(*) FROM tasks`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "queue: depth")
	}
	return n, nil
}

var _ Queue = (*PGQueue)(nil)
