package queue

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
)

// SQLiteQueue stores tasks in the shared SQLite database. SQLite has no
// SKIP LOCKED; the claim is a conditional UPDATE re-checked by rows
// affected, which is safe because only one process writes in the dev
// setup this backend serves.
type SQLiteQueue struct {
	db   *sql.DB
	opts Options
}

func NewSQLite(db *sql.DB, opts *Options) *SQLiteQueue {
	return &SQLiteQueue{db: db, opts: opts.withDefaults()}
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, name, teamID string, args any, delay time.Duration) (string, error) {
	task, err := newTask(name, teamID, args, delay, q.opts.MaxAttempts)
	if err != nil {
		return "", err
	}
	_, err = q.db.ExecContext(ctx,
		`INSERT INTO tasks (id, name, team_id, args, run_at, attempts, max_attempts, created_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		task.ID, task.Name, task.TeamID, string(task.Args), task.RunAt, task.MaxAttempts, task.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrapf(err, "queue: enqueue %s", name)
	}
	return task.ID, nil
}

func (q *SQLiteQueue) Claim(ctx context.Context) (*Task, error) {
	now := time.Now().UTC()
	leaseCutoff := now.Add(-q.opts.Lease)

	for {
		var t Task
		var args string
		err := q.db.QueryRowContext(ctx,
			`SELECT id, name, team_id, args, run_at, attempts, max_attempts, created_at
			 FROM tasks
			 WHERE run_at <= ?
			   AND (claimed_at IS NULL OR claimed_at < ?)
			   AND attempts < max_attempts
			 ORDER BY run_at LIMIT 1`,
			now, leaseCutoff,
		).Scan(&t.ID, &t.Name, &t.TeamID, &args, &t.RunAt, &t.Attempts, &t.MaxAttempts, &t.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "queue: claim select")
		}

		res, err := q.db.ExecContext(ctx,
			`UPDATE tasks SET claimed_at = ?, attempts = attempts + 1
			 WHERE id = ? AND (claimed_at IS NULL OR claimed_at < ?)`,
			now, t.ID, leaseCutoff,
		)
		if err != nil {
			return nil, eris.Wrap(err, "queue: claim update")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, eris.Wrap(err, "queue: claim rows affected")
		}
		if n == 0 {
			// Lost the race to another worker; try the next candidate.
			continue
		}
		t.Attempts++
		t.Args = []byte(args)
		return &t, nil
	}
}

func (q *SQLiteQueue) Complete(ctx context.Context, taskID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	return eris.Wrapf(err, "queue: complete %s", taskID)
}

func (q *SQLiteQueue) Fail(ctx context.Context, task *Task, backoff time.Duration) (bool, error) {
	if task.Exhausted() {
		if err := q.Drop(ctx, task.ID); err != nil {
			return false, err
		}
		return true, nil
	}
	_, err := q.db.ExecContext(ctx,
		`UPDATE tasks SET claimed_at = NULL, run_at = ? WHERE id = ?`,
		time.Now().UTC().Add(backoff), task.ID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "queue: release %s", task.ID)
	}
	return false, nil
}

func (q *SQLiteQueue) Drop(ctx context.Context, taskID string) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	return eris.Wrapf(err, "queue: drop %s", taskID)
}

func (q *SQLiteQueue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT count(*) FROM tasks`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "queue: depth")
	}
	return n, nil
}

var _ Queue = (*SQLiteQueue)(nil)
