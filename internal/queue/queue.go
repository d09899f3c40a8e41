// Package queue implements the distributed task queue the pipeline
// dispatches work through. Delivery is at-least-once: a claimed task
// whose worker dies reappears after its lease expires, so handlers must
// be idempotent.
package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Task is one unit of queued work. Args carries the handler's payload;
// TeamID is threaded explicitly so a task is self-describing.
type Task struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	TeamID      string          `json:"team_id"`
	Args        json.RawMessage `json:"args"`
	RunAt       time.Time       `json:"run_at"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	CreatedAt   time.Time       `json:"created_at"`
}

// UnmarshalArgs decodes the task payload into v.
func (t *Task) UnmarshalArgs(v any) error {
	if len(t.Args) == 0 {
		return nil
	}
	return eris.Wrapf(json.Unmarshal(t.Args, v), "queue: unmarshal args for %s", t.Name)
}

// Exhausted reports whether the task has used up its delivery attempts.
func (t *Task) Exhausted() bool {
	return t.Attempts >= t.MaxAttempts
}

// Queue is the persistence contract for task dispatch. Claim hands out
// at most one task per call and bumps its attempt counter; the caller
// must finish with Complete, Fail, or Drop.
type Queue interface {
	// Enqueue schedules a task to run after the given delay.
	Enqueue(ctx context.Context, name, teamID string, args any, delay time.Duration) (string, error)
	// Claim leases the next due task, or returns nil when the queue has
	// no eligible work. Tasks whose lease expired are claimable again.
	Claim(ctx context.Context) (*Task, error)
	// Complete removes a finished task.
	Complete(ctx context.Context, taskID string) error
	// Fail releases a task for redelivery after backoff, or removes it
	// when attempts are exhausted. It reports whether the task was dropped.
	Fail(ctx context.Context, task *Task, backoff time.Duration) (bool, error)
	// Drop removes a task without redelivery, used for fatal errors.
	Drop(ctx context.Context, taskID string) error
	// Depth counts tasks currently waiting or leased.
	Depth(ctx context.Context) (int, error)
}

// Options tunes claim behavior shared by both backends.
type Options struct {
	Lease       time.Duration
	MaxAttempts int
}

func (o *Options) withDefaults() Options {
	out := Options{Lease: 15 * time.Minute, MaxAttempts: 3}
	if o != nil {
		if o.Lease > 0 {
			out.Lease = o.Lease
		}
		if o.MaxAttempts > 0 {
			out.MaxAttempts = o.MaxAttempts
		}
	}
	return out
}

func newTask(name, teamID string, args any, delay time.Duration, maxAttempts int) (*Task, error) {
	payload := json.RawMessage(`{}`)
	if args != nil {
		b, err := json.Marshal(args)
		if err != nil {
			return nil, eris.Wrapf(err, "queue: marshal args for %s", name)
		}
		payload = b
	}
	now := time.Now().UTC()
	return &Task{
		ID:          uuid.New().String(),
		Name:        name,
		TeamID:      teamID,
		Args:        payload,
		RunAt:       now.Add(delay),
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
	}, nil
}
