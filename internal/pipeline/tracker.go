package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/internal/queue"
	"github.com/devlens/devlens/internal/store"
)

// Tracker owns the status-write-and-dispatch step. Every status change
// flows through SetStatus: the write is persisted first, and only a write
// that actually changed the value enqueues the stage's work unit. The
// small dispatch delay lets the status transaction settle before a worker
// on another host claims the task.
type Tracker struct {
	store         store.Store
	queue         queue.Queue
	dispatchDelay time.Duration
	logger        *zap.Logger
}

func NewTracker(st store.Store, q queue.Queue, dispatchDelay time.Duration) *Tracker {
	return &Tracker{
		store:         st,
		queue:         q,
		dispatchDelay: dispatchDelay,
		logger:        zap.L().Named("pipeline"),
	}
}

// SetStatus persists the status and dispatches its work unit. Writing a
// value equal to the stored one is a no-op: nothing is enqueued, which is
// what makes duplicate deliveries of the same stage harmless.
func (t *Tracker) SetStatus(ctx context.Context, teamID string, status model.PipelineStatus) error {
	if !status.Valid() {
		return eris.Errorf("pipeline: invalid status %q", status)
	}

	changed, err := t.store.SetPipelineStatus(ctx, teamID, status)
	if err != nil {
		return err
	}
	if !changed {
		t.logger.Debug("status unchanged, no dispatch",
			zap.String("team_id", teamID),
			zap.String("status", string(status)))
		return nil
	}

	t.logger.Info("status advanced",
		zap.String("team_id", teamID),
		zap.String("status", string(status)),
		zap.Int("percent", status.Percent()))

	return t.dispatch(ctx, teamID, status)
}

// Nudge refreshes the status timestamp and force-dispatches the current
// stage's work unit even though the value did not change. This is the
// recovery path for teams stalled mid-stage.
func (t *Tracker) Nudge(ctx context.Context, teamID string) error {
	team, err := t.store.TouchPipelineStatus(ctx, teamID)
	if err != nil {
		return err
	}

	t.logger.Warn("nudging stalled team",
		zap.String("team_id", teamID),
		zap.String("status", string(team.PipelineStatus)))

	return t.dispatch(ctx, teamID, team.PipelineStatus)
}

// StartOnboarding kicks a not_started team into the pipeline.
func (t *Tracker) StartOnboarding(ctx context.Context, teamID string) error {
	return t.SetStatus(ctx, teamID, model.StatusSyncingMembers)
}

func (t *Tracker) dispatch(ctx context.Context, teamID string, status model.PipelineStatus) error {
	tr, ok := Transitions[status]
	if !ok {
		// Terminal or pre-start status: the write stands on its own.
		return nil
	}
	taskID, err := t.queue.Enqueue(ctx, tr.Task, teamID, nil, t.dispatchDelay)
	if err != nil {
		return eris.Wrapf(err, "pipeline: dispatch %s for %s", tr.Task, teamID)
	}
	t.logger.Debug("work unit dispatched",
		zap.String("team_id", teamID),
		zap.String("task", tr.Task),
		zap.String("task_id", taskID))
	return nil
}
