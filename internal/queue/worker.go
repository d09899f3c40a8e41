package queue

import (
	"context"
	"math/rand"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devlens/devlens/internal/resilience"
)

// Handler executes one task. Returning nil completes the task; a fatal
// error drops it; any other error releases it for redelivery.
type Handler func(ctx context.Context, task *Task) error

// WorkerConfig tunes the polling pool.
type WorkerConfig struct {
	Workers      int
	PollInterval time.Duration
	RetryBackoff time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 30 * time.Second
	}
	return c
}

// Worker polls the queue with a pool of goroutines and routes tasks to
// registered handlers by name.
type Worker struct {
	queue    Queue
	handlers map[string]Handler
	cfg      WorkerConfig
	logger   *zap.Logger
}

func NewWorker(q Queue, cfg WorkerConfig) *Worker {
	return &Worker{
		queue:    q,
		handlers: make(map[string]Handler),
		cfg:      cfg.withDefaults(),
		logger:   zap.L().Named("queue"),
	}
}

// Register binds a handler to a task name. Not safe to call after Run.
func (w *Worker) Register(name string, h Handler) {
	w.handlers[name] = h
}

// Run blocks, polling for tasks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker pool starting",
		zap.Int("workers", w.cfg.Workers),
		zap.Duration("poll_interval", w.cfg.PollInterval))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Workers; i++ {
		g.Go(func() error {
			return w.loop(ctx)
		})
	}
	err := g.Wait()
	if err != nil && !eris.Is(err, context.Canceled) && !eris.Is(err, context.DeadlineExceeded) {
		return eris.Wrap(err, "queue: worker pool")
	}
	return nil
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		task, err := w.queue.Claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("claim failed", zap.Error(err))
			task = nil
		}
		if task == nil {
			if err := w.sleep(ctx); err != nil {
				return err
			}
			continue
		}
		w.handle(ctx, task)
	}
}

// sleep waits one poll interval with jitter so idle workers don't poll
// in lockstep.
func (w *Worker) sleep(ctx context.Context) error {
	jitter := time.Duration(rand.Int63n(int64(w.cfg.PollInterval) / 2))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(w.cfg.PollInterval + jitter):
		return nil
	}
}

func (w *Worker) handle(ctx context.Context, task *Task) {
	logger := w.logger.With(
		zap.String("task_id", task.ID),
		zap.String("task", task.Name),
		zap.String("team_id", task.TeamID),
		zap.Int("attempt", task.Attempts))

	h, ok := w.handlers[task.Name]
	if !ok {
		logger.Error("no handler registered, dropping task")
		if err := w.queue.Drop(ctx, task.ID); err != nil {
			logger.Error("drop failed", zap.Error(err))
		}
		return
	}

	start := time.Now()
	err := h(ctx, task)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		logger.Info("task complete", zap.Duration("elapsed", elapsed))
		if err := w.queue.Complete(ctx, task.ID); err != nil {
			logger.Error("complete failed", zap.Error(err))
		}
	case resilience.IsFatal(err):
		logger.Error("fatal task error, dropping", zap.Error(err), zap.Duration("elapsed", elapsed))
		if err := w.queue.Drop(ctx, task.ID); err != nil {
			logger.Error("drop failed", zap.Error(err))
		}
	default:
		backoff := w.cfg.RetryBackoff * time.Duration(task.Attempts)
		dropped, failErr := w.queue.Fail(ctx, task, backoff)
		if failErr != nil {
			logger.Error("release failed", zap.Error(failErr))
			return
		}
		if dropped {
			logger.Error("task failed, attempts exhausted", zap.Error(err))
		} else {
			logger.Warn("task failed, will retry",
				zap.Error(err), zap.Duration("backoff", backoff))
		}
	}
}
