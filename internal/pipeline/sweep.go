package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/internal/store"
)

// SweepConfig tunes the recovery sweep.
type SweepConfig struct {
	// Interval between scans.
	Interval time.Duration
	// DefaultTimeout applies to stages with no per-stage override.
	DefaultTimeout time.Duration
	// Timeouts holds per-stage overrides keyed by status name.
	Timeouts config.StageTimeouts
	// ResyncAfter re-opens complete teams whose record is older than this,
	// which is what makes the pipeline continuous rather than one-shot.
	ResyncAfter time.Duration
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Minute
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Minute
	}
	if c.ResyncAfter <= 0 {
		c.ResyncAfter = 6 * time.Hour
	}
	return c
}

// Sweeper periodically scans for teams stalled mid-stage and nudges
// them. A nudge re-dispatches the current stage's work unit; because
// units are idempotent and batch submissions resume their open batch,
// a spurious nudge of a slow-but-alive team is wasted work, not harm.
type Sweeper struct {
	store   store.Store
	tracker *Tracker
	cfg     SweepConfig
	logger  *zap.Logger
}

func NewSweeper(st store.Store, tracker *Tracker, cfg SweepConfig) *Sweeper {
	return &Sweeper{
		store:   st,
		tracker: tracker,
		cfg:     cfg.withDefaults(),
		logger:  zap.L().Named("sweep"),
	}
}

// Run scans on the configured interval until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("sweeper starting",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("default_timeout", s.cfg.DefaultTimeout),
		zap.Duration("resync_after", s.cfg.ResyncAfter))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep performs one scan and returns how many teams were acted on.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	teams, err := s.store.ListTeams(ctx, store.TeamFilter{})
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	acted := 0
	for _, team := range teams {
		age := now.Sub(team.StatusUpdatedAt)

		switch {
		case team.PipelineStatus == model.StatusNotStarted:
			// Waiting for an explicit onboarding trigger.

		case team.PipelineStatus.Terminal():
			if age > s.cfg.ResyncAfter {
				s.logger.Info("re-opening team for resync",
					zap.String("team_id", team.ID),
					zap.Duration("age", age))
				if err := s.tracker.SetStatus(ctx, team.ID, model.StatusBackgroundSyncing); err != nil {
					s.logger.Error("resync re-open failed",
						zap.String("team_id", team.ID), zap.Error(err))
					continue
				}
				acted++
			}

		default:
			if age > s.timeoutFor(team.PipelineStatus) {
				s.logger.Warn("team stalled",
					zap.String("team_id", team.ID),
					zap.String("status", string(team.PipelineStatus)),
					zap.Duration("age", age))
				if err := s.tracker.Nudge(ctx, team.ID); err != nil {
					s.logger.Error("nudge failed",
						zap.String("team_id", team.ID), zap.Error(err))
					continue
				}
				acted++
			}
		}
	}
	return acted, nil
}

func (s *Sweeper) timeoutFor(status model.PipelineStatus) time.Duration {
	if d, ok := s.cfg.Timeouts[string(status)]; ok {
		return d
	}
	return s.cfg.DefaultTimeout
}
