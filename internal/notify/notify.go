// Package notify publishes pipeline milestones to the team's reporting
// surface. The pipeline calls it when phase 1 finishes and when a
// background resync lands new findings.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/model"
)

// Readout is the payload published on a milestone: the team, its latest
// weekly metrics, and the narrated findings.
type Readout struct {
	Team     model.Team
	Periods  []model.MetricPeriod
	Insights []model.Insight
}

// Notifier delivers a readout. Implementations must be safe to call
// more than once with the same payload.
type Notifier interface {
	PhaseComplete(ctx context.Context, readout Readout) error
	ResyncComplete(ctx context.Context, readout Readout) error
}

// LogNotifier writes milestones to the log only. It is the default when
// no Notion integration is configured.
type LogNotifier struct{}

func (LogNotifier) PhaseComplete(_ context.Context, r Readout) error {
	zap.L().Info("phase 1 complete",
		zap.String("team_id", r.Team.ID),
		zap.String("team", r.Team.Name),
		zap.Int("metric_periods", len(r.Periods)),
		zap.Int("insights", len(r.Insights)))
	return nil
}

func (LogNotifier) ResyncComplete(_ context.Context, r Readout) error {
	zap.L().Info("resync complete",
		zap.String("team_id", r.Team.ID),
		zap.String("team", r.Team.Name),
		zap.Int("insights", len(r.Insights)))
	return nil
}
