package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/devlens/devlens/internal/model"
)

// ErrTeamNotFound reports a lookup for a team id with no row. Callers
// match it with eris.Is.
var ErrTeamNotFound = eris.New("store: team not found")

// TeamFilter specifies criteria for listing teams.
type TeamFilter struct {
	Status model.PipelineStatus `json:"status,omitempty"`
	Limit  int                  `json:"limit,omitempty"`
}

// PRFilter specifies criteria for listing pull requests.
type PRFilter struct {
	OnlyUnanalyzed bool `json:"only_unanalyzed,omitempty"`
	Limit          int  `json:"limit,omitempty"`
}

// Store defines the persistence interface for the sync pipeline. All
// writes are idempotent upserts keyed by natural external ids, so work
// units stay safe under at-least-once task delivery.
type Store interface {
	// Teams
	CreateTeam(ctx context.Context, team model.Team) (*model.Team, error)
	GetTeam(ctx context.Context, teamID string) (*model.Team, error)
	ListTeams(ctx context.Context, filter TeamFilter) ([]model.Team, error)
	// SetPipelineStatus persists status only when it differs from the
	// stored value, refreshing status_updated_at. It reports whether the
	// value actually changed; an unchanged write is a no-op.
	SetPipelineStatus(ctx context.Context, teamID string, status model.PipelineStatus) (bool, error)
	// TouchPipelineStatus rewrites the current status with a fresh
	// status_updated_at, returning the team. This is the nudge path the
	// recovery sweep uses to force a re-dispatch.
	TouchPipelineStatus(ctx context.Context, teamID string) (*model.Team, error)

	// Members
	UpsertMembers(ctx context.Context, teamID string, members []model.Member) (int, error)

	// Sync watermarks
	GetWatermark(ctx context.Context, teamID, repo string) (time.Time, error)
	SetWatermark(ctx context.Context, teamID, repo string, at time.Time) error

	// Pull requests
	UpsertPullRequests(ctx context.Context, prs []model.PullRequest) (int, error)
	ListPullRequests(ctx context.Context, teamID string, filter PRFilter) ([]model.PullRequest, error)
	// UpdateAnalyses writes enrichment outcomes keyed by pull-request id.
	UpdateAnalyses(ctx context.Context, teamID string, analyses map[string]*model.PRAnalysis) error

	// Metrics
	UpsertMetricPeriods(ctx context.Context, periods []model.MetricPeriod) error
	ListMetricPeriods(ctx context.Context, teamID string) ([]model.MetricPeriod, error)

	// Insights
	UpsertInsights(ctx context.Context, insights []model.Insight) error
	ListInsights(ctx context.Context, teamID string) ([]model.Insight, error)
	SetInsightNarrative(ctx context.Context, teamID, ruleKey, narrative string) error

	// Batch job audit log
	RecordBatchJob(ctx context.Context, job model.BatchJob) error
	// OpenBatchJob returns the open job for (team, purpose), or nil.
	OpenBatchJob(ctx context.Context, teamID, purpose string) (*model.BatchJob, error)
	CloseBatchJob(ctx context.Context, batchID string) error
	// CountOpenBatchJobs reports how many batches are awaiting collection
	// across all teams, for the monitoring snapshot.
	CountOpenBatchJobs(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
