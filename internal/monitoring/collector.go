package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/internal/queue"
	"github.com/devlens/devlens/internal/store"
)

// StalledTeam is a team whose pipeline status has not moved within the
// stalled window.
type StalledTeam struct {
	TeamID string        `json:"team_id"`
	Name   string        `json:"name"`
	Status string        `json:"status"`
	Age    time.Duration `json:"age"`
}

// Snapshot holds a point-in-time view of pipeline health.
type Snapshot struct {
	TeamsTotal      int            `json:"teams_total"`
	TeamsByStatus   map[string]int `json:"teams_by_status"`
	TeamsOnboarding int            `json:"teams_onboarding"`
	TeamsComplete   int            `json:"teams_complete"`
	Stalled         []StalledTeam  `json:"stalled,omitempty"`

	QueueDepth    int `json:"queue_depth"`
	OpenBatchJobs int `json:"open_batch_jobs"`

	StalledAfter time.Duration `json:"stalled_after"`
	CollectedAt  time.Time     `json:"collected_at"`
}

// Collector gathers health snapshots from the store and task queue.
type Collector struct {
	store store.Store
	queue queue.Queue
}

func NewCollector(st store.Store, q queue.Queue) *Collector {
	return &Collector{store: st, queue: q}
}

// Collect builds a snapshot. A team at an active status counts as stalled
// once its last status write is older than stalledAfter.
func (c *Collector) Collect(ctx context.Context, stalledAfter time.Duration) (*Snapshot, error) {
	snap := &Snapshot{
		TeamsByStatus: map[string]int{},
		StalledAfter:  stalledAfter,
		CollectedAt:   time.Now().UTC(),
	}

	teams, err := c.store.ListTeams(ctx, store.TeamFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list teams")
	}

	now := time.Now().UTC()
	for _, team := range teams {
		snap.TeamsTotal++
		snap.TeamsByStatus[string(team.PipelineStatus)]++

		switch {
		case team.PipelineStatus == model.StatusComplete:
			snap.TeamsComplete++
		case team.PipelineStatus != model.StatusNotStarted:
			snap.TeamsOnboarding++
			if age := now.Sub(team.StatusUpdatedAt); age > stalledAfter {
				snap.Stalled = append(snap.Stalled, StalledTeam{
					TeamID: team.ID,
					Name:   team.Name,
					Status: string(team.PipelineStatus),
					Age:    age,
				})
			}
		}
	}

	if c.queue != nil {
		depth, err := c.queue.Depth(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: queue depth")
		}
		snap.QueueDepth = depth
	}

	open, err := c.store.CountOpenBatchJobs(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count open batch jobs")
	}
	snap.OpenBatchJobs = open

	return snap, nil
}
