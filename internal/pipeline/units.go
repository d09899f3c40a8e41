package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/enrich"
	"github.com/devlens/devlens/internal/insight"
	"github.com/devlens/devlens/internal/metrics"
	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/internal/notify"
	"github.com/devlens/devlens/internal/queue"
	"github.com/devlens/devlens/internal/store"
	"github.com/devlens/devlens/pkg/github"
)

// UnitsConfig tunes the work units.
type UnitsConfig struct {
	// WindowDays bounds the first historical sync when a repo has no
	// watermark yet.
	WindowDays int
}

// Units holds the work unit handlers. Each handler performs one stage
// for one team and, on success, advances the status through the tracker;
// that write dispatches the next stage. Handlers are idempotent: every
// write they do is an upsert keyed by natural ids.
type Units struct {
	store    store.Store
	tracker  *Tracker
	github   github.Client
	engine   *enrich.Engine
	narrator *insight.Narrator
	notifier notify.Notifier
	cfg      UnitsConfig
	logger   *zap.Logger
}

func NewUnits(st store.Store, tracker *Tracker, gh github.Client, engine *enrich.Engine, narrator *insight.Narrator, notifier notify.Notifier, cfg UnitsConfig) *Units {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 30
	}
	return &Units{
		store:    st,
		tracker:  tracker,
		github:   gh,
		engine:   engine,
		narrator: narrator,
		notifier: notifier,
		cfg:      cfg,
		logger:   zap.L().Named("units"),
	}
}

// Register binds every work unit to its task name.
func (u *Units) Register(w *queue.Worker) {
	w.Register(TaskSyncMembers, u.handleSyncMembers)
	w.Register(TaskSyncHistory, u.handleSyncHistory)
	w.Register(TaskProcessBatch, u.handleProcessBatch)
	w.Register(TaskComputeMetrics, u.handleComputeMetrics)
	w.Register(TaskComputeInsights, u.handleComputeInsights)
	w.Register(TaskGenerateInsights, u.handleGenerateInsights)
	w.Register(TaskFinishPhase1, u.handleFinishPhase1)
	w.Register(TaskBackgroundSync, u.handleBackgroundSync)
	w.Register(TaskBackgroundEnrich, u.handleBackgroundEnrich)
}

func (u *Units) handleSyncMembers(ctx context.Context, task *queue.Task) error {
	team, err := u.store.GetTeam(ctx, task.TeamID)
	if err != nil {
		return err
	}

	ghMembers, err := u.github.ListMembers(ctx, team.Org)
	if err != nil {
		return eris.Wrapf(err, "units: list members for %s", team.Org)
	}

	members := make([]model.Member, 0, len(ghMembers))
	for _, m := range ghMembers {
		members = append(members, model.Member{Login: m.Login, Name: m.Name})
	}
	n, err := u.store.UpsertMembers(ctx, team.ID, members)
	if err != nil {
		return err
	}
	u.logger.Info("members synced",
		zap.String("team_id", team.ID),
		zap.Int("members", n))

	return u.tracker.SetStatus(ctx, team.ID, Transitions[model.StatusSyncingMembers].Next)
}

func (u *Units) handleSyncHistory(ctx context.Context, task *queue.Task) error {
	team, err := u.store.GetTeam(ctx, task.TeamID)
	if err != nil {
		return err
	}
	if err := u.syncRepos(ctx, team); err != nil {
		return err
	}
	return u.tracker.SetStatus(ctx, team.ID, Transitions[model.StatusSyncing].Next)
}

func (u *Units) handleProcessBatch(ctx context.Context, task *queue.Task) error {
	if _, err := u.engine.EnrichTeam(ctx, task.TeamID, enrich.PurposeOnboard); err != nil {
		return err
	}
	return u.tracker.SetStatus(ctx, task.TeamID, Transitions[model.StatusLLMProcessing].Next)
}

func (u *Units) handleComputeMetrics(ctx context.Context, task *queue.Task) error {
	if err := u.computeMetrics(ctx, task.TeamID); err != nil {
		return err
	}
	return u.tracker.SetStatus(ctx, task.TeamID, Transitions[model.StatusComputingMetrics].Next)
}

func (u *Units) handleComputeInsights(ctx context.Context, task *queue.Task) error {
	if err := u.computeInsights(ctx, task.TeamID); err != nil {
		return err
	}
	return u.tracker.SetStatus(ctx, task.TeamID, Transitions[model.StatusComputingInsights].Next)
}

func (u *Units) handleGenerateInsights(ctx context.Context, task *queue.Task) error {
	n, err := u.narrator.NarrateTeam(ctx, task.TeamID)
	if err != nil {
		return err
	}
	u.logger.Info("insights narrated",
		zap.String("team_id", task.TeamID),
		zap.Int("narrated", n))
	return u.tracker.SetStatus(ctx, task.TeamID, Transitions[model.StatusGeneratingInsights].Next)
}

func (u *Units) handleFinishPhase1(ctx context.Context, task *queue.Task) error {
	readout, err := u.buildReadout(ctx, task.TeamID)
	if err != nil {
		return err
	}
	if err := u.notifier.PhaseComplete(ctx, *readout); err != nil {
		// Notification is best-effort: a broken reporting surface must
		// not wedge the pipeline at phase1_complete.
		u.logger.Error("phase-complete notification failed",
			zap.String("team_id", task.TeamID),
			zap.Error(err))
	}
	return u.tracker.SetStatus(ctx, task.TeamID, Transitions[model.StatusPhase1Complete].Next)
}

func (u *Units) handleBackgroundSync(ctx context.Context, task *queue.Task) error {
	team, err := u.store.GetTeam(ctx, task.TeamID)
	if err != nil {
		return err
	}
	if err := u.syncRepos(ctx, team); err != nil {
		return err
	}
	return u.tracker.SetStatus(ctx, team.ID, Transitions[model.StatusBackgroundSyncing].Next)
}

func (u *Units) handleBackgroundEnrich(ctx context.Context, task *queue.Task) error {
	stats, err := u.engine.EnrichTeam(ctx, task.TeamID, enrich.PurposeBackground)
	if err != nil {
		return err
	}

	// A resync pass refreshes the derived layers immediately rather than
	// waiting for another trip around the state machine.
	if stats.Submitted > 0 {
		if err := u.computeMetrics(ctx, task.TeamID); err != nil {
			return err
		}
		if err := u.computeInsights(ctx, task.TeamID); err != nil {
			return err
		}
		readout, err := u.buildReadout(ctx, task.TeamID)
		if err != nil {
			return err
		}
		if err := u.notifier.ResyncComplete(ctx, *readout); err != nil {
			u.logger.Error("resync notification failed",
				zap.String("team_id", task.TeamID),
				zap.Error(err))
		}
	}
	return u.tracker.SetStatus(ctx, task.TeamID, Transitions[model.StatusBackgroundLLM].Next)
}

// syncRepos pulls merged PRs for every team repo since its watermark.
// The watermark advances to the sync start time, so overlap is possible
// and absorbed by the upsert.
func (u *Units) syncRepos(ctx context.Context, team *model.Team) error {
	syncStart := time.Now().UTC()
	total := 0

	for _, repo := range team.Repos {
		since, err := u.store.GetWatermark(ctx, team.ID, repo)
		if err != nil {
			return err
		}
		if since.IsZero() {
			since = syncStart.AddDate(0, 0, -u.cfg.WindowDays)
		}

		ghPRs, err := u.github.ListPullRequests(ctx, team.Org, repo, since)
		if err != nil {
			return eris.Wrapf(err, "units: list pull requests for %s", repo)
		}

		prs := make([]model.PullRequest, 0, len(ghPRs))
		for _, pr := range ghPRs {
			prs = append(prs, model.PullRequest{
				TeamID:    team.ID,
				Repo:      repo,
				Number:    pr.Number,
				Title:     pr.Title,
				Author:    pr.Author,
				Additions: pr.Additions,
				Deletions: pr.Deletions,
				Reviewers: pr.Reviewers,
				CreatedAt: pr.CreatedAt,
				MergedAt:  pr.MergedAt,
				UpdatedAt: pr.UpdatedAt,
			})
		}
		n, err := u.store.UpsertPullRequests(ctx, prs)
		if err != nil {
			return err
		}
		total += n

		if err := u.store.SetWatermark(ctx, team.ID, repo, syncStart); err != nil {
			return err
		}
	}

	u.logger.Info("history synced",
		zap.String("team_id", team.ID),
		zap.Int("repos", len(team.Repos)),
		zap.Int("pull_requests", total))
	return nil
}

func (u *Units) computeMetrics(ctx context.Context, teamID string) error {
	prs, err := u.store.ListPullRequests(ctx, teamID, store.PRFilter{})
	if err != nil {
		return err
	}
	periods := metrics.Compute(teamID, prs, time.Now())
	if err := u.store.UpsertMetricPeriods(ctx, periods); err != nil {
		return err
	}
	u.logger.Info("metrics computed",
		zap.String("team_id", teamID),
		zap.Int("periods", len(periods)))
	return nil
}

func (u *Units) computeInsights(ctx context.Context, teamID string) error {
	periods, err := u.store.ListMetricPeriods(ctx, teamID)
	if err != nil {
		return err
	}
	prs, err := u.store.ListPullRequests(ctx, teamID, store.PRFilter{})
	if err != nil {
		return err
	}
	insights := insight.Evaluate(teamID, periods, prs, time.Now())
	if err := u.store.UpsertInsights(ctx, insights); err != nil {
		return err
	}
	u.logger.Info("insights computed",
		zap.String("team_id", teamID),
		zap.Int("fired", len(insights)))
	return nil
}

func (u *Units) buildReadout(ctx context.Context, teamID string) (*notify.Readout, error) {
	team, err := u.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	periods, err := u.store.ListMetricPeriods(ctx, teamID)
	if err != nil {
		return nil, err
	}
	insights, err := u.store.ListInsights(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return &notify.Readout{Team: *team, Periods: periods, Insights: insights}, nil
}
