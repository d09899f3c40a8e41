package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/devlens/devlens/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It backs the
// single-process dev setup; the worker fleet uses Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// DB exposes the underlying handle for the task queue.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS teams (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	org               TEXT NOT NULL,
	repos             TEXT NOT NULL DEFAULT '[]',
	pipeline_status   TEXT NOT NULL DEFAULT 'not_started',
	status_updated_at DATETIME NOT NULL,
	created_at        DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_teams_status ON teams(pipeline_status);

CREATE TABLE IF NOT EXISTS members (
	id      TEXT PRIMARY KEY,
	team_id TEXT NOT NULL REFERENCES teams(id),
	login   TEXT NOT NULL,
	name    TEXT NOT NULL DEFAULT '',
	UNIQUE(team_id, login)
);

CREATE TABLE IF NOT EXISTS sync_watermarks (
	team_id        TEXT NOT NULL REFERENCES teams(id),
	repo           TEXT NOT NULL,
	last_synced_at DATETIME NOT NULL,
	PRIMARY KEY(team_id, repo)
);

CREATE TABLE IF NOT EXISTS pull_requests (
	id         TEXT PRIMARY KEY,
	team_id    TEXT NOT NULL REFERENCES teams(id),
	repo       TEXT NOT NULL,
	number     INTEGER NOT NULL,
	title      TEXT NOT NULL,
	author     TEXT NOT NULL,
	additions  INTEGER NOT NULL DEFAULT 0,
	deletions  INTEGER NOT NULL DEFAULT 0,
	reviewers  TEXT NOT NULL DEFAULT '[]',
	created_at DATETIME NOT NULL,
	merged_at  DATETIME,
	updated_at DATETIME NOT NULL,
	analysis   TEXT,
	UNIQUE(team_id, repo, number)
);

CREATE INDEX IF NOT EXISTS idx_prs_team ON pull_requests(team_id);

CREATE TABLE IF NOT EXISTS metric_periods (
	team_id           TEXT NOT NULL REFERENCES teams(id),
	period_start      DATETIME NOT NULL,
	pr_count          INTEGER NOT NULL,
	merged_count      INTEGER NOT NULL,
	avg_cycle_hours   REAL NOT NULL,
	review_coverage   REAL NOT NULL,
	ai_assisted_share REAL NOT NULL,
	avg_risk_score    REAL NOT NULL,
	computed_at       DATETIME NOT NULL,
	PRIMARY KEY(team_id, period_start)
);

CREATE TABLE IF NOT EXISTS insights (
	id         TEXT PRIMARY KEY,
	team_id    TEXT NOT NULL REFERENCES teams(id),
	rule_key   TEXT NOT NULL,
	severity   TEXT NOT NULL,
	title      TEXT NOT NULL,
	detail     TEXT NOT NULL,
	narrative  TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	UNIQUE(team_id, rule_key)
);

CREATE TABLE IF NOT EXISTS batch_jobs (
	id         TEXT PRIMARY KEY,
	team_id    TEXT NOT NULL REFERENCES teams(id),
	batch_id   TEXT NOT NULL UNIQUE,
	purpose    TEXT NOT NULL,
	model      TEXT NOT NULL,
	item_count INTEGER NOT NULL,
	open       INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	closed_at  DATETIME
);

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	team_id      TEXT NOT NULL,
	args         TEXT NOT NULL DEFAULT '{}',
	run_at       DATETIME NOT NULL,
	claimed_at   DATETIME,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	created_at   DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(run_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTeam(ctx context.Context, team model.Team) (*model.Team, error) {
	if team.ID == "" {
		team.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	team.PipelineStatus = model.StatusNotStarted
	team.StatusUpdatedAt = now
	team.CreatedAt = now

	reposJSON, err := json.Marshal(team.Repos)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal repos")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO teams (id, name, org, repos, pipeline_status, status_updated_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		team.ID, team.Name, team.Org, string(reposJSON), string(team.PipelineStatus), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert team")
	}
	return &team, nil
}

func scanTeam(row interface{ Scan(...any) error }) (*model.Team, error) {
	var t model.Team
	var reposJSON, status string
	if err := row.Scan(&t.ID, &t.Name, &t.Org, &reposJSON, &status, &t.StatusUpdatedAt, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.PipelineStatus = model.PipelineStatus(status)
	if err := json.Unmarshal([]byte(reposJSON), &t.Repos); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal repos")
	}
	return &t, nil
}

func (s *SQLiteStore) GetTeam(ctx context.Context, teamID string) (*model.Team, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, org, repos, pipeline_status, status_updated_at, created_at FROM teams WHERE id = ?`,
		teamID,
	)
	t, err := scanTeam(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Wrapf(ErrTeamNotFound, "sqlite: get team %s", teamID)
		}
		return nil, eris.Wrapf(err, "sqlite: get team %s", teamID)
	}
	return t, nil
}

func (s *SQLiteStore) ListTeams(ctx context.Context, filter TeamFilter) ([]model.Team, error) {
	query := `SELECT id, name, org, repos, pipeline_status, status_updated_at, created_at FROM teams WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		query += ` AND pipeline_status = ?`
		args = append(args, string(filter.Status))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` ORDER BY created_at LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list teams")
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan team")
		}
		teams = append(teams, *t)
	}
	return teams, eris.Wrap(rows.Err(), "sqlite: list teams iterate")
}

func (s *SQLiteStore) SetPipelineStatus(ctx context.Context, teamID string, status model.PipelineStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE teams SET pipeline_status = ?, status_updated_at = ? WHERE id = ? AND pipeline_status != ?`,
		string(status), time.Now().UTC(), teamID, string(status),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: set pipeline status %s", teamID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return true, nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM teams WHERE id = ?`, teamID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, eris.Wrapf(ErrTeamNotFound, "sqlite: set pipeline status %s", teamID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check team %s", teamID)
	}
	return false, nil
}

func (s *SQLiteStore) TouchPipelineStatus(ctx context.Context, teamID string) (*model.Team, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE teams SET status_updated_at = ? WHERE id = ?`,
		time.Now().UTC(), teamID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: touch pipeline status %s", teamID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, eris.Wrapf(ErrTeamNotFound, "sqlite: touch pipeline status %s", teamID)
	}
	return s.GetTeam(ctx, teamID)
}

func (s *SQLiteStore) UpsertMembers(ctx context.Context, teamID string, members []model.Member) (int, error) {
	count := 0
	for _, m := range members {
		id := m.ID
		if id == "" {
			id = uuid.New().String()
		}
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO members (id, team_id, login, name) VALUES (?, ?, ?, ?)
			 ON CONFLICT (team_id, login) DO UPDATE SET name = excluded.name`,
			id, teamID, m.Login, m.Name,
		)
		if err != nil {
			return count, eris.Wrapf(err, "sqlite: upsert member %s", m.Login)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			count++
		}
	}
	return count, nil
}

func (s *SQLiteStore) GetWatermark(ctx context.Context, teamID, repo string) (time.Time, error) {
	var at time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_synced_at FROM sync_watermarks WHERE team_id = ? AND repo = ?`,
		teamID, repo,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: get watermark %s/%s", teamID, repo)
	}
	return at, nil
}

func (s *SQLiteStore) SetWatermark(ctx context.Context, teamID, repo string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_watermarks (team_id, repo, last_synced_at) VALUES (?, ?, ?)
		 ON CONFLICT (team_id, repo) DO UPDATE SET last_synced_at = excluded.last_synced_at`,
		teamID, repo, at,
	)
	return eris.Wrapf(err, "sqlite: set watermark %s/%s", teamID, repo)
}

func (s *SQLiteStore) UpsertPullRequests(ctx context.Context, prs []model.PullRequest) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	count := 0
	for _, pr := range prs {
		id := pr.ID
		if id == "" {
			id = uuid.New().String()
		}
		reviewersJSON, err := json.Marshal(pr.Reviewers)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal reviewers")
		}
		var mergedAt any
		if !pr.MergedAt.IsZero() {
			mergedAt = pr.MergedAt
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pull_requests
			 (id, team_id, repo, number, title, author, additions, deletions, reviewers, created_at, merged_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (team_id, repo, number) DO UPDATE SET
			   title = excluded.title, author = excluded.author,
			   additions = excluded.additions, deletions = excluded.deletions,
			   reviewers = excluded.reviewers, merged_at = excluded.merged_at,
			   updated_at = excluded.updated_at`,
			id, pr.TeamID, pr.Repo, pr.Number, pr.Title, pr.Author,
			pr.Additions, pr.Deletions, string(reviewersJSON), pr.CreatedAt, mergedAt, pr.UpdatedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert pull request %s#%d", pr.Repo, pr.Number)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return count, nil
}

func (s *SQLiteStore) ListPullRequests(ctx context.Context, teamID string, filter PRFilter) ([]model.PullRequest, error) {
	query := `SELECT id, team_id, repo, number, title, author, additions, deletions, reviewers, created_at, merged_at, updated_at, analysis
	          FROM pull_requests WHERE team_id = ?`
	args := []any{teamID}
	if filter.OnlyUnanalyzed {
		query += ` AND analysis IS NULL`
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pull requests")
	}
	defer rows.Close()

	var prs []model.PullRequest
	for rows.Next() {
		var pr model.PullRequest
		var reviewersJSON string
		var analysisJSON sql.NullString
		var mergedAt sql.NullTime

		if err := rows.Scan(&pr.ID, &pr.TeamID, &pr.Repo, &pr.Number, &pr.Title, &pr.Author,
			&pr.Additions, &pr.Deletions, &reviewersJSON, &pr.CreatedAt, &mergedAt, &pr.UpdatedAt, &analysisJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan pull request")
		}
		if err := json.Unmarshal([]byte(reviewersJSON), &pr.Reviewers); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal reviewers")
		}
		if mergedAt.Valid {
			pr.MergedAt = mergedAt.Time
		}
		if analysisJSON.Valid {
			pr.Analysis = &model.PRAnalysis{}
			if err := json.Unmarshal([]byte(analysisJSON.String), pr.Analysis); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal analysis")
			}
		}
		prs = append(prs, pr)
	}
	return prs, eris.Wrap(rows.Err(), "sqlite: list pull requests iterate")
}

func (s *SQLiteStore) UpdateAnalyses(ctx context.Context, teamID string, analyses map[string]*model.PRAnalysis) error {
	for prID, analysis := range analyses {
		analysisJSON, err := json.Marshal(analysis)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal analysis")
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE pull_requests SET analysis = ? WHERE id = ? AND team_id = ?`,
			string(analysisJSON), prID, teamID,
		); err != nil {
			return eris.Wrapf(err, "sqlite: update analysis %s", prID)
		}
	}
	return nil
}

func (s *SQLiteStore) UpsertMetricPeriods(ctx context.Context, periods []model.MetricPeriod) error {
	for _, p := range periods {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO metric_periods
			 (team_id, period_start, pr_count, merged_count, avg_cycle_hours, review_coverage, ai_assisted_share, avg_risk_score, computed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (team_id, period_start) DO UPDATE SET
			   pr_count = excluded.pr_count, merged_count = excluded.merged_count,
			   avg_cycle_hours = excluded.avg_cycle_hours, review_coverage = excluded.review_coverage,
			   ai_assisted_share = excluded.ai_assisted_share, avg_risk_score = excluded.avg_risk_score,
			   computed_at = excluded.computed_at`,
			p.TeamID, p.PeriodStart, p.PRCount, p.MergedCount, p.AvgCycleHours,
			p.ReviewCoverage, p.AIAssistedShare, p.AvgRiskScore, p.ComputedAt,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: upsert metric period")
		}
	}
	return nil
}

func (s *SQLiteStore) ListMetricPeriods(ctx context.Context, teamID string) ([]model.MetricPeriod, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT team_id, period_start, pr_count, merged_count, avg_cycle_hours, review_coverage, ai_assisted_share, avg_risk_score, computed_at
		 FROM metric_periods WHERE team_id = ? ORDER BY period_start`,
		teamID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list metric periods")
	}
	defer rows.Close()

	var periods []model.MetricPeriod
	for rows.Next() {
		var p model.MetricPeriod
		if err := rows.Scan(&p.TeamID, &p.PeriodStart, &p.PRCount, &p.MergedCount,
			&p.AvgCycleHours, &p.ReviewCoverage, &p.AIAssistedShare, &p.AvgRiskScore, &p.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan metric period")
		}
		periods = append(periods, p)
	}
	return periods, eris.Wrap(rows.Err(), "sqlite: list metric periods iterate")
}

func (s *SQLiteStore) UpsertInsights(ctx context.Context, insights []model.Insight) error {
	for _, in := range insights {
		id := in.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO insights (id, team_id, rule_key, severity, title, detail, narrative, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (team_id, rule_key) DO UPDATE SET
			   severity = excluded.severity, title = excluded.title,
			   detail = excluded.detail, created_at = excluded.created_at`,
			id, in.TeamID, in.RuleKey, string(in.Severity), in.Title, in.Detail, in.Narrative, in.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert insight %s", in.RuleKey)
		}
	}
	return nil
}

func (s *SQLiteStore) ListInsights(ctx context.Context, teamID string) ([]model.Insight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, team_id, rule_key, severity, title, detail, narrative, created_at
		 FROM insights WHERE team_id = ? ORDER BY created_at`,
		teamID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list insights")
	}
	defer rows.Close()

	var insights []model.Insight
	for rows.Next() {
		var in model.Insight
		var severity string
		if err := rows.Scan(&in.ID, &in.TeamID, &in.RuleKey, &severity, &in.Title, &in.Detail, &in.Narrative, &in.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan insight")
		}
		in.Severity = model.InsightSeverity(severity)
		insights = append(insights, in)
	}
	return insights, eris.Wrap(rows.Err(), "sqlite: list insights iterate")
}

func (s *SQLiteStore) SetInsightNarrative(ctx context.Context, teamID, ruleKey, narrative string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE insights SET narrative = ? WHERE team_id = ? AND rule_key = ?`,
		narrative, teamID, ruleKey,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set insight narrative %s", ruleKey)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Errorf("insight not found: %s/%s", teamID, ruleKey)
	}
	return nil
}

func (s *SQLiteStore) RecordBatchJob(ctx context.Context, job model.BatchJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_jobs (id, team_id, batch_id, purpose, model, item_count, open, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, 1, ?)
		 ON CONFLICT (batch_id) DO NOTHING`,
		job.ID, job.TeamID, job.BatchID, job.Purpose, job.Model, job.ItemCount, job.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: record batch job %s", job.BatchID)
}

func (s *SQLiteStore) OpenBatchJob(ctx context.Context, teamID, purpose string) (*model.BatchJob, error) {
	var job model.BatchJob
	var open int
	var closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, team_id, batch_id, purpose, model, item_count, open, created_at, closed_at
		 FROM batch_jobs WHERE team_id = ? AND purpose = ? AND open = 1
		 ORDER BY created_at DESC LIMIT 1`,
		teamID, purpose,
	).Scan(&job.ID, &job.TeamID, &job.BatchID, &job.Purpose, &job.Model, &job.ItemCount, &open, &job.CreatedAt, &closedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: open batch job %s/%s", teamID, purpose)
	}
	job.Open = open != 0
	if closedAt.Valid {
		job.ClosedAt = closedAt.Time
	}
	return &job, nil
}

func (s *SQLiteStore) CloseBatchJob(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE batch_jobs SET open = 0, closed_at = ? WHERE batch_id = ?`,
		time.Now().UTC(), batchID,
	)
	return eris.Wrapf(err, "sqlite: close batch job %s", batchID)
}

func (s *SQLiteStore) CountOpenBatchJobs(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batch_jobs WHERE open = 1`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count open batch jobs")
	}
	return n, nil
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*PostgresStore)(nil)

// Open selects a backend from the configured driver string.
func Open(ctx context.Context, driver, dsn string, poolCfg *PoolConfig) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, dsn, poolCfg)
	case "sqlite":
		return NewSQLite(dsn)
	default:
		return nil, fmt.Errorf("unknown store driver: %q", driver)
	}
}
