package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/devlens/devlens/internal/db"
	"github.com/devlens/devlens/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hottest store operations (status writes fire on every transition).
var preparedStatements = map[string]string{
	"get_team":     `SELECT id, name, org, repos, pipeline_status, status_updated_at, created_at FROM teams WHERE id = $1`,
	"set_status":   `UPDATE teams SET pipeline_status = $1, status_updated_at = $2 WHERE id = $3 AND pipeline_status IS DISTINCT FROM $1`,
	"touch_status": `UPDATE teams SET status_updated_at = $1 WHERE id = $2`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (the task queue claims through it).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS teams (
	id                TEXT PRIMARY KEY,
	name              TEXT NOT NULL,
	org               TEXT NOT NULL,
	repos             JSONB NOT NULL DEFAULT '[]',
	pipeline_status   TEXT NOT NULL DEFAULT 'not_started',
	status_updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
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
	last_synced_at TIMESTAMPTZ NOT NULL,
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
	reviewers  JSONB NOT NULL DEFAULT '[]',
	created_at TIMESTAMPTZ NOT NULL,
	merged_at  TIMESTAMPTZ,
	updated_at TIMESTAMPTZ NOT NULL,
	analysis   JSONB,
	UNIQUE(team_id, repo, number)
);

CREATE INDEX IF NOT EXISTS idx_prs_team ON pull_requests(team_id);
CREATE INDEX IF NOT EXISTS idx_prs_unanalyzed ON pull_requests(team_id) WHERE analysis IS NULL;

CREATE TABLE IF NOT EXISTS metric_periods (
	team_id           TEXT NOT NULL REFERENCES teams(id),
	period_start      TIMESTAMPTZ NOT NULL,
	pr_count          INTEGER NOT NULL,
	merged_count      INTEGER NOT NULL,
	avg_cycle_hours   DOUBLE PRECISION NOT NULL,
	review_coverage   DOUBLE PRECISION NOT NULL,
	ai_assisted_share DOUBLE PRECISION NOT NULL,
	avg_risk_score    DOUBLE PRECISION NOT NULL,
	computed_at       TIMESTAMPTZ NOT NULL,
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
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE(team_id, rule_key)
);

CREATE TABLE IF NOT EXISTS batch_jobs (
	id         TEXT PRIMARY KEY,
	team_id    TEXT NOT NULL REFERENCES teams(id),
	batch_id   TEXT NOT NULL UNIQUE,
	purpose    TEXT NOT NULL,
	model      TEXT NOT NULL,
	item_count INTEGER NOT NULL,
	open       BOOLEAN NOT NULL DEFAULT true,
	created_at TIMESTAMPTZ NOT NULL,
	closed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_batch_jobs_open ON batch_jobs(team_id, purpose) WHERE open;

CREATE TABLE IF NOT EXISTS tasks (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	team_id      TEXT NOT NULL,
	args         JSONB NOT NULL DEFAULT '{}',
	run_at       TIMESTAMPTZ NOT NULL,
	claimed_at   TIMESTAMPTZ,
	attempts     INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL DEFAULT 3,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(run_at) WHERE claimed_at IS NULL;
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateTeam(ctx context.Context, team model.Team) (*model.Team, error) {
	if team.ID == "" {
		team.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	team.PipelineStatus = model.StatusNotStarted
	team.StatusUpdatedAt = now
	team.CreatedAt = now

	reposJSON, err := json.Marshal(team.Repos)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal repos")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO teams (id, name, org, repos, pipeline_status, status_updated_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		team.ID, team.Name, team.Org, reposJSON, string(team.PipelineStatus), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert team")
	}

	return &team, nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, teamID string) (*model.Team, error) {
	var t model.Team
	var reposJSON []byte
	var status string

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, org, repos, pipeline_status, status_updated_at, created_at FROM teams WHERE id = $1`,
		teamID,
	).Scan(&t.ID, &t.Name, &t.Org, &reposJSON, &status, &t.StatusUpdatedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrTeamNotFound, "postgres: get team %s", teamID)
		}
		return nil, eris.Wrapf(err, "postgres: get team %s", teamID)
	}

	t.PipelineStatus = model.PipelineStatus(status)
	if err := json.Unmarshal(reposJSON, &t.Repos); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal repos")
	}
	return &t, nil
}

func (s *PostgresStore) ListTeams(ctx context.Context, filter TeamFilter) ([]model.Team, error) {
	query := `SELECT id, name, org, repos, pipeline_status, status_updated_at, created_at FROM teams WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND pipeline_status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list teams")
	}
	defer rows.Close()

	var teams []model.Team
	for rows.Next() {
		var t model.Team
		var reposJSON []byte
		var status string
		if err := rows.Scan(&t.ID, &t.Name, &t.Org, &reposJSON, &status, &t.StatusUpdatedAt, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan team")
		}
		t.PipelineStatus = model.PipelineStatus(status)
		if err := json.Unmarshal(reposJSON, &t.Repos); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal repos")
		}
		teams = append(teams, t)
	}
	return teams, eris.Wrap(rows.Err(), "postgres: list teams iterate")
}

func (s *PostgresStore) SetPipelineStatus(ctx context.Context, teamID string, status model.PipelineStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE teams SET pipeline_status = $1, status_updated_at = $2 WHERE id = $3 AND pipeline_status IS DISTINCT FROM $1`,
		string(status), time.Now().UTC(), teamID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: set pipeline status %s", teamID)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	// Unchanged value or missing team; distinguish them.
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM teams WHERE id = $1)`, teamID).Scan(&exists); err != nil {
		return false, eris.Wrapf(err, "postgres: check team %s", teamID)
	}
	if !exists {
		return false, eris.Wrapf(ErrTeamNotFound, "postgres: set pipeline status %s", teamID)
	}
	return false, nil
}

func (s *PostgresStore) TouchPipelineStatus(ctx context.Context, teamID string) (*model.Team, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE teams SET status_updated_at = $1 WHERE id = $2`,
		time.Now().UTC(), teamID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: touch pipeline status %s", teamID)
	}
	if tag.RowsAffected() == 0 {
		return nil, eris.Wrapf(ErrTeamNotFound, "postgres: touch pipeline status %s", teamID)
	}
	return s.GetTeam(ctx, teamID)
}

func (s *PostgresStore) UpsertMembers(ctx context.Context, teamID string, members []model.Member) (int, error) {
	count := 0
	for _, m := range members {
		id := m.ID
		if id == "" {
			id = uuid.New().String()
		}
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO members (id, team_id, login, name) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (team_id, login) DO UPDATE SET name = $4`,
			id, teamID, m.Login, m.Name,
		)
		if err != nil {
			return count, eris.Wrapf(err, "postgres: upsert member %s", m.Login)
		}
		count += int(tag.RowsAffected())
	}
	return count, nil
}

func (s *PostgresStore) GetWatermark(ctx context.Context, teamID, repo string) (time.Time, error) {
	var at time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT last_synced_at FROM sync_watermarks WHERE team_id = $1 AND repo = $2`,
		teamID, repo,
	).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, eris.Wrapf(err, "postgres: get watermark %s/%s", teamID, repo)
	}
	return at, nil
}

func (s *PostgresStore) SetWatermark(ctx context.Context, teamID, repo string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_watermarks (team_id, repo, last_synced_at) VALUES ($1, $2, $3)
		 ON CONFLICT (team_id, repo) DO UPDATE SET last_synced_at = $3`,
		teamID, repo, at,
	)
	return eris.Wrapf(err, "postgres: set watermark %s/%s", teamID, repo)
}

// pullRequestColumns is the BulkUpsert column list. Conflict is on the
// natural key; id and analysis stay untouched on re-sync so enrichment
// written against the original id survives.
var pullRequestUpsert = db.UpsertConfig{
	Table: "pull_requests",
	Columns: []string{
		"id", "team_id", "repo", "number", "title", "author",
		"additions", "deletions", "reviewers", "created_at", "merged_at", "updated_at",
	},
	ConflictKeys: []string{"team_id", "repo", "number"},
	UpdateCols: []string{
		"title", "author", "additions", "deletions", "reviewers", "merged_at", "updated_at",
	},
}

func (s *PostgresStore) UpsertPullRequests(ctx context.Context, prs []model.PullRequest) (int, error) {
	rows := make([][]any, 0, len(prs))
	for _, pr := range prs {
		id := pr.ID
		if id == "" {
			id = uuid.New().String()
		}
		reviewersJSON, err := json.Marshal(pr.Reviewers)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal reviewers")
		}
		var mergedAt *time.Time
		if !pr.MergedAt.IsZero() {
			mergedAt = &pr.MergedAt
		}
		rows = append(rows, []any{
			id, pr.TeamID, pr.Repo, pr.Number, pr.Title, pr.Author,
			pr.Additions, pr.Deletions, reviewersJSON, pr.CreatedAt, mergedAt, pr.UpdatedAt,
		})
	}

	n, err := db.BulkUpsert(ctx, s.pool, pullRequestUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert pull requests")
	}
	return int(n), nil
}

func (s *PostgresStore) ListPullRequests(ctx context.Context, teamID string, filter PRFilter) ([]model.PullRequest, error) {
	query := `SELECT id, team_id, repo, number, title, author, additions, deletions, reviewers, created_at, merged_at, updated_at, analysis
	          FROM pull_requests WHERE team_id = $1`
	args := []any{teamID}
	argIdx := 2

	if filter.OnlyUnanalyzed {
		query += ` AND analysis IS NULL`
	}
	query += ` ORDER BY updated_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pull requests")
	}
	defer rows.Close()

	var prs []model.PullRequest
	for rows.Next() {
		var pr model.PullRequest
		var reviewersJSON []byte
		var analysisJSON *[]byte
		var mergedAt *time.Time

		if err := rows.Scan(&pr.ID, &pr.TeamID, &pr.Repo, &pr.Number, &pr.Title, &pr.Author,
			&pr.Additions, &pr.Deletions, &reviewersJSON, &pr.CreatedAt, &mergedAt, &pr.UpdatedAt, &analysisJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan pull request")
		}
		if err := json.Unmarshal(reviewersJSON, &pr.Reviewers); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal reviewers")
		}
		if mergedAt != nil {
			pr.MergedAt = *mergedAt
		}
		if analysisJSON != nil {
			pr.Analysis = &model.PRAnalysis{}
			if err := json.Unmarshal(*analysisJSON, pr.Analysis); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal analysis")
			}
		}
		prs = append(prs, pr)
	}
	return prs, eris.Wrap(rows.Err(), "postgres: list pull requests iterate")
}

func (s *PostgresStore) UpdateAnalyses(ctx context.Context, teamID string, analyses map[string]*model.PRAnalysis) error {
	for prID, analysis := range analyses {
		analysisJSON, err := json.Marshal(analysis)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal analysis")
		}
		if _, err := s.pool.Exec(ctx,
			`UPDATE pull_requests SET analysis = $1 WHERE id = $2 AND team_id = $3`,
			analysisJSON, prID, teamID,
		); err != nil {
			return eris.Wrapf(err, "postgres: update analysis %s", prID)
		}
	}
	return nil
}

func (s *PostgresStore) UpsertMetricPeriods(ctx context.Context, periods []model.MetricPeriod) error {
	for _, p := range periods {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO metric_periods
			 (team_id, period_start, pr_count, merged_count, avg_cycle_hours, review_coverage, ai_assisted_share, avg_risk_score, computed_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 ON CONFLICT (team_id, period_start) DO UPDATE SET
			   pr_count = $3, merged_count = $4, avg_cycle_hours = $5,
			   review_coverage = $6, ai_assisted_share = $7, avg_risk_score = $8, computed_at = $9`,
			p.TeamID, p.PeriodStart, p.PRCount, p.MergedCount, p.AvgCycleHours,
			p.ReviewCoverage, p.AIAssistedShare, p.AvgRiskScore, p.ComputedAt,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: upsert metric period")
		}
	}
	return nil
}

func (s *PostgresStore) ListMetricPeriods(ctx context.Context, teamID string) ([]model.MetricPeriod, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT team_id, period_start, pr_count, merged_count, avg_cycle_hours, review_coverage, ai_assisted_share, avg_risk_score, computed_at
		 FROM metric_periods WHERE team_id = $1 ORDER BY period_start`,
		teamID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list metric periods")
	}
	defer rows.Close()

	var periods []model.MetricPeriod
	for rows.Next() {
		var p model.MetricPeriod
		if err := rows.Scan(&p.TeamID, &p.PeriodStart, &p.PRCount, &p.MergedCount,
			&p.AvgCycleHours, &p.ReviewCoverage, &p.AIAssistedShare, &p.AvgRiskScore, &p.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan metric period")
		}
		periods = append(periods, p)
	}
	return periods, eris.Wrap(rows.Err(), "postgres: list metric periods iterate")
}

func (s *PostgresStore) UpsertInsights(ctx context.Context, insights []model.Insight) error {
	for _, in := range insights {
		id := in.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := s.pool.Exec(ctx,
			`INSERT INTO insights (id, team_id, rule_key, severity, title, detail, narrative, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (team_id, rule_key) DO UPDATE SET
			   severity = $4, title = $5, detail = $6, created_at = $8`,
			id, in.TeamID, in.RuleKey, string(in.Severity), in.Title, in.Detail, in.Narrative, in.CreatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert insight %s", in.RuleKey)
		}
	}
	return nil
}

func (s *PostgresStore) ListInsights(ctx context.Context, teamID string) ([]model.Insight, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, team_id, rule_key, severity, title, detail, narrative, created_at
		 FROM insights WHERE team_id = $1 ORDER BY created_at`,
		teamID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list insights")
	}
	defer rows.Close()

	var insights []model.Insight
	for rows.Next() {
		var in model.Insight
		var severity string
		if err := rows.Scan(&in.ID, &in.TeamID, &in.RuleKey, &severity, &in.Title, &in.Detail, &in.Narrative, &in.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan insight")
		}
		in.Severity = model.InsightSeverity(severity)
		insights = append(insights, in)
	}
	return insights, eris.Wrap(rows.Err(), "postgres: list insights iterate")
}

func (s *PostgresStore) SetInsightNarrative(ctx context.Context, teamID, ruleKey, narrative string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE insights SET narrative = $1 WHERE team_id = $2 AND rule_key = $3`,
		narrative, teamID, ruleKey,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set insight narrative %s", ruleKey)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("insight not found: %s/%s", teamID, ruleKey)
	}
	return nil
}

func (s *PostgresStore) RecordBatchJob(ctx context.Context, job model.BatchJob) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batch_jobs (id, team_id, batch_id, purpose, model, item_count, open, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (batch_id) DO NOTHING`,
		job.ID, job.TeamID, job.BatchID, job.Purpose, job.Model, job.ItemCount, true, job.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: record batch job %s", job.BatchID)
}

func (s *PostgresStore) OpenBatchJob(ctx context.Context, teamID, purpose string) (*model.BatchJob, error) {
	var job model.BatchJob
	var closedAt *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, team_id, batch_id, purpose, model, item_count, open, created_at, closed_at
		 FROM batch_jobs WHERE team_id = $1 AND purpose = $2 AND open
		 ORDER BY created_at DESC LIMIT 1`,
		teamID, purpose,
	).Scan(&job.ID, &job.TeamID, &job.BatchID, &job.Purpose, &job.Model, &job.ItemCount, &job.Open, &job.CreatedAt, &closedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: open batch job %s/%s", teamID, purpose)
	}
	if closedAt != nil {
		job.ClosedAt = *closedAt
	}
	return &job, nil
}

func (s *PostgresStore) CloseBatchJob(ctx context.Context, batchID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE batch_jobs SET open = false, closed_at = $1 WHERE batch_id = $2`,
		time.Now().UTC(), batchID,
	)
	return eris.Wrapf(err, "postgres: close batch job %s", batchID)
}

func (s *PostgresStore) CountOpenBatchJobs(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM batch_jobs WHERE open`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count open batch jobs")
	}
	return n, nil
}
