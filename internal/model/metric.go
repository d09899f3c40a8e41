package model

import "time"

// MetricPeriod holds one team's aggregated metrics for a weekly period.
// Upserted by (team_id, period_start) so re-running aggregation is safe.
type MetricPeriod struct {
	TeamID      string    `json:"team_id"`
	PeriodStart time.Time `json:"period_start"`

	PRCount         int       `json:"pr_count"`
	MergedCount     int       `json:"merged_count"`
	AvgCycleHours   float64   `json:"avg_cycle_hours"`
	ReviewCoverage  float64   `json:"review_coverage"`
	AIAssistedShare float64   `json:"ai_assisted_share"`
	AvgRiskScore    float64   `json:"avg_risk_score"`
	ComputedAt      time.Time `json:"computed_at"`
}

// InsightSeverity ranks rule-based findings.
type InsightSeverity string

const (
	SeverityInfo    InsightSeverity = "info"
	SeverityWarning InsightSeverity = "warning"
)

// Insight is one finding about a team, produced by the rule pass and
// optionally narrated by the LLM pass. RuleKey is the natural id: one
// insight per (team, rule).
type Insight struct {
	ID        string          `json:"id"`
	TeamID    string          `json:"team_id"`
	RuleKey   string          `json:"rule_key"`
	Severity  InsightSeverity `json:"severity"`
	Title     string          `json:"title"`
	Detail    string          `json:"detail"`
	Narrative string          `json:"narrative,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// BatchJob is the audit record for one submission to the inference
// provider. The live batch object is ephemeral; this row exists so a
// re-delivered work unit can resume an open batch instead of resubmitting,
// and for observability afterwards.
type BatchJob struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	BatchID   string    `json:"batch_id"`
	Purpose   string    `json:"purpose"` // e.g. "enrich_primary", "background_fallback"
	Model     string    `json:"model"`
	ItemCount int       `json:"item_count"`
	Open      bool      `json:"open"`
	CreatedAt time.Time `json:"created_at"`
	ClosedAt  time.Time `json:"closed_at,omitempty"`
}
