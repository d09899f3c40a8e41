package insight

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlens/devlens/internal/model"
)

var week = time.Date(2026, 8, 3, 0, 0, 0, 0, time.UTC)

func period(weeksAgo int, mutate func(*model.MetricPeriod)) model.MetricPeriod {
	p := model.MetricPeriod{
		TeamID:         "team-1",
		PeriodStart:    week.AddDate(0, 0, -7*weeksAgo),
		PRCount:        10,
		MergedCount:    8,
		AvgCycleHours:  24,
		ReviewCoverage: 0.9,
		AvgRiskScore:   0.3,
	}
	if mutate != nil {
		mutate(&p)
	}
	return p
}

func ruleKeys(insights []model.Insight) []string {
	keys := make([]string, 0, len(insights))
	for _, in := range insights {
		keys = append(keys, in.RuleKey)
	}
	return keys
}

func TestEvaluate_HealthyTeamFiresNothing(t *testing.T) {
	periods := []model.MetricPeriod{period(2, nil), period(1, nil), period(0, nil)}
	insights := Evaluate("team-1", periods, nil, time.Now())
	assert.Empty(t, insights)
}

func TestEvaluate_ReviewCoverageLow(t *testing.T) {
	periods := []model.MetricPeriod{
		period(0, func(p *model.MetricPeriod) { p.ReviewCoverage = 0.4 }),
	}
	insights := Evaluate("team-1", periods, nil, time.Now())
	assert.Contains(t, ruleKeys(insights), "review_coverage_low")
}

func TestEvaluate_ReviewCoverageSkipsMergelessWeek(t *testing.T) {
	// The latest week had no merges; the rule reads the last week that did.
	periods := []model.MetricPeriod{
		period(1, func(p *model.MetricPeriod) { p.ReviewCoverage = 0.2 }),
		period(0, func(p *model.MetricPeriod) { p.MergedCount = 0; p.ReviewCoverage = 0 }),
	}
	insights := Evaluate("team-1", periods, nil, time.Now())
	assert.Contains(t, ruleKeys(insights), "review_coverage_low")
}

func TestEvaluate_CycleTimeHigh(t *testing.T) {
	periods := []model.MetricPeriod{
		period(0, func(p *model.MetricPeriod) { p.AvgCycleHours = 96 }),
	}
	insights := Evaluate("team-1", periods, nil, time.Now())
	assert.Contains(t, ruleKeys(insights), "cycle_time_high")
}

func TestEvaluate_RiskRising(t *testing.T) {
	periods := []model.MetricPeriod{
		period(2, func(p *model.MetricPeriod) { p.AvgRiskScore = 0.2 }),
		period(1, func(p *model.MetricPeriod) { p.AvgRiskScore = 0.35 }),
		period(0, func(p *model.MetricPeriod) { p.AvgRiskScore = 0.5 }),
	}
	insights := Evaluate("team-1", periods, nil, time.Now())
	assert.Contains(t, ruleKeys(insights), "risk_rising")

	// A dip in the middle breaks the streak.
	periods[1].AvgRiskScore = 0.1
	insights = Evaluate("team-1", periods, nil, time.Now())
	assert.NotContains(t, ruleKeys(insights), "risk_rising")
}

func TestEvaluate_RiskRisingNeedsHistory(t *testing.T) {
	periods := []model.MetricPeriod{
		period(1, func(p *model.MetricPeriod) { p.AvgRiskScore = 0.2 }),
		period(0, func(p *model.MetricPeriod) { p.AvgRiskScore = 0.5 }),
	}
	insights := Evaluate("team-1", periods, nil, time.Now())
	assert.NotContains(t, ruleKeys(insights), "risk_rising")
}

func TestEvaluate_AIShareHigh(t *testing.T) {
	periods := []model.MetricPeriod{
		period(0, func(p *model.MetricPeriod) { p.AIAssistedShare = 0.75 }),
	}
	insights := Evaluate("team-1", periods, nil, time.Now())
	require.Len(t, insights, 1)
	assert.Equal(t, "ai_share_high", insights[0].RuleKey)
	assert.Equal(t, model.SeverityInfo, insights[0].Severity)
	assert.Equal(t, "Ai Share High", insights[0].Title)
}

func TestEvaluate_EnrichmentFailures(t *testing.T) {
	prs := []model.PullRequest{
		{Analysis: &model.PRAnalysis{Failed: true, Error: "x"}},
		{Analysis: &model.PRAnalysis{Summary: "s", Category: model.CategoryFix}},
		{Analysis: &model.PRAnalysis{Summary: "s", Category: model.CategoryFix}},
	}
	insights := Evaluate("team-1", nil, prs, time.Now())
	require.Len(t, insights, 1)
	assert.Equal(t, "enrichment_failures", insights[0].RuleKey)
	assert.Contains(t, insights[0].Detail, "1 of 3")
}
