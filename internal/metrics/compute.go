// Package metrics aggregates enriched pull requests into weekly team
// metrics. Aggregation is pure recomputation over stored rows, so running
// it twice for the same team is harmless.
package metrics

import (
	"sort"
	"time"

	"github.com/devlens/devlens/internal/model"
)

// weekStart truncates t to the Monday 00:00 UTC of its ISO week.
func weekStart(t time.Time) time.Time {
	t = t.UTC()
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	day := t.AddDate(0, 0, -(weekday - 1))
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

// Compute buckets pull requests into weekly periods keyed by creation
// date and derives per-period rates. Periods with no PRs are omitted.
func Compute(teamID string, prs []model.PullRequest, now time.Time) []model.MetricPeriod {
	type bucket struct {
		prCount     int
		merged      int
		cycleHours  float64
		reviewed    int
		analyzed    int
		aiAssisted  int
		riskTotal   float64
	}

	buckets := make(map[time.Time]*bucket)
	for _, pr := range prs {
		start := weekStart(pr.CreatedAt)
		b := buckets[start]
		if b == nil {
			b = &bucket{}
			buckets[start] = b
		}
		b.prCount++
		if !pr.MergedAt.IsZero() {
			b.merged++
			b.cycleHours += pr.MergedAt.Sub(pr.CreatedAt).Hours()
			if len(pr.Reviewers) > 0 {
				b.reviewed++
			}
		}
		if pr.Analysis != nil && !pr.Analysis.Failed {
			b.analyzed++
			if pr.Analysis.AIAssisted {
				b.aiAssisted++
			}
			b.riskTotal += pr.Analysis.RiskScore
		}
	}

	periods := make([]model.MetricPeriod, 0, len(buckets))
	for start, b := range buckets {
		p := model.MetricPeriod{
			TeamID:      teamID,
			PeriodStart: start,
			PRCount:     b.prCount,
			MergedCount: b.merged,
			ComputedAt:  now.UTC(),
		}
		if b.merged > 0 {
			p.AvgCycleHours = b.cycleHours / float64(b.merged)
			p.ReviewCoverage = float64(b.reviewed) / float64(b.merged)
		}
		if b.analyzed > 0 {
			p.AIAssistedShare = float64(b.aiAssisted) / float64(b.analyzed)
			p.AvgRiskScore = b.riskTotal / float64(b.analyzed)
		}
		periods = append(periods, p)
	}

	sort.Slice(periods, func(i, j int) bool {
		return periods[i].PeriodStart.Before(periods[j].PeriodStart)
	})
	return periods
}
