// Package insight derives rule-based findings from a team's metric
// history and optionally narrates them with the LLM. Rules are pure
// functions of the metric rows; recomputing a rule updates the stored
// insight in place.
package insight

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/devlens/devlens/internal/model"
)

// Thresholds the rules fire at. Tuned against the pilot teams; a config
// surface for these has not been needed yet.
const (
	lowReviewCoverage  = 0.5
	highCycleHours     = 72.0
	highAIShare        = 0.6
	riskRiseMinPeriods = 3
	highFailureShare   = 0.1
)

var titleCaser = cases.Title(language.English)

// Rule evaluates one condition over the metric history. A nil return
// means the rule did not fire.
type Rule struct {
	Key      string
	Severity model.InsightSeverity
	Eval     func(periods []model.MetricPeriod, prs []model.PullRequest) (detail string, fired bool)
}

// Rules is the evaluation order. Keys are stable: they are the upsert
// identity of the stored insight.
var Rules = []Rule{
	{
		Key:      "review_coverage_low",
		Severity: model.SeverityWarning,
		Eval: func(periods []model.MetricPeriod, _ []model.PullRequest) (string, bool) {
			p, ok := latestWithMerges(periods)
			if !ok || p.ReviewCoverage >= lowReviewCoverage {
				return "", false
			}
			return fmt.Sprintf("only %.0f%% of merged PRs in the week of %s had a reviewer",
				p.ReviewCoverage*100, p.PeriodStart.Format("Jan 2")), true
		},
	},
	{
		Key:      "cycle_time_high",
		Severity: model.SeverityWarning,
		Eval: func(periods []model.MetricPeriod, _ []model.PullRequest) (string, bool) {
			p, ok := latestWithMerges(periods)
			if !ok || p.AvgCycleHours <= highCycleHours {
				return "", false
			}
			return fmt.Sprintf("average open-to-merge time reached %.0f hours in the week of %s",
				p.AvgCycleHours, p.PeriodStart.Format("Jan 2")), true
		},
	},
	{
		Key:      "risk_rising",
		Severity: model.SeverityWarning,
		Eval: func(periods []model.MetricPeriod, _ []model.PullRequest) (string, bool) {
			if len(periods) < riskRiseMinPeriods {
				return "", false
			}
			tail := periods[len(periods)-riskRiseMinPeriods:]
			for i := 1; i < len(tail); i++ {
				if tail[i].AvgRiskScore <= tail[i-1].AvgRiskScore {
					return "", false
				}
			}
			return fmt.Sprintf("average risk score rose for %d consecutive weeks, reaching %.2f",
				riskRiseMinPeriods, tail[len(tail)-1].AvgRiskScore), true
		},
	},
	{
		Key:      "ai_share_high",
		Severity: model.SeverityInfo,
		Eval: func(periods []model.MetricPeriod, _ []model.PullRequest) (string, bool) {
			p, ok := latest(periods)
			if !ok || p.AIAssistedShare <= highAIShare {
				return "", false
			}
			return fmt.Sprintf("%.0f%% of analyzed PRs in the week of %s appear AI-assisted",
				p.AIAssistedShare*100, p.PeriodStart.Format("Jan 2")), true
		},
	},
	{
		Key:      "enrichment_failures",
		Severity: model.SeverityInfo,
		Eval: func(_ []model.MetricPeriod, prs []model.PullRequest) (string, bool) {
			if len(prs) == 0 {
				return "", false
			}
			failed := 0
			for _, pr := range prs {
				if pr.Analysis != nil && pr.Analysis.Failed {
					failed++
				}
			}
			share := float64(failed) / float64(len(prs))
			if share <= highFailureShare {
				return "", false
			}
			return fmt.Sprintf("%d of %d PRs could not be analyzed by either model", failed, len(prs)), true
		},
	},
}

func latest(periods []model.MetricPeriod) (model.MetricPeriod, bool) {
	if len(periods) == 0 {
		return model.MetricPeriod{}, false
	}
	return periods[len(periods)-1], true
}

func latestWithMerges(periods []model.MetricPeriod) (model.MetricPeriod, bool) {
	for i := len(periods) - 1; i >= 0; i-- {
		if periods[i].MergedCount > 0 {
			return periods[i], true
		}
	}
	return model.MetricPeriod{}, false
}

// Evaluate runs every rule and returns the fired insights. Periods must
// be sorted ascending by PeriodStart, which is how the store returns them.
func Evaluate(teamID string, periods []model.MetricPeriod, prs []model.PullRequest, now time.Time) []model.Insight {
	var out []model.Insight
	for _, r := range Rules {
		detail, fired := r.Eval(periods, prs)
		if !fired {
			continue
		}
		out = append(out, model.Insight{
			TeamID:    teamID,
			RuleKey:   r.Key,
			Severity:  r.Severity,
			Title:     titleCaser.String(strings.ReplaceAll(r.Key, "_", " ")),
			Detail:    detail,
			CreatedAt: now.UTC(),
		})
	}
	return out
}
