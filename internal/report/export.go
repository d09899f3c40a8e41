// Package report writes a team's synced history, weekly metrics, and
// findings to an XLSX workbook for offline review.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/internal/store"
)

// Exporter builds XLSX reports from the store.
type Exporter struct {
	store  store.Store
	logger *zap.Logger
}

func NewExporter(st store.Store) *Exporter {
	return &Exporter{store: st, logger: zap.L().Named("report")}
}

// Export writes the full workbook for one team to path.
func (e *Exporter) Export(ctx context.Context, teamID, path string) error {
	team, err := e.store.GetTeam(ctx, teamID)
	if err != nil {
		return eris.Wrapf(err, "report: load team %s", teamID)
	}
	periods, err := e.store.ListMetricPeriods(ctx, teamID)
	if err != nil {
		return eris.Wrap(err, "report: load metrics")
	}
	insights, err := e.store.ListInsights(ctx, teamID)
	if err != nil {
		return eris.Wrap(err, "report: load insights")
	}
	prs, err := e.store.ListPullRequests(ctx, teamID, store.PRFilter{})
	if err != nil {
		return eris.Wrap(err, "report: load pull requests")
	}

	f := xlsx.NewFile()
	if err := addOverviewSheet(f, team, len(periods), len(insights), len(prs)); err != nil {
		return err
	}
	if err := addMetricsSheet(f, periods); err != nil {
		return err
	}
	if err := addInsightsSheet(f, insights); err != nil {
		return err
	}
	if err := addPullsSheet(f, prs); err != nil {
		return err
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}

	e.logger.Info("report written",
		zap.String("team_id", teamID),
		zap.String("path", path),
		zap.Int("pull_requests", len(prs)),
	)
	return nil
}

func addOverviewSheet(f *xlsx.File, team *model.Team, periods, insights, prs int) error {
	sheet, err := f.AddSheet("Overview")
	if err != nil {
		return eris.Wrap(err, "report: add overview sheet")
	}

	rows := [][]string{
		{"Team", team.Name},
		{"Org", team.Org},
		{"Repos", fmt.Sprintf("%d", len(team.Repos))},
		{"Pipeline status", string(team.PipelineStatus)},
		{"Status updated", team.StatusUpdatedAt.UTC().Format(time.RFC3339)},
		{"Weekly periods", fmt.Sprintf("%d", periods)},
		{"Insights", fmt.Sprintf("%d", insights)},
		{"Pull requests", fmt.Sprintf("%d", prs)},
	}
	for _, r := range rows {
		row := sheet.AddRow()
		for _, v := range r {
			row.AddCell().SetString(v)
		}
	}
	return nil
}

func addMetricsSheet(f *xlsx.File, periods []model.MetricPeriod) error {
	sheet, err := f.AddSheet("Weekly Metrics")
	if err != nil {
		return eris.Wrap(err, "report: add metrics sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{
		"Week", "PRs", "Merged", "Avg cycle hours",
		"Review coverage", "AI-assisted share", "Avg risk",
	} {
		header.AddCell().SetString(h)
	}

	for _, p := range periods {
		row := sheet.AddRow()
		row.AddCell().SetString(p.PeriodStart.Format("2006-01-02"))
		row.AddCell().SetInt(p.PRCount)
		row.AddCell().SetInt(p.MergedCount)
		row.AddCell().SetFloat(p.AvgCycleHours)
		row.AddCell().SetFloat(p.ReviewCoverage)
		row.AddCell().SetFloat(p.AIAssistedShare)
		row.AddCell().SetFloat(p.AvgRiskScore)
	}
	return nil
}

func addInsightsSheet(f *xlsx.File, insights []model.Insight) error {
	sheet, err := f.AddSheet("Insights")
	if err != nil {
		return eris.Wrap(err, "report: add insights sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{"Rule", "Severity", "Title", "Detail", "Narrative"} {
		header.AddCell().SetString(h)
	}

	for _, in := range insights {
		row := sheet.AddRow()
		row.AddCell().SetString(in.RuleKey)
		row.AddCell().SetString(string(in.Severity))
		row.AddCell().SetString(in.Title)
		row.AddCell().SetString(in.Detail)
		row.AddCell().SetString(in.Narrative)
	}
	return nil
}

func addPullsSheet(f *xlsx.File, prs []model.PullRequest) error {
	sheet, err := f.AddSheet("Pull Requests")
	if err != nil {
		return eris.Wrap(err, "report: add pulls sheet")
	}

	header := sheet.AddRow()
	for _, h := range []string{
		"Repo", "Number", "Title", "Author", "Created", "Merged",
		"Category", "Risk", "AI-assisted", "Summary",
	} {
		header.AddCell().SetString(h)
	}

	for _, pr := range prs {
		row := sheet.AddRow()
		row.AddCell().SetString(pr.Repo)
		row.AddCell().SetInt(pr.Number)
		row.AddCell().SetString(pr.Title)
		row.AddCell().SetString(pr.Author)
		row.AddCell().SetString(pr.CreatedAt.Format("2006-01-02"))
		if pr.MergedAt.IsZero() {
			row.AddCell().SetString("")
		} else {
			row.AddCell().SetString(pr.MergedAt.Format("2006-01-02"))
		}

		if pr.Analysis == nil || pr.Analysis.Failed {
			row.AddCell().SetString("")
			row.AddCell().SetString("")
			row.AddCell().SetString("")
			if pr.Analysis != nil {
				row.AddCell().SetString("enrichment failed: " + pr.Analysis.Error)
			} else {
				row.AddCell().SetString("")
			}
			continue
		}

		row.AddCell().SetString(string(pr.Analysis.Category))
		row.AddCell().SetFloat(pr.Analysis.RiskScore)
		row.AddCell().SetBool(pr.Analysis.AIAssisted)
		row.AddCell().SetString(pr.Analysis.Summary)
	}
	return nil
}
