package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/devlens/devlens/internal/model"
)

var statusCmd = &cobra.Command{
	Use:   "status [team-id]",
	Short: "Show a pipeline health snapshot, or one team's progress",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if len(args) == 1 {
			return teamStatus(cmd, env, args[0])
		}

		stalledAfter := time.Duration(cfg.Monitoring.StalledAfterMins) * time.Minute
		snap, err := env.Collector.Collect(ctx, stalledAfter)
		if err != nil {
			return eris.Wrap(err, "collect snapshot")
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Metric", "Value"})
		table.Append([]string{"Teams", fmt.Sprintf("%d", snap.TeamsTotal)})
		table.Append([]string{"Onboarding", fmt.Sprintf("%d", snap.TeamsOnboarding)})
		table.Append([]string{"Complete", fmt.Sprintf("%d", snap.TeamsComplete)})
		table.Append([]string{"Stalled", fmt.Sprintf("%d", len(snap.Stalled))})
		table.Append([]string{"Queue depth", fmt.Sprintf("%d", snap.QueueDepth)})
		table.Append([]string{"Open batches", fmt.Sprintf("%d", snap.OpenBatchJobs)})
		table.Render()

		if len(snap.Stalled) > 0 {
			fmt.Println()
			stTable := tablewriter.NewWriter(os.Stdout)
			stTable.SetHeader([]string{"Team", "Status", "Stalled for"})
			for _, s := range snap.Stalled {
				stTable.Append([]string{s.Name, s.Status, s.Age.Round(time.Minute).String()})
			}
			stTable.Render()
		}

		// Per-status breakdown in pipeline order.
		fmt.Println()
		byStatus := tablewriter.NewWriter(os.Stdout)
		byStatus.SetHeader([]string{"Pipeline status", "Teams"})
		for _, status := range model.AllStatuses() {
			if n := snap.TeamsByStatus[string(status)]; n > 0 {
				byStatus.Append([]string{string(status), fmt.Sprintf("%d", n)})
			}
		}
		byStatus.Render()
		return nil
	},
}

func teamStatus(cmd *cobra.Command, env *appEnv, teamID string) error {
	ctx := cmd.Context()

	team, err := env.Store.GetTeam(ctx, teamID)
	if err != nil {
		return eris.Wrap(err, "load team")
	}
	periods, err := env.Store.ListMetricPeriods(ctx, teamID)
	if err != nil {
		return eris.Wrap(err, "load metrics")
	}
	insights, err := env.Store.ListInsights(ctx, teamID)
	if err != nil {
		return eris.Wrap(err, "load insights")
	}

	fmt.Printf("%s (%s): %s, %d%%\n\n",
		team.Name, team.Org, team.PipelineStatus, team.PipelineStatus.Percent())

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Week", "PRs", "Merged", "Cycle (h)", "Coverage", "AI share", "Risk"})
	for _, p := range periods {
		table.Append([]string{
			p.PeriodStart.Format("2006-01-02"),
			fmt.Sprintf("%d", p.PRCount),
			fmt.Sprintf("%d", p.MergedCount),
			fmt.Sprintf("%.1f", p.AvgCycleHours),
			fmt.Sprintf("%.2f", p.ReviewCoverage),
			fmt.Sprintf("%.2f", p.AIAssistedShare),
			fmt.Sprintf("%.2f", p.AvgRiskScore),
		})
	}
	table.Render()

	if len(insights) > 0 {
		fmt.Println()
		inTable := tablewriter.NewWriter(os.Stdout)
		inTable.SetHeader([]string{"Severity", "Insight", "Detail"})
		for _, in := range insights {
			inTable.Append([]string{string(in.Severity), in.Title, in.Detail})
		}
		inTable.Render()
	}
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
