package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/internal/store"
)

var teamsStatus string

var teamsCmd = &cobra.Command{
	Use:   "teams",
	Short: "List teams and their pipeline progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		filter := store.TeamFilter{}
		if teamsStatus != "" {
			ps := model.PipelineStatus(teamsStatus)
			if !ps.Valid() {
				return eris.Errorf("unknown status %q", teamsStatus)
			}
			filter.Status = ps
		}

		teams, err := env.Store.ListTeams(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list teams")
		}
		if len(teams) == 0 {
			fmt.Println("No teams found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"ID", "Name", "Org", "Repos", "Status", "Progress", "Updated"})
		for _, t := range teams {
			table.Append([]string{
				t.ID,
				t.Name,
				t.Org,
				strings.Join(t.Repos, ","),
				string(t.PipelineStatus),
				fmt.Sprintf("%d%%", t.PipelineStatus.Percent()),
				t.StatusUpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	teamsCmd.Flags().StringVar(&teamsStatus, "status", "", "filter by pipeline status")
	rootCmd.AddCommand(teamsCmd)
}
