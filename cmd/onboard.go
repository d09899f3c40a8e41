package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/devlens/devlens/internal/model"
)

var (
	onboardName  string
	onboardOrg   string
	onboardRepos []string
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Register a team and start its onboarding pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if onboardName == "" || onboardOrg == "" {
			return eris.New("--name and --org are required")
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		team, err := env.Store.CreateTeam(ctx, model.Team{
			Name:  onboardName,
			Org:   onboardOrg,
			Repos: onboardRepos,
		})
		if err != nil {
			return eris.Wrap(err, "create team")
		}

		if err := env.Tracker.StartOnboarding(ctx, team.ID); err != nil {
			return eris.Wrap(err, "start onboarding")
		}

		fmt.Printf("Team %s (%s) onboarding started\n", team.Name, team.ID)
		fmt.Println("Run `devlens worker` to process the pipeline.")
		return nil
	},
}

func init() {
	onboardCmd.Flags().StringVar(&onboardName, "name", "", "team name")
	onboardCmd.Flags().StringVar(&onboardOrg, "org", "", "GitHub organization")
	onboardCmd.Flags().StringSliceVar(&onboardRepos, "repos", nil, "repositories to sync (org/name)")
	rootCmd.AddCommand(onboardCmd)
}
