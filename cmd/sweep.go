package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/pipeline"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one recovery scan over all team pipelines",
	Long:  "Nudges teams whose pipeline status has exceeded its stage timeout and re-opens completed teams that are due for a background resync.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		timeouts, err := config.LoadStageTimeouts(cfg.Sweep.TimeoutsFile)
		if err != nil {
			return err
		}
		sweeper := pipeline.NewSweeper(env.Store, env.Tracker, pipeline.SweepConfig{
			DefaultTimeout: time.Duration(cfg.Sweep.DefaultTimeoutM) * time.Minute,
			Timeouts:       timeouts,
			ResyncAfter:    time.Duration(cfg.Sweep.ResyncHours) * time.Hour,
		})

		acted, err := sweeper.Sweep(ctx)
		if err != nil {
			return eris.Wrap(err, "sweep")
		}

		fmt.Printf("Sweep complete: acted on %d team(s)\n", acted)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
