package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/devlens/devlens/internal/report"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export <team-id>",
	Short: "Write a team's metrics, insights, and history to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		teamID := args[0]

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		out := exportOut
		if out == "" {
			out = fmt.Sprintf("%s.xlsx", teamID)
		}

		if err := report.NewExporter(env.Store).Export(ctx, teamID, out); err != nil {
			return eris.Wrap(err, "export")
		}

		fmt.Printf("Report written to %s\n", out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "", "output path (defaults to <team-id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
