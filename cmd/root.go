package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "devlens",
	Short: "Engineering team analytics pipeline",
	Long:  "Syncs team history from GitHub, enriches pull requests with batched Claude analysis, computes weekly metrics and insights, and keeps teams continuously up to date.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
