package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/devlens/devlens/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dashboard API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		serverCfg := cfg.Server
		if servePort > 0 {
			serverCfg.Port = servePort
		}

		srv := server.New(env.Store, env.Tracker, env.Collector, serverCfg,
			time.Duration(cfg.Monitoring.StalledAfterMins)*time.Minute)
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override configured listen port")
	rootCmd.AddCommand(serveCmd)
}
