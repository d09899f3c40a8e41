package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/monitoring"
	"github.com/devlens/devlens/internal/pipeline"
	"github.com/devlens/devlens/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline worker pool and recovery sweep",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := requireProviderKeys(); err != nil {
			return err
		}

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		worker := queue.NewWorker(env.Queue, queue.WorkerConfig{
			Workers:      cfg.Queue.Workers,
			PollInterval: time.Duration(cfg.Queue.PollMillis) * time.Millisecond,
		})
		env.Units.Register(worker)

		timeouts, err := config.LoadStageTimeouts(cfg.Sweep.TimeoutsFile)
		if err != nil {
			return err
		}
		sweeper := pipeline.NewSweeper(env.Store, env.Tracker, pipeline.SweepConfig{
			Interval:       time.Duration(cfg.Sweep.IntervalMins) * time.Minute,
			DefaultTimeout: time.Duration(cfg.Sweep.DefaultTimeoutM) * time.Minute,
			Timeouts:       timeouts,
			ResyncAfter:    time.Duration(cfg.Sweep.ResyncHours) * time.Hour,
		})

		checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)

		zap.L().Info("worker starting",
			zap.Int("workers", cfg.Queue.Workers),
			zap.String("driver", cfg.Store.Driver),
		)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return worker.Run(gctx) })
		g.Go(func() error { return sweeper.Run(gctx) })
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})

		if err := g.Wait(); err != nil && !eris.Is(err, context.Canceled) {
			return eris.Wrap(err, "worker")
		}
		zap.L().Info("worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
