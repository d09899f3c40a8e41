package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/enrich"
	"github.com/devlens/devlens/internal/insight"
	"github.com/devlens/devlens/internal/monitoring"
	"github.com/devlens/devlens/internal/notify"
	"github.com/devlens/devlens/internal/pipeline"
	"github.com/devlens/devlens/internal/queue"
	"github.com/devlens/devlens/internal/store"
	anthropicpkg "github.com/devlens/devlens/pkg/anthropic"
	"github.com/devlens/devlens/pkg/github"
	"github.com/devlens/devlens/pkg/notion"
)

// appEnv holds the initialized store, queue, and pipeline components
// shared by the worker/serve/onboard commands.
type appEnv struct {
	Store     store.Store
	Queue     queue.Queue
	Tracker   *pipeline.Tracker
	Units     *pipeline.Units
	Collector *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv sets up the store, task queue, provider clients, and pipeline
// wiring. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	q, err := initQueue(st)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	tracker := pipeline.NewTracker(st, q, time.Duration(cfg.Queue.DispatchDelaySec)*time.Second)

	githubClient := github.NewClient(cfg.GitHub.Token, github.WithRateLimit(cfg.GitHub.RequestsPerSec))
	anthropicClient := anthropicpkg.NewClient(cfg.Anthropic.Key)

	engine := enrich.NewEngine(st, anthropicClient, enrich.Config{
		PrimaryModel:  cfg.Anthropic.PrimaryModel,
		FallbackModel: cfg.Anthropic.FallbackModel,
		MaxBatchSize:  cfg.Anthropic.MaxBatchSize,
		PollInterval:  time.Duration(cfg.Anthropic.PollIntervalSecs) * time.Second,
		PollTimeout:   time.Duration(cfg.Anthropic.PollTimeoutMins) * time.Minute,
	})

	// The fallback model writes insight narratives; narration quality
	// matters more than its volume.
	narrator := insight.NewNarrator(st, anthropicClient, cfg.Anthropic.FallbackModel)

	var notifier notify.Notifier = notify.LogNotifier{}
	if cfg.Notify.NotionToken != "" && cfg.Notify.NotionDB != "" {
		notifier = notify.NewNotion(notion.NewClient(cfg.Notify.NotionToken), cfg.Notify.NotionDB)
		zap.L().Info("notion notifications enabled")
	} else {
		zap.L().Debug("notion not configured, milestones log only")
	}

	units := pipeline.NewUnits(st, tracker, githubClient, engine, narrator, notifier, pipeline.UnitsConfig{
		WindowDays: cfg.GitHub.WindowDays,
	})

	return &appEnv{
		Store:     st,
		Queue:     q,
		Tracker:   tracker,
		Units:     units,
		Collector: monitoring.NewCollector(st, q),
	}, nil
}

// initQueue builds the task queue on the same database the store uses.
func initQueue(st store.Store) (queue.Queue, error) {
	opts := &queue.Options{
		Lease:       time.Duration(cfg.Queue.LeaseSecs) * time.Second,
		MaxAttempts: cfg.Queue.MaxAttempts,
	}

	switch s := st.(type) {
	case *store.PostgresStore:
		return queue.NewPG(s.Pool(), opts), nil
	case *store.SQLiteStore:
		return queue.NewSQLite(s.DB(), opts), nil
	default:
		return nil, eris.Errorf("no queue backend for store type %T", st)
	}
}

func requireProviderKeys() error {
	if cfg.GitHub.Token == "" {
		return eris.New("DEVLENS_GITHUB_TOKEN is required")
	}
	if cfg.Anthropic.Key == "" {
		return eris.New("DEVLENS_ANTHROPIC_KEY is required")
	}
	return nil
}
