// Package server exposes the dashboard API: team pipeline progress,
// computed metrics and insights, and a health snapshot. All pipeline
// work happens in the queue workers; the only write endpoint enqueues
// an onboarding.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/monitoring"
	"github.com/devlens/devlens/internal/store"
)

// Onboarder starts the pipeline for a newly created team.
type Onboarder interface {
	StartOnboarding(ctx context.Context, teamID string) error
}

// Server serves the dashboard API.
type Server struct {
	store     store.Store
	onboarder Onboarder
	collector *monitoring.Collector
	cfg       config.ServerConfig
	stalled   time.Duration
	logger    *zap.Logger
}

func New(st store.Store, onboarder Onboarder, collector *monitoring.Collector, cfg config.ServerConfig, stalledAfter time.Duration) *Server {
	if stalledAfter <= 0 {
		stalledAfter = time.Hour
	}
	return &Server{
		store:     st,
		onboarder: onboarder,
		collector: collector,
		cfg:       cfg,
		stalled:   stalledAfter,
		logger:    zap.L().Named("server"),
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/monitoring/snapshot", s.handleStatus)
		r.Get("/teams", s.handleListTeams)
		r.Post("/teams", s.handleCreateTeam)
		r.Route("/teams/{teamID}", func(r chi.Router) {
			r.Get("/", s.handleGetTeam)
			r.Get("/pipeline", s.handleTeamPipeline)
			r.Get("/metrics", s.handleTeamMetrics)
			r.Get("/insights", s.handleTeamInsights)
			r.Get("/pulls", s.handleTeamPulls)
		})
	})

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return eris.Wrap(err, "server: shutdown")
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	}
}
