package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/internal/store"
)

// teamSummary is the list-view shape. Percent maps pipeline status to a
// coarse progress value for the dashboard bar.
type teamSummary struct {
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Org             string   `json:"org"`
	Repos           []string `json:"repos"`
	PipelineStatus  string   `json:"pipeline_status"`
	Percent         int      `json:"percent"`
	StatusUpdatedAt string   `json:"status_updated_at"`
}

func summarize(t model.Team) teamSummary {
	return teamSummary{
		ID:              t.ID,
		Name:            t.Name,
		Org:             t.Org,
		Repos:           t.Repos,
		PipelineStatus:  string(t.PipelineStatus),
		Percent:         t.PipelineStatus.Percent(),
		StatusUpdatedAt: t.StatusUpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.collector.Collect(r.Context(), s.stalled)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	filter := store.TeamFilter{}
	if status := r.URL.Query().Get("status"); status != "" {
		ps := model.PipelineStatus(status)
		if !ps.Valid() {
			s.writeError(w, http.StatusBadRequest, eris.Errorf("unknown status %q", status))
			return
		}
		filter.Status = ps
	}

	teams, err := s.store.ListTeams(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := make([]teamSummary, 0, len(teams))
	for _, t := range teams {
		out = append(out, summarize(t))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"teams": out})
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string   `json:"name"`
		Org   string   `json:"org"`
		Repos []string `json:"repos"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, eris.New("invalid request body"))
		return
	}
	if req.Name == "" || req.Org == "" {
		s.writeError(w, http.StatusBadRequest, eris.New("name and org are required"))
		return
	}

	team, err := s.store.CreateTeam(r.Context(), model.Team{
		Name:  req.Name,
		Org:   req.Org,
		Repos: req.Repos,
	})
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.onboarder.StartOnboarding(r.Context(), team.ID); err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.logger.Info("onboarding started",
		zap.String("team_id", team.ID),
		zap.String("org", team.Org),
	)
	s.writeJSON(w, http.StatusAccepted, summarize(*team))
}

func (s *Server) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, ok := s.lookupTeam(w, r)
	if !ok {
		return
	}

	periods, err := s.store.ListMetricPeriods(r.Context(), team.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	insights, err := s.store.ListInsights(r.Context(), team.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"team":     summarize(*team),
		"metrics":  periods,
		"insights": insights,
	})
}

func (s *Server) handleTeamPipeline(w http.ResponseWriter, r *http.Request) {
	team, ok := s.lookupTeam(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":            string(team.PipelineStatus),
		"percent":           team.PipelineStatus.Percent(),
		"terminal":          team.PipelineStatus.Terminal(),
		"status_updated_at": team.StatusUpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleTeamMetrics(w http.ResponseWriter, r *http.Request) {
	team, ok := s.lookupTeam(w, r)
	if !ok {
		return
	}
	periods, err := s.store.ListMetricPeriods(r.Context(), team.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"metrics": periods})
}

func (s *Server) handleTeamInsights(w http.ResponseWriter, r *http.Request) {
	team, ok := s.lookupTeam(w, r)
	if !ok {
		return
	}
	insights, err := s.store.ListInsights(r.Context(), team.ID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"insights": insights})
}

func (s *Server) handleTeamPulls(w http.ResponseWriter, r *http.Request) {
	team, ok := s.lookupTeam(w, r)
	if !ok {
		return
	}

	filter := store.PRFilter{Limit: 100}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, eris.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = n
	}
	if r.URL.Query().Get("unanalyzed") == "true" {
		filter.OnlyUnanalyzed = true
	}

	prs, err := s.store.ListPullRequests(r.Context(), team.ID, filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pulls": prs})
}

// lookupTeam resolves {teamID} and writes the error response itself when
// the team cannot be served.
func (s *Server) lookupTeam(w http.ResponseWriter, r *http.Request) (*model.Team, bool) {
	teamID := chi.URLParam(r, "teamID")
	team, err := s.store.GetTeam(r.Context(), teamID)
	if err != nil {
		if eris.Is(err, store.ErrTeamNotFound) {
			s.writeError(w, http.StatusNotFound, eris.Errorf("team %s not found", teamID))
			return nil, false
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return nil, false
	}
	return team, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status >= 500 {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
