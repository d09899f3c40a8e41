package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devlens/devlens/internal/config"
	"github.com/devlens/devlens/internal/model"
	"github.com/devlens/devlens/internal/monitoring"
	"github.com/devlens/devlens/internal/store"
)

type recordingOnboarder struct {
	started []string
}

func (o *recordingOnboarder) StartOnboarding(_ context.Context, teamID string) error {
	o.started = append(o.started, teamID)
	return nil
}

func newTestServer(t *testing.T) (*Server, *recordingOnboarder, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	onboarder := &recordingOnboarder{}
	srv := New(st, onboarder, monitoring.NewCollector(st, nil), config.ServerConfig{Port: 0}, time.Hour)
	return srv, onboarder, st
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestServer_Health(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_CreateTeamStartsOnboarding(t *testing.T) {
	srv, onboarder, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/teams",
		`{"name":"platform","org":"acme","repos":["acme/api"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var got teamSummary
	decode(t, rec, &got)
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "platform", got.Name)
	assert.Equal(t, []string{got.ID}, onboarder.started)
}

func TestServer_CreateTeamValidation(t *testing.T) {
	srv, onboarder, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/teams", `{"name":"platform"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/teams", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, onboarder.started)
}

func TestServer_ListTeamsFiltersByStatus(t *testing.T) {
	srv, _, st := newTestServer(t)
	ctx := context.Background()

	team, err := st.CreateTeam(ctx, model.Team{Name: "a", Org: "acme"})
	require.NoError(t, err)
	_, err = st.SetPipelineStatus(ctx, team.ID, model.StatusSyncing)
	require.NoError(t, err)
	_, err = st.CreateTeam(ctx, model.Team{Name: "b", Org: "acme"})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/teams?status=syncing", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Teams []teamSummary `json:"teams"`
	}
	decode(t, rec, &got)
	require.Len(t, got.Teams, 1)
	assert.Equal(t, "a", got.Teams[0].Name)
	assert.Equal(t, "syncing", got.Teams[0].PipelineStatus)

	rec = doRequest(t, srv, http.MethodGet, "/api/teams?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_GetTeamDetail(t *testing.T) {
	srv, _, st := newTestServer(t)
	ctx := context.Background()

	team, err := st.CreateTeam(ctx, model.Team{Name: "platform", Org: "acme"})
	require.NoError(t, err)
	require.NoError(t, st.UpsertMetricPeriods(ctx, []model.MetricPeriod{{
		TeamID:      team.ID,
		PeriodStart: time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC),
		PRCount:     4,
	}}))

	rec := doRequest(t, srv, http.MethodGet, "/api/teams/"+team.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Team    teamSummary          `json:"team"`
		Metrics []model.MetricPeriod `json:"metrics"`
	}
	decode(t, rec, &got)
	assert.Equal(t, team.ID, got.Team.ID)
	require.Len(t, got.Metrics, 1)
	assert.Equal(t, 4, got.Metrics[0].PRCount)
}

func TestServer_GetTeamNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doRequest(t, srv, http.MethodGet, "/api/teams/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_TeamPullsLimitValidation(t *testing.T) {
	srv, _, st := newTestServer(t)
	team, err := st.CreateTeam(context.Background(), model.Team{Name: "p", Org: "acme"})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/teams/"+team.ID+"/pulls?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/teams/"+team.ID+"/pulls?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MonitoringSnapshot(t *testing.T) {
	srv, _, st := newTestServer(t)
	_, err := st.CreateTeam(context.Background(), model.Team{Name: "p", Org: "acme"})
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/monitoring/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap monitoring.Snapshot
	decode(t, rec, &snap)
	assert.Equal(t, 1, snap.TeamsTotal)
}

func TestServer_TeamPipeline(t *testing.T) {
	srv, _, st := newTestServer(t)
	ctx := context.Background()

	team, err := st.CreateTeam(ctx, model.Team{Name: "p", Org: "acme"})
	require.NoError(t, err)
	_, err = st.SetPipelineStatus(ctx, team.ID, model.StatusLLMProcessing)
	require.NoError(t, err)

	rec := doRequest(t, srv, http.MethodGet, "/api/teams/"+team.ID+"/pipeline", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got struct {
		Status   string `json:"status"`
		Percent  int    `json:"percent"`
		Terminal bool   `json:"terminal"`
	}
	decode(t, rec, &got)
	assert.Equal(t, "llm_processing", got.Status)
	assert.False(t, got.Terminal)
	assert.Greater(t, got.Percent, 0)
}
