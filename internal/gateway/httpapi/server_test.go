package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nolan-sh/nolan/internal/agent"
	"github.com/nolan-sh/nolan/internal/auth"
	"github.com/nolan-sh/nolan/internal/common/paths"
	"github.com/nolan-sh/nolan/internal/cronos"
	"github.com/nolan-sh/nolan/internal/provider"
	"github.com/nolan-sh/nolan/internal/session"
)

type fakeSessions struct {
	inputs []string
	killed []string
	labels map[string]string
}

func (f *fakeSessions) List(context.Context) ([]session.Info, error) {
	return []session.Info{{Name: "agent-ralph-nova", Kind: session.KindRalph}}, nil
}
func (f *fakeSessions) Create(_ context.Context, name, _, _ string, _ map[string]string) error {
	return nil
}
func (f *fakeSessions) CreateRalph(context.Context, string, string, map[string]string) (string, error) {
	return "agent-ralph-nova", nil
}
func (f *fakeSessions) Kill(_ context.Context, name string) error {
	f.killed = append(f.killed, name)
	return nil
}
func (f *fakeSessions) SendInput(_ context.Context, _ string, payload string, _ session.InputMode) error {
	f.inputs = append(f.inputs, payload)
	return nil
}
func (f *fakeSessions) Peek(context.Context, string, int) (string, error) {
	return "$ ls\n", nil
}
func (f *fakeSessions) SetLabel(_ context.Context, name, label string) (string, error) {
	if f.labels == nil {
		f.labels = make(map[string]string)
	}
	f.labels[name] = label
	return label, nil
}
func (f *fakeSessions) Label(name string) (string, bool) {
	label, ok := f.labels[name]
	return label, ok
}
func (f *fakeSessions) ClearLabel(_ context.Context, name string) {
	delete(f.labels, name)
}
func (f *fakeSessions) Resize(context.Context, string, int, int) error { return nil }

type serverRig struct {
	server   *Server
	agents   *agent.Store
	sessions *fakeSessions
}

func newServerRig(t *testing.T) *serverRig {
	t.Helper()
	p, err := paths.Resolve(t.TempDir(), "", "")
	require.NoError(t, err)
	store := agent.NewStore(p, nil)
	runs, err := cronos.NewRunStore(p)
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })
	resolver := func(*agent.Agent) (provider.Provider, error) {
		return provider.NewClaude(), nil
	}
	executor := cronos.NewExecutor(p, store, resolver, nil, nil, runs, 30*time.Second, nil)
	scheduler := cronos.NewScheduler(p, store, executor, runs, false, nil)
	authSvc := auth.NewService(p, true, nil)
	sessions := &fakeSessions{}
	return &serverRig{
		server:   NewServer(nil, authSvc, store, scheduler, sessions, nil, "test"),
		agents:   store,
		sessions: sessions,
	}
}

func (r *serverRig) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	rig := newServerRig(t)
	w := rig.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestAuthSetupAndLoginFlow(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/auth/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode(t, w)["auth_required"])

	w = rig.do(t, http.MethodPost, "/api/auth/setup", map[string]string{"password": "short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = rig.do(t, http.MethodPost, "/api/auth/setup", map[string]string{"password": "long enough password"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = rig.do(t, http.MethodPost, "/api/auth/setup", map[string]string{"password": "another password!"})
	assert.Equal(t, http.StatusConflict, w.Code)

	// The surface locks down once a password exists.
	w = rig.do(t, http.MethodGet, "/api/agents", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = rig.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = rig.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": "long enough password"})
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := decode(t, w)["session_token"].(string)
	require.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	rig.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAgentCRUDAndRole(t *testing.T) {
	rig := newServerRig(t)
	body := map[string]any{
		"name":    "alpha",
		"kind":    "cron",
		"enabled": true,
		"cron":    "*/5 * * * *",
	}
	w := rig.do(t, http.MethodPost, "/api/agents", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = rig.do(t, http.MethodPost, "/api/agents", body)
	assert.Equal(t, http.StatusConflict, w.Code, "duplicate create rejected")

	w = rig.do(t, http.MethodGet, "/api/agents/alpha", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cron", decode(t, w)["kind"])

	w = rig.do(t, http.MethodGet, "/api/agents/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = rig.do(t, http.MethodPost, "/api/agents", map[string]any{"name": "Bad Name!", "kind": "interactive"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "name grammar enforced")

	w = rig.do(t, http.MethodPut, "/api/agents/alpha/role", map[string]string{"role": "review the queue"})
	require.Equal(t, http.StatusOK, w.Code)
	w = rig.do(t, http.MethodGet, "/api/agents/alpha/role", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "review the queue", decode(t, w)["role"])

	w = rig.do(t, http.MethodDelete, "/api/agents/alpha", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = rig.do(t, http.MethodGet, "/api/agents/alpha", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTeamRoutes(t *testing.T) {
	rig := newServerRig(t)
	w := rig.do(t, http.MethodPost, "/api/teams", map[string]string{"name": "platform"})
	require.Equal(t, http.StatusCreated, w.Code)

	w = rig.do(t, http.MethodPost, "/api/teams/platform/rename/infra", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodGet, "/api/teams/platform", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = rig.do(t, http.MethodGet, "/api/teams/infra", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestScheduleRoutes(t *testing.T) {
	rig := newServerRig(t)
	require.NoError(t, rig.agents.Save(&agent.Agent{
		Name: "alpha", Kind: agent.KindCron, Enabled: true, Cron: "*/5 * * * *",
	}))

	w := rig.do(t, http.MethodPost, "/api/schedules", map[string]any{
		"agent_name": "alpha", "cron_expression": "*/5 * * * *", "enabled": true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id, _ := decode(t, w)["id"].(string)
	require.NotEmpty(t, id)

	w = rig.do(t, http.MethodPost, "/api/schedules", map[string]any{
		"agent_name": "alpha", "cron_expression": "* * * *", "enabled": true,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code, "four-field cron rejected")

	w = rig.do(t, http.MethodPost, "/api/schedules/"+id+"/toggle", map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodDelete, "/api/schedules/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRunRoutes(t *testing.T) {
	rig := newServerRig(t)
	w := rig.do(t, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodGet, "/api/runs/nope/log", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTemplateRoutes(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/templates", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "git-commit")

	w = rig.do(t, http.MethodPost, "/api/templates/git-commit/install", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = rig.do(t, http.MethodGet, "/api/agents/git-commit", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodPost, "/api/templates/git-commit/install", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = rig.do(t, http.MethodPost, "/api/templates/git-commit/uninstall", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodPost, "/api/templates/ghost/install", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionRoutes(t *testing.T) {
	rig := newServerRig(t)

	w := rig.do(t, http.MethodGet, "/api/sessions", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodPost, "/api/sessions/agent-alpha-main/input",
		map[string]string{"data": "ls", "mode": "literal"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"ls"}, rig.sessions.inputs)

	w = rig.do(t, http.MethodPost, "/api/sessions/agent-alpha-main/input",
		map[string]string{"data": "x", "mode": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = rig.do(t, http.MethodPost, "/api/sessions/agent-alpha-main/resize",
		map[string]int{"cols": 0, "rows": 40})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = rig.do(t, http.MethodPut, "/api/sessions/agent-ralph-nova/label",
		map[string]string{"label": "deploy fixes"})
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodGet, "/api/sessions/agent-ralph-nova/label", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "deploy fixes")

	w = rig.do(t, http.MethodDelete, "/api/sessions/agent-ralph-nova/label", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = rig.do(t, http.MethodGet, "/api/sessions/agent-ralph-nova/label", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = rig.do(t, http.MethodDelete, "/api/sessions/agent-alpha-main", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"agent-alpha-main"}, rig.sessions.killed)
}
