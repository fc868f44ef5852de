package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/rendis/shipyard/internal/backend"
	"github.com/rendis/shipyard/internal/scheduler"
	"github.com/rendis/shipyard/internal/session"
	"github.com/rendis/shipyard/internal/store"
	"github.com/rendis/shipyard/internal/streaming"
	"github.com/rendis/shipyard/internal/validation"
	"github.com/rendis/shipyard/pkg/schema"
)

// --- Mocks ---

type mockBackend struct {
	mu        sync.Mutex
	dryRunErr error
	status    []schema.ComponentState
	workflows []schema.Workflow
}

func (b *mockBackend) DryRun(context.Context, *schema.Document) error { return b.dryRunErr }

func (b *mockBackend) SaveApplication(_ context.Context, doc *schema.Document) (*backend.SaveResult, error) {
	return &backend.SaveResult{AppID: "app-1", Version: doc.Version}, nil
}

func (b *mockBackend) ListWorkflows(context.Context, string) ([]schema.Workflow, error) {
	return b.workflows, nil
}

func (b *mockBackend) PublishWorkflow(_ context.Context, _, workflowID string) (string, error) {
	return "task-" + workflowID, nil
}

func (b *mockBackend) TaskStatus(_ context.Context, taskID string) (*schema.TaskStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &schema.TaskStatus{TaskID: taskID, Components: b.status}, nil
}

func (b *mockBackend) CancelTask(context.Context, string) error { return nil }

type testEnv struct {
	srv      *httptest.Server
	sessions *session.Manager
	store    *store.LibSQLStore
	backend  *mockBackend
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })

	linter, err := validation.NewLinter()
	require.NoError(t, err)

	b := &mockBackend{status: []schema.ComponentState{{Name: "api", Status: schema.StatusRunning}}}
	hub := streaming.NewMemoryHub()
	fc := testingclock.NewFakeClock(time.Now())
	sessions := session.NewManager(session.Deps{
		Backend: b,
		Store:   s,
		Events:  store.NewEventLog(s),
		Hub:     hub,
		Linter:  linter,
		Clock:   fc,
	})
	t.Cleanup(sessions.Close)

	srv := httptest.NewServer(NewServer(Deps{
		Sessions:  sessions,
		Store:     s,
		Events:    store.NewEventLog(s),
		Hub:       hub,
		Linter:    linter,
		Scheduler: scheduler.NewScheduler(s, b, scheduler.Options{Clock: fc}),
	}).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, sessions: sessions, store: s, backend: b}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

var shopGraph = map[string]any{
	"meta": map[string]any{"name": "shop", "version": "1.0.0"},
	"nodes": []map[string]any{
		{"id": "n1", "type": "webservice", "name": "api", "image": "nginx:1.25", "ports": []any{"80"}},
		{"id": "n2", "type": "store", "name": "db", "image": "postgres:16"},
	},
}

// --- Stateless tools ---

func TestCompile_JSON(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/api/compile", shopGraph)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	doc := decode[schema.Document](t, body)
	assert.Equal(t, "shop", doc.Name)
	require.Len(t, doc.Component, 2)
	assert.Equal(t, "api", doc.Component[0].Name)
}

func TestCompile_YAML(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/api/compile?format=yaml", shopGraph)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "name: shop")
}

func TestCompile_BadFormat(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/api/compile?format=toml", shopGraph)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, schema.ErrCodeValidation, decode[map[string]any](t, body)["code"])
}

func TestCompile_InvalidJSON(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Post(env.srv.URL+"/api/compile", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLayout(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/api/layout", map[string]any{
		"workflow": map[string]any{"id": "wf", "steps": []any{
			map[string]any{"name": "data", "mode": "StepByStep", "components": []string{"db"}},
			map[string]any{"name": "apps", "mode": "StepByStep", "components": []string{"api"}},
		}},
		"nodes": shopGraph["nodes"],
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decode[struct {
		Nodes []schema.GraphNode `json:"nodes"`
		Edges []schema.Edge      `json:"edges"`
	}](t, body)
	assert.Len(t, res.Nodes, 2)
	require.Len(t, res.Edges, 1)
	assert.Equal(t, "n2", res.Edges[0].Source)
	assert.Equal(t, "n1", res.Edges[0].Target)
}

func TestLint(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/api/lint", map[string]any{
		"meta":  map[string]any{"name": "shop"},
		"nodes": []map[string]any{{"id": "n1", "type": "webservice", "name": "Bad_Name", "image": "nginx"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decode[schema.ValidationResult](t, body)
	assert.False(t, res.Valid())
}

func TestQuery(t *testing.T) {
	env := newTestEnv(t)
	req := map[string]any{"expression": "[.component[].name]"}
	for k, v := range shopGraph {
		req[k] = v
	}
	resp, body := env.do(t, http.MethodPost, "/api/query", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decode[map[string][]any](t, body)
	assert.Equal(t, []any{[]any{"api", "db"}}, res["results"])
}

func TestQuery_RequiresExpression(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodPost, "/api/query", shopGraph)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- Sessions ---

func createSession(t *testing.T, env *testEnv) string {
	t.Helper()
	resp, body := env.do(t, http.MethodPost, "/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[session.State](t, body).ID
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)

	resp, _ := env.do(t, http.MethodPut, "/api/sessions/"+id+"/graph", shopGraph)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[session.State](t, body)
	assert.Equal(t, "shop", st.Meta.Name)
	assert.Len(t, st.Graph.Nodes, 2)
	assert.Equal(t, schema.MonitorIdle, st.Monitor.State)

	resp, _ = env.do(t, http.MethodDelete, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSessionNodeCommands(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)
	base := "/api/sessions/" + id

	resp, body := env.do(t, http.MethodPost, base+"/nodes", map[string]any{"type": "store", "name": "db"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	db := decode[schema.GraphNode](t, body)
	require.NotEmpty(t, db.ID)

	resp, _ = env.do(t, http.MethodPost, base+"/nodes", map[string]any{"id": "api", "type": "webservice", "name": "api"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, base+"/nodes", map[string]any{"id": "api", "type": "webservice", "name": "dup"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPost, base+"/edges", map[string]string{"source": db.ID, "target": "api"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, base+"/nodes/api", map[string]any{"type": "webservice", "name": "api", "image": "nginx"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodPut, base+"/nodes/ghost", map[string]any{"type": "webservice", "name": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = env.do(t, http.MethodDelete, base+"/nodes/"+db.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	g := decode[schema.Graph](t, body)
	assert.Len(t, g.Nodes, 1)
	assert.Empty(t, g.Edges)

	resp, body = env.do(t, http.MethodGet, base+"/document", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	doc := decode[schema.Document](t, body)
	require.Len(t, doc.Component, 1)
	require.NotNil(t, doc.Component[0].Image)
	assert.Equal(t, "nginx", *doc.Component[0].Image)
}

func TestSetMeta_OpensExistingApp(t *testing.T) {
	env := newTestEnv(t)
	env.backend.workflows = []schema.Workflow{{ID: "wf-7", Name: "nightly"}}
	id := createSession(t, env)
	base := "/api/sessions/" + id

	resp, _ := env.do(t, http.MethodPost, base+"/workflows", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := env.do(t, http.MethodPut, base+"/meta", map[string]any{"name": "shop", "appId": "app-9"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[session.State](t, body)
	assert.Equal(t, "app-9", st.AppID)
	assert.Equal(t, "shop", st.Meta.Name)

	resp, body = env.do(t, http.MethodPost, base+"/workflows", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "wf-7")

	resp, body = env.do(t, http.MethodPut, base+"/meta", map[string]any{"name": "shop2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "app-9", decode[session.State](t, body).AppID)
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodPost, "/api/sessions/nope/save", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, schema.ErrCodeNotFound, decode[map[string]any](t, body)["code"])
}

func TestSave_DryRunRejectedVerbatim(t *testing.T) {
	env := newTestEnv(t)
	env.backend.dryRunErr = schema.NewError(schema.ErrCodeDryRunRejected, `component "api": image is required`).
		WithDetails(map[string]any{"status_code": 400})
	id := createSession(t, env)
	env.do(t, http.MethodPut, "/api/sessions/"+id+"/graph", shopGraph)

	resp, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/save", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	got := decode[map[string]any](t, body)
	assert.Equal(t, `component "api": image is required`, got["error"])
	assert.Equal(t, schema.ErrCodeDryRunRejected, got["code"])
}

func TestSaveThenPublish(t *testing.T) {
	env := newTestEnv(t)
	env.backend.workflows = []schema.Workflow{{ID: "wf-1", Steps: []schema.Step{
		{Name: "all", Mode: schema.ModeDAG, Components: []string{"db", "api"}},
	}}}
	id := createSession(t, env)
	base := "/api/sessions/" + id
	env.do(t, http.MethodPut, base+"/graph", shopGraph)

	resp, _ := env.do(t, http.MethodPost, base+"/publish", map[string]string{"workflowId": "wf-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, base+"/save", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	saved := decode[session.SaveOutcome](t, body)
	assert.Equal(t, "app-1", saved.AppID)
	assert.NotEmpty(t, saved.RevisionID)

	resp, body = env.do(t, http.MethodPost, base+"/workflows", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "wf-1")

	resp, _ = env.do(t, http.MethodPost, base+"/workflows/wf-1/select", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, base+"/publish", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "task-wf-1", decode[map[string]string](t, body)["taskId"])

	assert.Eventually(t, func() bool {
		_, body := env.do(t, http.MethodGet, base+"/status", nil)
		return decode[schema.MonitorSnapshot](t, body).Statuses["api"].Status == schema.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	resp, body = env.do(t, http.MethodGet, "/api/tasks/task-wf-1/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[map[string][]store.Event](t, body)["events"]
	require.NotEmpty(t, events)
	assert.Equal(t, schema.EventPreviewEntered, events[0].Type)

	resp, body = env.do(t, http.MethodPost, base+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[map[string]bool](t, body)["cancelled"])

	resp, body = env.do(t, http.MethodGet, "/api/tasks/task-wf-1/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decode[store.TaskHistory](t, body)
	assert.Equal(t, "task-wf-1", h.TaskID)
	assert.Equal(t, "cancelled", h.Outcome)
	assert.NotNil(t, h.StartedAt)
	assert.NotNil(t, h.FinishedAt)

	resp, body = env.do(t, http.MethodGet, "/api/revisions?name=shop", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[map[string][]store.Revision](t, body)["revisions"], 1)
}

func TestDismissNotification(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)
	resp, body := env.do(t, http.MethodPost, "/api/sessions/"+id+"/notification/dismiss", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, decode[schema.MonitorSnapshot](t, body).Notification)
}

func TestTaskHistory_Unknown(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/tasks/none/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h := decode[store.TaskHistory](t, body)
	assert.Equal(t, schema.MonitorIdle, h.State)
	assert.Zero(t, h.Events)
}

func TestTaskEvents_Empty(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/tasks/none/events", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"events":[]}`, string(body))
}

// --- Schedules ---

func TestSchedules(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/api/schedules", map[string]string{
		"app_id": "app-1", "workflow_id": "wf-1", "cron_expression": "*/5 * * * *",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	job := decode[store.ScheduledJob](t, body)
	require.NotEmpty(t, job.ID)

	resp, _ = env.do(t, http.MethodPost, "/api/schedules", map[string]string{
		"app_id": "app-1", "workflow_id": "wf-1", "cron_expression": "nope",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	disabled := false
	resp, _ = env.do(t, http.MethodPut, "/api/schedules/"+job.ID, map[string]any{"enabled": disabled})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = env.do(t, http.MethodGet, "/api/schedules?app_id=app-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs := decode[map[string][]store.ScheduledJob](t, body)["schedules"]
	require.Len(t, jobs, 1)
	assert.False(t, jobs[0].Enabled)

	resp, _ = env.do(t, http.MethodDelete, "/api/schedules/"+job.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodDelete, "/api/schedules/"+job.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSchedules_Disabled(t *testing.T) {
	srv := httptest.NewServer(NewServer(Deps{Sessions: session.NewManager(session.Deps{})}).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/schedules")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

// --- SSE ---

func TestSSESession(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)
	sess, err := env.sessions.Get(id)
	require.NoError(t, err)
	sess.SetAppID("app-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/sse/sessions/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	_, err = sess.Publish(context.Background(), "wf-1")
	require.NoError(t, err)

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	select {
	case line := <-lines:
		assert.Equal(t, "event: "+schema.EventPreviewEntered, line)
	case <-time.After(2 * time.Second):
		t.Fatal("no SSE event received")
	}
}

func TestSSESession_LateClientGetsCurrentState(t *testing.T) {
	env := newTestEnv(t)
	id := createSession(t, env)
	sess, err := env.sessions.Get(id)
	require.NoError(t, err)
	sess.SetAppID("app-1")

	_, err = sess.Publish(context.Background(), "wf-1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return sess.Status().Statuses["api"].Status == schema.StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/sse/sessions/"+id, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	require.True(t, sc.Scan())
	assert.Equal(t, "event: "+schema.EventStatusUpdated, sc.Text())
	require.True(t, sc.Scan())
	assert.Contains(t, sc.Text(), `"replay":true`)
	assert.Contains(t, sc.Text(), `"running"`)
}

func TestSSEUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, http.MethodGet, "/sse/sessions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
