package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/shipyard/internal/store"
	"github.com/rendis/shipyard/internal/streaming"
	"github.com/rendis/shipyard/internal/validation"
	"github.com/rendis/shipyard/pkg/schema"
)

// --- Mock Store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	events []*store.Event
}

func (m *mockStore) GetEvents(_ context.Context, taskID string, since int64) ([]*store.Event, error) {
	var result []*store.Event
	for _, e := range m.events {
		if e.TaskID == taskID && e.Sequence > since {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *mockStore) GetEventsByType(_ context.Context, eventType string, filter store.EventFilter) ([]*store.Event, error) {
	result := make([]*store.Event, 0)
	for _, e := range m.events {
		if e.Type != eventType {
			continue
		}
		if filter.TaskID != "" && e.TaskID != filter.TaskID {
			continue
		}
		result = append(result, e)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// --- Mock Notifier ---

type recordingNotifier struct {
	mu    sync.Mutex
	calls []map[string]any
}

func (n *recordingNotifier) Notify(_ context.Context, taskID string, payload map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, payload)
	return nil
}

func (n *recordingNotifier) Calls() []map[string]any {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]map[string]any(nil), n.calls...)
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func newTestServer(t *testing.T, deps ShipyardServerDeps) *ShipyardServer {
	t.Helper()
	if deps.Linter == nil {
		l, err := validation.NewLinter()
		require.NoError(t, err)
		deps.Linter = l
	}
	return NewShipyardServer(deps)
}

func graphArgs() map[string]any {
	return map[string]any{
		"meta": map[string]any{"name": "shop", "version": "1.0.0"},
		"nodes": []any{
			map[string]any{"id": "n1", "type": "webservice", "name": "api", "image": "nginx:1.25", "ports": []any{"80", 8080}},
			map[string]any{"id": "n2", "type": "store", "name": "db", "image": "postgres:16"},
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

// --- Tests ---

func TestCompileTool(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})

	result, err := s.handleCompile(context.Background(), buildRequest("shipyard.compile", graphArgs()))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var doc schema.Document
	unmarshalResult(t, result, &doc)
	assert.Equal(t, "shop", doc.Name)
	require.Len(t, doc.Component, 2)
	require.Len(t, doc.Component[0].Properties.Ports, 2)
	assert.Equal(t, 8080, doc.Component[0].Properties.Ports[1].Port)
}

func TestCompileTool_YAML(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})
	args := graphArgs()
	args["format"] = "yaml"

	result, err := s.handleCompile(context.Background(), buildRequest("shipyard.compile", args))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "name: shop")
}

func TestCompileTool_MissingNodes(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})

	result, err := s.handleCompile(context.Background(), buildRequest("shipyard.compile", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "nodes is required")
}

func TestCompileTool_BadFormat(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})
	args := graphArgs()
	args["format"] = "xml"

	result, err := s.handleCompile(context.Background(), buildRequest("shipyard.compile", args))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestLayoutTool(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})
	args := graphArgs()
	args["workflow"] = map[string]any{"id": "wf", "steps": []any{
		map[string]any{"name": "data", "mode": "StepByStep", "components": []any{"db"}},
		map[string]any{"name": "apps", "mode": "StepByStep", "components": []any{"api"}},
	}}

	result, err := s.handleLayout(context.Background(), buildRequest("shipyard.layout", args))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out struct {
		Nodes []schema.GraphNode `json:"nodes"`
		Edges []schema.Edge      `json:"edges"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Edges, 1)
	assert.Equal(t, "edge-n2-n1", out.Edges[0].ID)
	assert.Less(t, out.Nodes[1].Position.X, out.Nodes[0].Position.X)
}

func TestLayoutTool_MissingWorkflow(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})

	result, err := s.handleLayout(context.Background(), buildRequest("shipyard.layout", graphArgs()))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestLintTool(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})

	result, err := s.handleLint(context.Background(), buildRequest("shipyard.lint", graphArgs()))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var res schema.ValidationResult
	unmarshalResult(t, result, &res)
	assert.True(t, res.Valid())
}

func TestLintTool_WorkflowCoverage(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})
	args := graphArgs()
	args["workflow"] = map[string]any{"id": "wf", "steps": []any{
		map[string]any{"name": "apps", "mode": "StepByStep", "components": []any{"api", "cache"}},
	}}

	result, err := s.handleLint(context.Background(), buildRequest("shipyard.lint", args))
	require.NoError(t, err)

	var res schema.ValidationResult
	unmarshalResult(t, result, &res)

	var messages []string
	for _, w := range res.Warnings {
		messages = append(messages, w.Message)
	}
	assert.NotEmpty(t, messages)
	assert.Contains(t, extractText(t, result), "cache")
	assert.Contains(t, extractText(t, result), "db")
}

func TestLintTool_NoLinter(t *testing.T) {
	s := NewShipyardServer(ShipyardServerDeps{})

	result, err := s.handleLint(context.Background(), buildRequest("shipyard.lint", graphArgs()))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryTool(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})
	args := graphArgs()
	args["expression"] = `.component[] | select(.type == "store") | .name`

	result, err := s.handleQuery(context.Background(), buildRequest("shipyard.query", args))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var out map[string][]any
	unmarshalResult(t, result, &out)
	assert.Equal(t, []any{"db"}, out["results"])
}

func TestQueryTool_Errors(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})

	result, err := s.handleQuery(context.Background(), buildRequest("shipyard.query", graphArgs()))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	args := graphArgs()
	args["expression"] = ".component[" // does not parse
	result, err = s.handleQuery(context.Background(), buildRequest("shipyard.query", args))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTaskEventsTool(t *testing.T) {
	ms := &mockStore{events: []*store.Event{
		{TaskID: "task-1", Type: schema.EventPreviewEntered, Sequence: 1},
		{TaskID: "task-1", Type: schema.EventTaskFailed, Sequence: 2},
		{TaskID: "task-2", Type: schema.EventTaskFailed, Sequence: 1},
	}}
	s := newTestServer(t, ShipyardServerDeps{Store: ms})

	result, err := s.handleTaskEvents(context.Background(), buildRequest("shipyard.task_events", map[string]any{
		"task_id": "task-1",
		"since":   float64(1),
	}))
	require.NoError(t, err)
	var out map[string][]store.Event
	unmarshalResult(t, result, &out)
	require.Len(t, out["events"], 1)
	assert.Equal(t, schema.EventTaskFailed, out["events"][0].Type)

	result, err = s.handleTaskEvents(context.Background(), buildRequest("shipyard.task_events", map[string]any{
		"event_type": schema.EventTaskFailed,
	}))
	require.NoError(t, err)
	unmarshalResult(t, result, &out)
	assert.Len(t, out["events"], 2)
}

func TestTaskEventsTool_EmptyIsArray(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{Store: &mockStore{}})

	result, err := s.handleTaskEvents(context.Background(), buildRequest("shipyard.task_events", map[string]any{
		"task_id": "none",
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"events":[]}`, extractText(t, result))
}

func TestTaskEventsTool_RequiresFilter(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{Store: &mockStore{}})

	result, err := s.handleTaskEvents(context.Background(), buildRequest("shipyard.task_events", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestTaskEventsTool_NoStore(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})

	result, err := s.handleTaskEvents(context.Background(), buildRequest("shipyard.task_events", map[string]any{"task_id": "t"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestWatchTaskTool_NeedsSession(t *testing.T) {
	s := newTestServer(t, ShipyardServerDeps{})

	result, err := s.handleWatchTask(context.Background(), buildRequest("shipyard.watch_task", map[string]any{"task_id": "t"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleWatchTask(context.Background(), buildRequest("shipyard.watch_task", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestForwardNotifiesTaskEvents(t *testing.T) {
	hub := streaming.NewMemoryHub()
	s := newTestServer(t, ShipyardServerDeps{Hub: hub})
	rec := &recordingNotifier{}
	s.notifier = rec

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Forward(ctx))

	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{SessionID: "s", EventType: "ignored"}))
	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{
		SessionID: "s", TaskID: "task-1", EventType: schema.EventTaskSucceeded,
	}))

	assert.Eventually(t, func() bool { return len(rec.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	call := rec.Calls()[0]
	assert.Equal(t, "task-1", call["task_id"])
	assert.Equal(t, schema.EventTaskSucceeded, call["event_type"])
}

func TestMCPNotifier_NoWatchers(t *testing.T) {
	s := NewShipyardServer(ShipyardServerDeps{})
	assert.NoError(t, s.notifier.Notify(context.Background(), "task-1", map[string]any{"x": 1}))
}
