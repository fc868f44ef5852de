package mcp

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClientSession struct {
	id    string
	notes chan mcp.JSONRPCNotification
}

func newTestClientSession(id string) *testClientSession {
	return &testClientSession{id: id, notes: make(chan mcp.JSONRPCNotification, 4)}
}

func (c *testClientSession) Initialize()                                         {}
func (c *testClientSession) Initialized() bool                                   { return true }
func (c *testClientSession) NotificationChannel() chan<- mcp.JSONRPCNotification { return c.notes }
func (c *testClientSession) SessionID() string                                   { return c.id }

func TestMCPNotifier_SendsTaskEventMethod(t *testing.T) {
	s := NewShipyardServer(ShipyardServerDeps{})
	client := newTestClientSession("client-1")
	require.NoError(t, s.mcpServer.RegisterSession(context.Background(), client))
	s.watches.Watch("task-1", client.id)

	require.NoError(t, s.notifier.Notify(context.Background(), "task-1", map[string]any{
		"task_id":    "task-1",
		"event_type": "task_succeeded",
	}))

	require.Len(t, client.notes, 1)
	note := <-client.notes
	assert.Equal(t, "shipyard/task_event", note.Method)
	assert.Equal(t, "task-1", note.Params.AdditionalFields["task_id"])
}

func TestMCPNotifier_DropsVanishedSession(t *testing.T) {
	s := NewShipyardServer(ShipyardServerDeps{})
	s.watches.Watch("task-1", "gone")

	require.NoError(t, s.notifier.Notify(context.Background(), "task-1", map[string]any{"x": 1}))
	assert.Empty(t, s.watches.SessionsFor("task-1"))
}
