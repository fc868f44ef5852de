package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// TaskEventMethod is the notification method carrying watched task transitions.
const TaskEventMethod = "shipyard/task_event"

// Notifier pushes task notifications to connected clients.
type Notifier interface {
	Notify(ctx context.Context, taskID string, payload map[string]any) error
}

// MCPNotifier implements Notifier using MCP server push.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	watches   *WatchRegistry
}

// NewMCPNotifier creates a notifier that pushes to the sessions watching a task.
func NewMCPNotifier(mcpServer *server.MCPServer, watches *WatchRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, watches: watches}
}

// Notify sends a notification to every session watching the task.
// Best-effort: a task nobody watches is not an error.
func (n *MCPNotifier) Notify(_ context.Context, taskID string, payload map[string]any) error {
	var errs []error
	for _, sessionID := range n.watches.SessionsFor(taskID) {
		err := n.mcpServer.SendNotificationToSpecificClient(sessionID, TaskEventMethod, payload)
		if errors.Is(err, server.ErrSessionNotFound) {
			// Session went away between lookup and send.
			n.watches.Remove(sessionID)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
