package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShipyardServer(t *testing.T) {
	s := NewShipyardServer(ShipyardServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
}

func TestToolRegistration(t *testing.T) {
	s := NewShipyardServer(ShipyardServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 6)

	expectedTools := []string{
		"shipyard.compile",
		"shipyard.layout",
		"shipyard.lint",
		"shipyard.query",
		"shipyard.task_events",
		"shipyard.watch_task",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"compile", "shipyard.compile", "Compile an application graph into a deployment document"},
		{"layout", "shipyard.layout", "Arrange graph nodes in columns per workflow step and derive the step edges"},
		{"lint", "shipyard.lint", "Lint a compiled application graph and optionally its workflow coverage"},
		{"query", "shipyard.query", "Run a jq expression against the compiled document"},
		{"task_events", "shipyard.task_events", "List recorded monitor events for a task or of a given type"},
		{"watch_task", "shipyard.watch_task", "Receive live monitor transitions of a task as notifications"},
	}

	s := NewShipyardServer(ShipyardServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
