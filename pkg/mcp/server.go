package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/shipyard/internal/expressions"
	"github.com/rendis/shipyard/internal/store"
	"github.com/rendis/shipyard/internal/streaming"
	"github.com/rendis/shipyard/internal/validation"
)

// ShipyardServerDeps holds the dependencies for creating a ShipyardServer.
// Store and Hub are optional; the tools that need them report an error when absent.
type ShipyardServerDeps struct {
	Linter *validation.Linter
	Store  store.Store
	Hub    streaming.EventHub
	Logger *slog.Logger
}

// ShipyardServer wraps an MCP server with shipyard tool handlers.
type ShipyardServer struct {
	linter    *validation.Linter
	store     store.Store
	hub       streaming.EventHub
	query     *expressions.GoJQEngine
	logger    *slog.Logger
	watches   *WatchRegistry
	notifier  Notifier
	mcpServer *server.MCPServer
}

// NewShipyardServer creates a new ShipyardServer with every tool registered.
func NewShipyardServer(deps ShipyardServerDeps) *ShipyardServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &ShipyardServer{
		linter:  deps.Linter,
		store:   deps.Store,
		hub:     deps.Hub,
		query:   expressions.NewGoJQEngine(),
		logger:  logger,
		watches: NewWatchRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"shipyard",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Shipyard compiles application graphs into deployment documents. Use shipyard.compile to render a graph, shipyard.layout to arrange it for a workflow, shipyard.lint to check it, shipyard.query to inspect the compiled document with jq, shipyard.task_events to read a task's history and shipyard.watch_task to receive its live transitions."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.watches)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. Monitor events for watched tasks are forwarded while it runs.
func (s *ShipyardServer) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.hub != nil {
		if err := s.Forward(ctx); err != nil {
			return err
		}
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Forward subscribes to the hub and pushes every event of a watched task to
// the MCP sessions watching it, until ctx is cancelled.
func (s *ShipyardServer) Forward(ctx context.Context) error {
	ch, unsubscribe, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.TaskID == "" {
					continue
				}
				payload := map[string]any{
					"session_id": ev.SessionID,
					"task_id":    ev.TaskID,
					"event_type": ev.EventType,
					"payload":    ev.Payload,
				}
				if err := s.notifier.Notify(ctx, ev.TaskID, payload); err != nil {
					s.logger.Warn("task notification failed",
						slog.String("task_id", ev.TaskID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
	return nil
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ShipyardServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the registered MCP tools as ServerTool entries.
func (s *ShipyardServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: compileTool(), Handler: s.handleCompile},
		{Tool: layoutTool(), Handler: s.handleLayout},
		{Tool: lintTool(), Handler: s.handleLint},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: taskEventsTool(), Handler: s.handleTaskEvents},
		{Tool: watchTaskTool(), Handler: s.handleWatchTask},
	}
}

// --- Tool definitions ---

func compileTool() mcp.Tool {
	return mcp.NewTool("shipyard.compile",
		mcp.WithDescription("Compile an application graph into a deployment document"),
		mcp.WithObject("meta", mcp.Description("Project metadata: name, alias, version, project, description")),
		mcp.WithArray("nodes", mcp.Required(), mcp.Description("Graph nodes")),
		mcp.WithString("format", mcp.Enum("json", "yaml"), mcp.Description("Output format (default: json)")),
	)
}

func layoutTool() mcp.Tool {
	return mcp.NewTool("shipyard.layout",
		mcp.WithDescription("Arrange graph nodes in columns per workflow step and derive the step edges"),
		mcp.WithObject("workflow", mcp.Required(), mcp.Description("Workflow with ordered steps")),
		mcp.WithArray("nodes", mcp.Required(), mcp.Description("Graph nodes")),
	)
}

func lintTool() mcp.Tool {
	return mcp.NewTool("shipyard.lint",
		mcp.WithDescription("Lint a compiled application graph and optionally its workflow coverage"),
		mcp.WithObject("meta", mcp.Description("Project metadata")),
		mcp.WithArray("nodes", mcp.Required(), mcp.Description("Graph nodes")),
		mcp.WithObject("workflow", mcp.Description("Workflow to check against the components")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("shipyard.query",
		mcp.WithDescription("Run a jq expression against the compiled document"),
		mcp.WithString("expression", mcp.Required(), mcp.Description("jq expression, e.g. [.component[].name]")),
		mcp.WithObject("meta", mcp.Description("Project metadata")),
		mcp.WithArray("nodes", mcp.Required(), mcp.Description("Graph nodes")),
	)
}

func taskEventsTool() mcp.Tool {
	return mcp.NewTool("shipyard.task_events",
		mcp.WithDescription("List recorded monitor events for a task or of a given type"),
		mcp.WithString("task_id", mcp.Description("Task whose events to list")),
		mcp.WithString("event_type", mcp.Description("Only events of this type (e.g. task_failed)")),
		mcp.WithNumber("since", mcp.Description("Only events after this sequence number (with task_id)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of events (with event_type, default 100)")),
	)
}

func watchTaskTool() mcp.Tool {
	return mcp.NewTool("shipyard.watch_task",
		mcp.WithDescription("Receive live monitor transitions of a task as notifications"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("Task to watch")),
	)
}
