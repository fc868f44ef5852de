package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/shipyard/internal/compiler"
	"github.com/rendis/shipyard/internal/layout"
	"github.com/rendis/shipyard/internal/store"
	"github.com/rendis/shipyard/pkg/schema"
)

// handleCompile renders the compiled document. YAML comes back as plain text.
func (s *ShipyardServer) handleCompile(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc, errResult := compileArgs(req)
	if errResult != nil {
		return errResult, nil
	}
	format, err := compiler.ParseFormat(req.GetString("format", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if format == compiler.FormatYAML {
		out, err := compiler.Marshal(doc, format)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("render failed: %v", err)), nil
		}
		return mcp.NewToolResultText(string(out)), nil
	}
	return marshalResult(doc)
}

// handleLayout arranges nodes for a workflow.
func (s *ShipyardServer) handleLayout(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var wf schema.Workflow
	if err := decodeArg(req, "workflow", &wf); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	var nodes []schema.GraphNode
	if err := decodeArg(req, "nodes", &nodes); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return marshalResult(layout.Apply(wf, nodes))
}

// handleLint compiles and lints a graph.
func (s *ShipyardServer) handleLint(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.linter == nil {
		return mcp.NewToolResultError("linter not configured"), nil
	}
	doc, errResult := compileArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	result := s.linter.Lint(ctx, doc)
	if _, ok := req.GetArguments()["workflow"]; ok {
		var wf schema.Workflow
		if err := decodeArg(req, "workflow", &wf); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		result.Merge(s.linter.LintWorkflow(doc, &wf))
	}
	return marshalResult(result)
}

// handleQuery runs a jq expression against the compiled document.
func (s *ShipyardServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expression, err := req.RequireString("expression")
	if err != nil {
		return mcp.NewToolResultError("expression is required"), nil
	}
	doc, errResult := compileArgs(req)
	if errResult != nil {
		return errResult, nil
	}

	results, err := s.query.Query(ctx, expression, doc)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"results": results})
}

// handleTaskEvents lists the events of a task, or every event of one type.
func (s *ShipyardServer) handleTaskEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("store not configured"), nil
	}
	taskID := req.GetString("task_id", "")
	eventType := req.GetString("event_type", "")

	if eventType != "" {
		events, err := s.store.GetEventsByType(ctx, eventType, store.EventFilter{
			TaskID: taskID,
			Limit:  int(req.GetFloat("limit", 100)),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"events": nonNil(events)})
	}

	if taskID == "" {
		return mcp.NewToolResultError("event query requires either 'event_type' or 'task_id'"), nil
	}
	events, err := s.store.GetEvents(ctx, taskID, int64(req.GetFloat("since", 0)))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"events": nonNil(events)})
}

// handleWatchTask subscribes the calling client session to a task's transitions.
func (s *ShipyardServer) handleWatchTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError("task_id is required"), nil
	}
	session := server.ClientSessionFromContext(ctx)
	if session == nil {
		return mcp.NewToolResultError("watching requires a client session"), nil
	}
	s.watches.Watch(taskID, session.SessionID())
	return marshalResult(map[string]any{"ok": true, "task_id": taskID})
}

// --- Internal helpers ---

// compileArgs decodes meta and nodes and compiles them.
func compileArgs(req mcp.CallToolRequest) (*schema.Document, *mcp.CallToolResult) {
	var meta schema.ProjectMeta
	if _, ok := req.GetArguments()["meta"]; ok {
		if err := decodeArg(req, "meta", &meta); err != nil {
			return nil, mcp.NewToolResultError(err.Error())
		}
	}
	var nodes []schema.GraphNode
	if err := decodeArg(req, "nodes", &nodes); err != nil {
		return nil, mcp.NewToolResultError(err.Error())
	}
	return compiler.Compile(meta, nodes), nil
}

// decodeArg round-trips an argument through JSON into a typed value.
func decodeArg(req mcp.CallToolRequest, key string, target any) error {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return fmt.Errorf("%s is required", key)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("invalid %s: %v", key, err)
	}
	return nil
}

func nonNil(events []*store.Event) []*store.Event {
	if events == nil {
		return []*store.Event{}
	}
	return events
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
