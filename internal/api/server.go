// Package api serves the HTTP surface: stateless compile/layout/lint/query
// endpoints, session commands, scheduled publishes, task event history and a
// live SSE stream of monitor transitions.
package api

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/rendis/shipyard/internal/expressions"
	"github.com/rendis/shipyard/internal/scheduler"
	"github.com/rendis/shipyard/internal/session"
	"github.com/rendis/shipyard/internal/store"
	"github.com/rendis/shipyard/internal/streaming"
	"github.com/rendis/shipyard/internal/validation"
)

// Deps holds the dependencies for the API server. Store, Scheduler and Hub
// are optional; their routes answer 503 when absent.
type Deps struct {
	Sessions  *session.Manager
	Store     store.Store
	Events    *store.EventLog
	Hub       streaming.EventHub
	Linter    *validation.Linter
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	deps  Deps
	query *expressions.GoJQEngine
}

// NewServer creates a new Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{deps: deps, query: expressions.NewGoJQEngine()}
}

// Handler returns the HTTP handler for every route.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Stateless tools.
	mux.HandleFunc("POST /api/compile", s.handleCompile)
	mux.HandleFunc("POST /api/layout", s.handleLayout)
	mux.HandleFunc("POST /api/lint", s.handleLint)
	mux.HandleFunc("POST /api/query", s.handleQuery)

	// Sessions.
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("PUT /api/sessions/{id}/meta", s.handleSetMeta)
	mux.HandleFunc("PUT /api/sessions/{id}/graph", s.handleSetGraph)
	mux.HandleFunc("POST /api/sessions/{id}/reset", s.handleReset)
	mux.HandleFunc("POST /api/sessions/{id}/nodes", s.handleAddNode)
	mux.HandleFunc("PUT /api/sessions/{id}/nodes/{node}", s.handleUpdateNode)
	mux.HandleFunc("DELETE /api/sessions/{id}/nodes/{node}", s.handleRemoveNode)
	mux.HandleFunc("POST /api/sessions/{id}/edges", s.handleConnect)
	mux.HandleFunc("GET /api/sessions/{id}/document", s.handleSessionDocument)
	mux.HandleFunc("GET /api/sessions/{id}/lint", s.handleSessionLint)
	mux.HandleFunc("POST /api/sessions/{id}/workflows", s.handleLoadWorkflows)
	mux.HandleFunc("POST /api/sessions/{id}/workflows/{wid}/select", s.handleSelectWorkflow)
	mux.HandleFunc("POST /api/sessions/{id}/save", s.handleSave)
	mux.HandleFunc("POST /api/sessions/{id}/publish", s.handlePublish)
	mux.HandleFunc("POST /api/sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("GET /api/sessions/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /api/sessions/{id}/notification/dismiss", s.handleDismiss)

	// History.
	mux.HandleFunc("GET /api/revisions", s.handleListRevisions)
	mux.HandleFunc("GET /api/revisions/{id}", s.handleGetRevision)
	mux.HandleFunc("GET /api/tasks/{id}/events", s.handleTaskEvents)
	mux.HandleFunc("GET /api/tasks/{id}/history", s.handleTaskHistory)

	// Scheduled publishes.
	mux.HandleFunc("GET /api/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/schedules", s.handleCreateSchedule)
	mux.HandleFunc("PUT /api/schedules/{id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.handleDeleteSchedule)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/sessions/{id}", s.handleSSESession)

	return mux
}
