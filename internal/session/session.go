// Package session holds the editing state of one application: its graph,
// metadata, workflows and the monitor of the task it last published. All
// mutations go through Session methods.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/rendis/shipyard/internal/backend"
	"github.com/rendis/shipyard/internal/compiler"
	"github.com/rendis/shipyard/internal/layout"
	"github.com/rendis/shipyard/internal/logging"
	"github.com/rendis/shipyard/internal/monitor"
	"github.com/rendis/shipyard/internal/store"
	"github.com/rendis/shipyard/internal/streaming"
	"github.com/rendis/shipyard/internal/validation"
	"github.com/rendis/shipyard/pkg/schema"
)

// Deps holds the collaborators shared by every session. Only Backend is required.
type Deps struct {
	Backend backend.Client
	Store   store.Store
	Events  monitor.EventAppender
	Hub     streaming.EventHub
	Linter  *validation.Linter
	Clock   clock.WithTickerAndDelayedExecution
	Logger  *slog.Logger
	Monitor monitor.Config
}

// Session is the explicit replacement for a global editor store.
type Session struct {
	id      string
	backend backend.Client
	store   store.Store
	hub     streaming.EventHub
	linter  *validation.Linter
	logger  *slog.Logger
	monitor *monitor.Monitor

	mu              sync.RWMutex
	meta            schema.ProjectMeta
	appID           string
	nodes           []schema.GraphNode
	edges           []schema.Edge
	workflows       []schema.Workflow
	currentWorkflow string
}

// State is a point-in-time copy of a session.
type State struct {
	ID              string                 `json:"id"`
	AppID           string                 `json:"appId,omitempty"`
	Meta            schema.ProjectMeta     `json:"meta"`
	Graph           schema.Graph           `json:"graph"`
	Workflows       []schema.Workflow      `json:"workflows"`
	CurrentWorkflow string                 `json:"currentWorkflow,omitempty"`
	Monitor         schema.MonitorSnapshot `json:"monitor"`
}

// SaveOutcome describes a successful save.
type SaveOutcome struct {
	AppID      string                   `json:"appId"`
	Version    string                   `json:"version,omitempty"`
	RevisionID string                   `json:"revisionId,omitempty"`
	Document   *schema.Document         `json:"document"`
	Lint       *schema.ValidationResult `json:"lint,omitempty"`
}

// New creates an empty session.
func New(id string, deps Deps) *Session {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("session_id", id))
	return &Session{
		id:      id,
		backend: deps.Backend,
		store:   deps.Store,
		hub:     deps.Hub,
		linter:  deps.Linter,
		logger:  logger,
		monitor: monitor.New(deps.Monitor, monitor.Deps{
			SessionID: id,
			Backend:   deps.Backend,
			Events:    deps.Events,
			Hub:       deps.Hub,
			Clock:     deps.Clock,
			Logger:    logger,
		}),
		nodes:     []schema.GraphNode{},
		edges:     []schema.Edge{},
		workflows: []schema.Workflow{},
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Monitor exposes the session's execution monitor.
func (s *Session) Monitor() *monitor.Monitor { return s.monitor }

// --- graph commands ---

// SetMeta replaces the project metadata.
func (s *Session) SetMeta(meta schema.ProjectMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta = meta
}

// SetAppID binds the session to an application already stored by the backend.
func (s *Session) SetAppID(appID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appID = appID
}

// SetGraph replaces all nodes and edges. Edges touching unknown nodes are dropped.
func (s *Session) SetGraph(g schema.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes = append([]schema.GraphNode{}, g.Nodes...)
	s.edges = []schema.Edge{}
	seen := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		if !s.hasNodeLocked(e.Source) || !s.hasNodeLocked(e.Target) {
			continue
		}
		if e.ID == "" {
			e.ID = layout.EdgeID(e.Source, e.Target)
		}
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		s.edges = append(s.edges, e)
	}
}

// AddNode appends a node, assigning an id when it has none.
func (s *Session) AddNode(node schema.GraphNode) (schema.GraphNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	if s.hasNodeLocked(node.ID) {
		return schema.GraphNode{}, schema.NewErrorf(schema.ErrCodeConflict, "node %s already exists", node.ID)
	}
	s.nodes = append(s.nodes, node)
	return node, nil
}

// UpdateNode replaces the node with the same id.
func (s *Session) UpdateNode(node schema.GraphNode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.nodes {
		if s.nodes[i].ID == node.ID {
			s.nodes[i] = node
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeNotFound, "node %s not found", node.ID)
}

// RemoveNode deletes a node and every edge touching it.
func (s *Session) RemoveNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := range s.nodes {
		if s.nodes[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return schema.NewErrorf(schema.ErrCodeNotFound, "node %s not found", id)
	}
	s.nodes = append(s.nodes[:idx], s.nodes[idx+1:]...)

	kept := s.edges[:0]
	for _, e := range s.edges {
		if e.Source != id && e.Target != id {
			kept = append(kept, e)
		}
	}
	s.edges = kept
	return nil
}

// Connect adds an edge between two existing nodes. Connecting an already
// connected pair returns the existing edge.
func (s *Session) Connect(source, target string) (schema.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []string{source, target} {
		if !s.hasNodeLocked(id) {
			return schema.Edge{}, schema.NewErrorf(schema.ErrCodeNotFound, "node %s not found", id)
		}
	}
	edge := schema.Edge{ID: layout.EdgeID(source, target), Source: source, Target: target}
	for _, e := range s.edges {
		if e.ID == edge.ID {
			return e, nil
		}
	}
	s.edges = append(s.edges, edge)
	return edge, nil
}

// Reset clears the graph, metadata and workflows. The monitor is left alone.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta = schema.ProjectMeta{}
	s.appID = ""
	s.nodes = []schema.GraphNode{}
	s.edges = []schema.Edge{}
	s.workflows = []schema.Workflow{}
	s.currentWorkflow = ""
}

// Graph returns a copy of the canvas.
func (s *Session) Graph() schema.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graphLocked()
}

func (s *Session) graphLocked() schema.Graph {
	return schema.Graph{
		Nodes: append([]schema.GraphNode{}, s.nodes...),
		Edges: append([]schema.Edge{}, s.edges...),
	}
}

func (s *Session) hasNodeLocked(id string) bool {
	for i := range s.nodes {
		if s.nodes[i].ID == id {
			return true
		}
	}
	return false
}

// --- workflows ---

// SetWorkflows replaces the known workflows.
func (s *Session) SetWorkflows(wfs []schema.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows = append([]schema.Workflow{}, wfs...)
	if _, ok := schema.FindWorkflow(s.workflows, s.currentWorkflow); !ok {
		s.currentWorkflow = ""
	}
}

// LoadWorkflows fetches the workflows of the saved application.
func (s *Session) LoadWorkflows(ctx context.Context) ([]schema.Workflow, error) {
	appID, err := s.requireApp()
	if err != nil {
		return nil, err
	}
	wfs, err := s.backend.ListWorkflows(ctx, appID)
	if err != nil {
		return nil, err
	}
	s.SetWorkflows(wfs)
	return wfs, nil
}

// SelectWorkflow lays the graph out for a workflow, replacing node positions
// and every edge.
func (s *Session) SelectWorkflow(id string) (layout.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wf, ok := schema.FindWorkflow(s.workflows, id)
	if !ok {
		return layout.Result{}, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %s not found", id)
	}
	res := layout.Apply(wf, s.nodes)
	s.nodes = res.Nodes
	s.edges = res.Edges
	s.currentWorkflow = id
	return res, nil
}

// --- compile, lint, save ---

// Compile turns the current graph into a document.
func (s *Session) Compile() *schema.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return compiler.Compile(s.meta, s.nodes)
}

// Lint checks the compiled document and, when one is selected, the current
// workflow. A session without a linter reports nothing.
func (s *Session) Lint(ctx context.Context) *schema.ValidationResult {
	doc := s.Compile()
	if s.linter == nil {
		return &schema.ValidationResult{}
	}
	result := s.linter.Lint(ctx, doc)

	s.mu.RLock()
	wf, ok := schema.FindWorkflow(s.workflows, s.currentWorkflow)
	s.mu.RUnlock()
	if ok {
		result.Merge(s.linter.LintWorkflow(doc, &wf))
	}
	return result
}

// Save compiles the graph, lints it locally, asks the backend for a dry run
// and stores the application. A dry-run rejection aborts the save with the
// backend's message unchanged and nothing is committed.
func (s *Session) Save(ctx context.Context) (*SaveOutcome, error) {
	ctx = logging.WithSessionID(ctx, s.id)
	doc := s.Compile()

	var lint *schema.ValidationResult
	if s.linter != nil {
		lint = s.linter.Lint(ctx, doc)
		if !lint.Valid() {
			s.logger.WarnContext(ctx, "local lint reported errors",
				slog.Int("errors", len(lint.Errors)), slog.Int("warnings", len(lint.Warnings)))
		}
	}

	if err := s.backend.DryRun(ctx, doc); err != nil {
		s.logger.WarnContext(ctx, "dry run rejected", slog.String("error", err.Error()))
		return nil, err
	}

	res, err := s.backend.SaveApplication(ctx, doc)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.appID = res.AppID
	s.mu.Unlock()
	ctx = logging.WithAppID(ctx, res.AppID)

	outcome := &SaveOutcome{AppID: res.AppID, Version: res.Version, Document: doc, Lint: lint}
	if s.store != nil {
		if id, err := s.recordRevision(ctx, res.AppID, doc); err != nil {
			s.logger.WarnContext(ctx, "revision not recorded", slog.String("error", err.Error()))
		} else {
			outcome.RevisionID = id
		}
	}

	s.logger.InfoContext(ctx, "application saved", slog.Int("components", len(doc.Component)))
	return outcome, nil
}

func (s *Session) recordRevision(ctx context.Context, appID string, doc *schema.Document) (string, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	rev := &store.Revision{
		ID:        uuid.New().String(),
		AppID:     appID,
		Name:      doc.Name,
		Version:   doc.Version,
		SessionID: s.id,
		Document:  raw,
	}
	if err := s.store.SaveRevision(ctx, rev); err != nil {
		return "", err
	}
	return rev.ID, nil
}

// --- execution ---

// Publish runs a workflow of the saved application and starts monitoring the
// resulting task. An empty workflowID publishes the selected workflow.
func (s *Session) Publish(ctx context.Context, workflowID string) (string, error) {
	appID, err := s.requireApp()
	if err != nil {
		return "", err
	}
	if workflowID == "" {
		s.mu.RLock()
		workflowID = s.currentWorkflow
		s.mu.RUnlock()
	}
	if workflowID == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "no workflow selected")
	}

	ctx = logging.WithIDs(ctx, s.id, "", appID)
	taskID, err := s.backend.PublishWorkflow(ctx, appID, workflowID)
	if err != nil {
		return "", err
	}
	if err := s.monitor.Start(ctx, taskID); err != nil {
		return "", err
	}
	s.logger.InfoContext(ctx, "workflow published", slog.String("workflow_id", workflowID), slog.String("task_id", taskID))
	return taskID, nil
}

// Cancel stops the active task. It reports whether a task was active.
func (s *Session) Cancel(ctx context.Context) bool {
	return s.monitor.Cancel(logging.WithSessionID(ctx, s.id))
}

// DismissNotification clears the task notification.
func (s *Session) DismissNotification() {
	s.monitor.DismissNotification()
}

// Status returns the monitor snapshot.
func (s *Session) Status() schema.MonitorSnapshot {
	return s.monitor.Snapshot()
}

// State returns a copy of the whole session.
func (s *Session) State() State {
	s.mu.RLock()
	st := State{
		ID:              s.id,
		AppID:           s.appID,
		Meta:            s.meta,
		Graph:           s.graphLocked(),
		Workflows:       append([]schema.Workflow{}, s.workflows...),
		CurrentWorkflow: s.currentWorkflow,
	}
	s.mu.RUnlock()
	st.Monitor = s.monitor.Snapshot()
	return st
}

// Close tears the session down, disarms the monitor and drops the session's
// replay state from the hub.
func (s *Session) Close() {
	s.monitor.Close()
	if s.hub != nil {
		s.hub.Forget(s.id)
	}
}

func (s *Session) requireApp() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.appID == "" {
		return "", schema.NewError(schema.ErrCodeConflict, "application has not been saved")
	}
	return s.appID, nil
}
