package api

import (
	"net/http"

	"github.com/rendis/shipyard/internal/session"
	"github.com/rendis/shipyard/pkg/schema"
)

// session resolves the {id} path value, answering 404 when unknown.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.deps.Sessions.List()})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.deps.Sessions.Create()
	s.deps.Logger.Info("session created", "session_id", sess.ID())
	writeJSON(w, http.StatusCreated, sess.State())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Sessions.Delete(id); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": id})
}

func (s *Server) handleSetMeta(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body struct {
		schema.ProjectMeta
		AppID *string `json:"appId,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sess.SetMeta(body.ProjectMeta)
	if body.AppID != nil {
		sess.SetAppID(*body.AppID)
	}
	writeJSON(w, http.StatusOK, sess.State())
}

// handleSetGraph replaces the whole canvas. An optional "meta" field replaces
// the project metadata in the same call.
func (s *Server) handleSetGraph(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body struct {
		schema.Graph
		Meta *schema.ProjectMeta `json:"meta,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Meta != nil {
		sess.SetMeta(*body.Meta)
	}
	sess.SetGraph(body.Graph)
	writeJSON(w, http.StatusOK, sess.Graph())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Reset()
	writeJSON(w, http.StatusOK, sess.State())
}

func (s *Server) handleAddNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var node schema.GraphNode
	if !decodeBody(w, r, &node) {
		return
	}
	added, err := sess.AddNode(node)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var node schema.GraphNode
	if !decodeBody(w, r, &node) {
		return
	}
	node.ID = r.PathValue("node")
	if err := sess.UpdateNode(node); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.RemoveNode(r.PathValue("node")); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Graph())
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	edge, err := sess.Connect(body.Source, body.Target)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

func (s *Server) handleSessionDocument(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Compile())
}

func (s *Server) handleSessionLint(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Lint(r.Context()))
}

func (s *Server) handleLoadWorkflows(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	wfs, err := sess.LoadWorkflows(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workflows": wfs})
}

func (s *Server) handleSelectWorkflow(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := sess.SelectWorkflow(r.PathValue("wid"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	out, err := sess.Save(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePublish publishes the workflow named in the body, or the selected one.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body struct {
		WorkflowID string `json:"workflowId"`
	}
	if r.ContentLength != 0 && !decodeBody(w, r, &body) {
		return
	}
	taskID, err := sess.Publish(r.Context(), body.WorkflowID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	cancelled := sess.Cancel(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Status())
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.DismissNotification()
	writeJSON(w, http.StatusOK, sess.Status())
}
