package api

import (
	"net/http"

	"github.com/rendis/shipyard/internal/store"
)

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "store not configured")
		return false
	}
	return true
}

// handleListRevisions lists saved revisions, filtered by ?name= and ?app_id=.
func (s *Server) handleListRevisions(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	q := r.URL.Query()
	revs, err := s.deps.Store.ListRevisions(r.Context(), store.RevisionFilter{
		Name:  q.Get("name"),
		AppID: q.Get("app_id"),
		Limit: queryInt(r, "limit", 50),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	if revs == nil {
		revs = []*store.Revision{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"revisions": revs})
}

func (s *Server) handleGetRevision(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	rev, err := s.deps.Store.GetRevision(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rev)
}

// handleTaskEvents returns the recorded events of a task after ?since=.
func (s *Server) handleTaskEvents(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	events, err := s.deps.Store.GetEvents(r.Context(), r.PathValue("id"), queryInt64(r, "since"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if events == nil {
		events = []*store.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// handleTaskHistory folds a task's events into its outcome.
func (s *Server) handleTaskHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event log not configured")
		return
	}
	h, err := s.deps.Events.ReplayTask(r.Context(), r.PathValue("id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h)
}
