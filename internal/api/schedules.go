package api

import (
	"net/http"

	"github.com/rendis/shipyard/internal/store"
)

func (s *Server) requireScheduler(w http.ResponseWriter) bool {
	if s.deps.Scheduler == nil || s.deps.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not enabled")
		return false
	}
	return true
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	jobs, err := s.deps.Store.ListScheduledJobs(r.Context(), store.ScheduledJobFilter{
		AppID: r.URL.Query().Get("app_id"),
		Limit: queryInt(r, "limit", 100),
	})
	if err != nil {
		writeFailure(w, err)
		return
	}
	if jobs == nil {
		jobs = []*store.ScheduledJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": jobs})
}

// handleCreateSchedule creates a cron-driven publish of a saved application's workflow.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	var body struct {
		AppID          string `json:"app_id"`
		WorkflowID     string `json:"workflow_id"`
		CronExpression string `json:"cron_expression"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	job, err := s.deps.Scheduler.CreateJob(r.Context(), body.AppID, body.WorkflowID, body.CronExpression)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	jobID := r.PathValue("id")

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := s.deps.Store.UpdateScheduledJob(r.Context(), jobID, store.ScheduledJobUpdate{
		Enabled: body.Enabled,
	}); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": jobID})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	jobID := r.PathValue("id")
	if err := s.deps.Store.DeleteScheduledJob(r.Context(), jobID); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true", "id": jobID})
}
