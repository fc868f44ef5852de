package store

import (
	"encoding/json"
	"time"
)

// Revision is a saved application document.
type Revision struct {
	ID        string          `json:"id"`
	AppID     string          `json:"app_id,omitempty"`
	Name      string          `json:"name"`
	Version   string          `json:"version,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Document  json.RawMessage `json:"document"`
	CreatedAt time.Time       `json:"created_at"`
}

// Event is an immutable entry in a task's event log.
type Event struct {
	ID        int64           `json:"id"`
	TaskID    string          `json:"task_id"`
	SessionID string          `json:"session_id,omitempty"`
	Type      string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

// ScheduledJob is a cron-triggered workflow publish.
type ScheduledJob struct {
	ID             string     `json:"id"`
	AppID          string     `json:"app_id"`
	WorkflowID     string     `json:"workflow_id"`
	CronExpression string     `json:"cron_expression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus  string     `json:"last_run_status,omitempty"`
	LastTaskID     string     `json:"last_task_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// --- Filter and update types ---

// RevisionFilter specifies criteria for listing revisions.
type RevisionFilter struct {
	Name  string `json:"name,omitempty"`
	AppID string `json:"app_id,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	TaskID    string     `json:"task_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Since     *time.Time `json:"since,omitempty"`
	Limit     int        `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
	LastTaskID    string     `json:"last_task_id,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled *bool  `json:"enabled,omitempty"`
	AppID   string `json:"app_id,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}
