package schema

import "time"

// Event type constants for the task event log.
const (
	EventPreviewEntered      = "preview_entered"
	EventStatusUpdated       = "status_updated"
	EventPollFailed          = "poll_failed"
	EventTaskSucceeded       = "task_succeeded"
	EventTaskFailed          = "task_failed"
	EventTaskCancelled       = "task_cancelled"
	EventPreviewExited       = "preview_exited"
	EventNotificationCleared = "notification_cleared"
	EventTaskScheduled       = "task_scheduled"
)

// MonitorState is the lifecycle state of an execution monitor.
type MonitorState string

const (
	MonitorIdle      MonitorState = "idle"
	MonitorPolling   MonitorState = "polling"
	MonitorSucceeded MonitorState = "succeeded"
	MonitorFailed    MonitorState = "failed"
)

// LifecycleStatus is the per-component status reported by the backend.
type LifecycleStatus string

const (
	StatusPending   LifecycleStatus = "pending"
	StatusRunning   LifecycleStatus = "running"
	StatusCompleted LifecycleStatus = "completed"
	StatusFailed    LifecycleStatus = "failed"
	StatusCancelled LifecycleStatus = "cancelled"
	StatusTimeout   LifecycleStatus = "timeout"
	StatusReject    LifecycleStatus = "reject"
)

// IsTerminal reports whether the component will not change status anymore.
func (s LifecycleStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimeout, StatusReject:
		return true
	}
	return false
}

// IsError reports whether the status is terminal and unsuccessful.
func (s LifecycleStatus) IsError() bool {
	return s.IsTerminal() && s != StatusCompleted
}

// Label returns the human readable label used in failure notifications.
func (s LifecycleStatus) Label() string {
	switch s {
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	case StatusTimeout:
		return "Timeout"
	case StatusReject:
		return "Rejected"
	}
	return string(s)
}

// TaskStatus is the backend response for a task status poll.
type TaskStatus struct {
	TaskID     string           `json:"taskId,omitempty"`
	Components []ComponentState `json:"components"`
}

// ComponentState is one entry of a task status response. Times are passed
// through as the backend formats them.
type ComponentState struct {
	Name      string          `json:"name"`
	Type      string          `json:"type"`
	Status    LifecycleStatus `json:"status"`
	StartTime string          `json:"startTime,omitempty"`
	EndTime   string          `json:"endTime,omitempty"`
}

// ComponentStatus is the monitor's record for one component name.
type ComponentStatus struct {
	Type      string          `json:"type"`
	Status    LifecycleStatus `json:"status"`
	StartTime string          `json:"startTime,omitempty"`
	EndTime   string          `json:"endTime,omitempty"`
}

// Notification is the user-facing outcome of a finished task.
type Notification struct {
	TaskID  string    `json:"taskId"`
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Details []string  `json:"details,omitempty"`
	At      time.Time `json:"at"`
}

// MonitorSnapshot is a point-in-time view of a monitor.
type MonitorSnapshot struct {
	State        MonitorState               `json:"state"`
	TaskID       string                     `json:"taskId,omitempty"`
	Statuses     map[string]ComponentStatus `json:"statuses"`
	Notification *Notification              `json:"notification,omitempty"`
}

// Transition is published whenever a monitor changes state or observes new statuses.
type Transition struct {
	SessionID string          `json:"sessionId,omitempty"`
	TaskID    string          `json:"taskId,omitempty"`
	Event     string          `json:"event"`
	From      MonitorState    `json:"from"`
	To        MonitorState    `json:"to"`
	Snapshot  MonitorSnapshot `json:"snapshot"`
	At        time.Time       `json:"at"`
}
