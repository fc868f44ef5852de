package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/shipyard/pkg/schema"
)

// EventLog provides task event operations on top of a LibSQLStore.
type EventLog struct {
	store *LibSQLStore
}

// NewEventLog wraps a LibSQLStore to provide task event operations.
func NewEventLog(s *LibSQLStore) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-task sequence.
// The write lock is taken before the sequence is read so concurrent monitors
// never interleave.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	db := el.store.DB()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin immediate tx: %w", err)
	}
	defer tx.Rollback()

	// In WAL mode BeginTx may start a deferred transaction; a write forces the lock.
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version, name) VALUES (-1, '_lock_noop')`); err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM schema_version WHERE version = -1`); err != nil {
		return fmt.Errorf("cleanup write lock: %w", err)
	}

	if err := insertEvent(ctx, tx, event); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns events for a task with sequence > since, ordered by sequence ASC.
func (el *EventLog) GetEvents(ctx context.Context, taskID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, taskID, since)
}

// TaskHistory is the outcome of a task reconstructed from its events.
type TaskHistory struct {
	TaskID     string                            `json:"task_id"`
	State      schema.MonitorState               `json:"state"`
	Outcome    string                            `json:"outcome,omitempty"`
	Statuses   map[string]schema.ComponentStatus `json:"statuses,omitempty"`
	Details    []string                          `json:"details,omitempty"`
	StartedAt  *time.Time                        `json:"started_at,omitempty"`
	FinishedAt *time.Time                        `json:"finished_at,omitempty"`
	Events     int                               `json:"events"`
}

// ReplayTask replays all events for a task and returns its reconstructed history.
// Returns an error if sequence gaps are detected.
func (el *EventLog) ReplayTask(ctx context.Context, taskID string) (*TaskHistory, error) {
	events, err := el.store.GetEvents(ctx, taskID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	h := &TaskHistory{TaskID: taskID, State: schema.MonitorIdle, Events: len(events)}
	if len(events) == 0 {
		return h, nil
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in task %s: expected %d, got %d", taskID, expected, e.Sequence)
		}
	}

	for _, e := range events {
		var tr schema.Transition
		if len(e.Payload) > 0 {
			_ = json.Unmarshal(e.Payload, &tr)
		}
		ts := e.Timestamp

		switch e.Type {
		case schema.EventPreviewEntered, schema.EventTaskScheduled:
			if h.StartedAt == nil {
				h.StartedAt = &ts
			}
			h.State = schema.MonitorPolling
		case schema.EventStatusUpdated:
			h.Statuses = tr.Snapshot.Statuses
		case schema.EventTaskSucceeded:
			h.State = schema.MonitorSucceeded
			h.Outcome = "succeeded"
			h.FinishedAt = &ts
			h.Statuses = tr.Snapshot.Statuses
		case schema.EventTaskFailed:
			h.State = schema.MonitorFailed
			h.Outcome = "failed"
			h.FinishedAt = &ts
			h.Statuses = tr.Snapshot.Statuses
			if n := tr.Snapshot.Notification; n != nil {
				h.Details = n.Details
			}
		case schema.EventTaskCancelled:
			h.Outcome = "cancelled"
			h.FinishedAt = &ts
		case schema.EventPreviewExited:
			h.State = schema.MonitorIdle
		}
	}

	return h, nil
}
