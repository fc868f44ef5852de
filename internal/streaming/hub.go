// Package streaming fans monitor events out to live listeners (SSE clients
// and MCP watchers).
package streaming

import (
	"context"
	"slices"
)

// StreamEvent is a real-time event emitted by a session's execution monitor.
// Replay marks the copy of a session's latest event handed to a subscriber
// that joined after it was published.
type StreamEvent struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
	Replay    bool   `json:"replay,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive. Empty
// fields match everything.
type EventFilter struct {
	SessionID  string   `json:"session_id,omitempty"`
	TaskID     string   `json:"task_id,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Match reports whether e passes the filter.
func (f EventFilter) Match(e StreamEvent) bool {
	if f.SessionID != "" && f.SessionID != e.SessionID {
		return false
	}
	if f.TaskID != "" && f.TaskID != e.TaskID {
		return false
	}
	return len(f.EventTypes) == 0 || slices.Contains(f.EventTypes, e.EventType)
}

// EventHub provides pub/sub for real-time monitor events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	// Subscribe returns a channel of matching events and a cancel function
	// that closes it. A subscriber filtered to one session first receives
	// that session's latest event, if any.
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
	// Forget drops what the hub remembers about a session.
	Forget(sessionID string)
}
