package monitor

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/shipyard/internal/store"
	"github.com/rendis/shipyard/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to schema.MonitorState) error

// EventAppender is satisfied by the Store and EventLog; used by the FSM to emit events on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type hookKey struct {
	from, to schema.MonitorState
}

// FSM validates monitor state transitions and records them.
type FSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[hookKey][]TransitionHook
	after    map[hookKey][]TransitionHook
}

// NewFSM creates an FSM that emits events via the given appender. A nil
// appender disables event recording.
func NewFSM(appender EventAppender) *FSM {
	return &FSM{
		appender: appender,
		before:   make(map[hookKey][]TransitionHook),
		after:    make(map[hookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *FSM) OnBefore(from, to schema.MonitorState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *FSM) OnAfter(from, to schema.MonitorState, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates a transition and emits the event for the target state.
// Invalid transitions fail with INVALID_TRANSITION before any hook runs. A
// failing appender yields STORE_ERROR; the caller decides whether to proceed.
func (f *FSM) Transition(ctx context.Context, tr schema.Transition) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !IsValidTransition(tr.From, tr.To) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid monitor transition: %s -> %s", tr.From, tr.To).
			WithDetails(map[string]any{"task_id": tr.TaskID, "from": string(tr.From), "to": string(tr.To)})
	}

	key := hookKey{tr.From, tr.To}

	for _, hook := range f.before[key] {
		if err := hook(tr.From, tr.To); err != nil {
			return err
		}
	}

	var appendErr error
	if f.appender != nil && tr.TaskID != "" {
		if tr.Event == "" {
			tr.Event = EventForState(tr.To)
		}
		payload, err := json.Marshal(tr)
		if err != nil {
			return err
		}
		event := &store.Event{
			TaskID:    tr.TaskID,
			SessionID: tr.SessionID,
			Type:      tr.Event,
			Payload:   payload,
			Timestamp: tr.At,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			appendErr = schema.NewErrorf(schema.ErrCodeStore, "emit monitor event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range f.after[key] {
		if err := hook(tr.From, tr.To); err != nil {
			return err
		}
	}

	return appendErr
}

// IsValidTransition reports whether the monitor may move from one state to another.
func IsValidTransition(from, to schema.MonitorState) bool {
	for _, a := range ValidTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// EventForState returns the event recorded when the monitor enters a state.
func EventForState(to schema.MonitorState) string {
	switch to {
	case schema.MonitorPolling:
		return schema.EventPreviewEntered
	case schema.MonitorSucceeded:
		return schema.EventTaskSucceeded
	case schema.MonitorFailed:
		return schema.EventTaskFailed
	case schema.MonitorIdle:
		return schema.EventPreviewExited
	default:
		return ""
	}
}

// ValidTransitions defines the allowed monitor state transitions.
var ValidTransitions = map[schema.MonitorState][]schema.MonitorState{
	schema.MonitorIdle:      {schema.MonitorPolling},
	schema.MonitorPolling:   {schema.MonitorSucceeded, schema.MonitorFailed, schema.MonitorIdle},
	schema.MonitorSucceeded: {schema.MonitorIdle},
	schema.MonitorFailed:    {schema.MonitorIdle},
}
