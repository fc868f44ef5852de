package mcp

import "sync"

// WatchRegistry maps task IDs to the MCP sessions watching them.
type WatchRegistry struct {
	mu      sync.RWMutex
	watches map[string]map[string]struct{} // taskID → sessionIDs
}

// NewWatchRegistry creates a new empty WatchRegistry.
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{watches: make(map[string]map[string]struct{})}
}

// Watch subscribes a session to a task. Watching twice is a no-op.
func (r *WatchRegistry) Watch(taskID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sessions, ok := r.watches[taskID]
	if !ok {
		sessions = make(map[string]struct{})
		r.watches[taskID] = sessions
	}
	sessions[sessionID] = struct{}{}
}

// SessionsFor returns the sessions watching a task.
func (r *WatchRegistry) SessionsFor(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.watches[taskID]))
	for sid := range r.watches[taskID] {
		out = append(out, sid)
	}
	return out
}

// Remove deletes every watch held by the given session.
// Called when a session disconnects.
func (r *WatchRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for taskID, sessions := range r.watches {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.watches, taskID)
		}
	}
}
