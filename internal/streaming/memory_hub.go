package streaming

import (
	"context"
	"sync"
)

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

type listener struct {
	ch     chan StreamEvent
	filter EventFilter
}

// MemoryHub is the in-process EventHub. It keeps the latest event of every
// session so a client that attaches mid-task (a reloaded editor tab, a late
// SSE connection) starts from the current preview state instead of a blank
// one. Sends never block: a full subscriber misses events.
type MemoryHub struct {
	buffer int

	mu        sync.Mutex
	listeners map[*listener]struct{}
	latest    map[string]StreamEvent
}

var _ EventHub = (*MemoryHub)(nil)

// NewMemoryHub creates a MemoryHub with DefaultBuffer per subscriber.
func NewMemoryHub() *MemoryHub {
	return NewMemoryHubSize(DefaultBuffer)
}

// NewMemoryHubSize creates a MemoryHub with the given per-subscriber buffer.
func NewMemoryHubSize(buffer int) *MemoryHub {
	if buffer < 1 {
		buffer = 1
	}
	return &MemoryHub{
		buffer:    buffer,
		listeners: make(map[*listener]struct{}),
		latest:    make(map[string]StreamEvent),
	}
}

// Publish remembers event as its session's latest and delivers it to every
// matching subscriber.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	event.Replay = false

	h.mu.Lock()
	defer h.mu.Unlock()

	if event.SessionID != "" {
		h.latest[event.SessionID] = event
	}
	for l := range h.listeners {
		if l.filter.Match(event) {
			offer(l.ch, event)
		}
	}
	return nil
}

// Subscribe registers a listener. Replay and registration happen under one
// lock, so no live event can overtake the replayed one.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	l := &listener{ch: make(chan StreamEvent, h.buffer), filter: filter}

	h.mu.Lock()
	if filter.SessionID != "" {
		if last, ok := h.latest[filter.SessionID]; ok && filter.Match(last) {
			last.Replay = true
			offer(l.ch, last)
		}
	}
	h.listeners[l] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, l)
			h.mu.Unlock()
			close(l.ch)
		})
	}
	return l.ch, cancel, nil
}

// Forget drops the remembered latest event of a closed session.
func (h *MemoryHub) Forget(sessionID string) {
	h.mu.Lock()
	delete(h.latest, sessionID)
	h.mu.Unlock()
}

// Latest returns the remembered latest event of a session.
func (h *MemoryHub) Latest(sessionID string) (StreamEvent, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.latest[sessionID]
	return e, ok
}

func offer(ch chan StreamEvent, e StreamEvent) {
	select {
	case ch <- e:
	default:
	}
}
