// Package monitor polls a published task until every component reaches a
// terminal status, then reports the outcome and returns to idle after a delay.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/rendis/shipyard/internal/logging"
	"github.com/rendis/shipyard/internal/store"
	"github.com/rendis/shipyard/internal/streaming"
	"github.com/rendis/shipyard/pkg/schema"
)

// Defaults for Config.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultSuccessClear = 10 * time.Second
	DefaultFailureClear = 3 * time.Second
)

// Backend is the part of the external collaborator the monitor talks to.
type Backend interface {
	TaskStatus(ctx context.Context, taskID string) (*schema.TaskStatus, error)
	CancelTask(ctx context.Context, taskID string) error
}

// Config holds monitor timings. Zero values fall back to the defaults.
type Config struct {
	PollInterval time.Duration
	SuccessClear time.Duration
	FailureClear time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.SuccessClear <= 0 {
		c.SuccessClear = DefaultSuccessClear
	}
	if c.FailureClear <= 0 {
		c.FailureClear = DefaultFailureClear
	}
	return c
}

// Deps holds the collaborators of a Monitor. Events, Hub and Clock are optional.
type Deps struct {
	SessionID string
	Backend   Backend
	Events    EventAppender
	Hub       streaming.EventHub
	Clock     clock.WithTickerAndDelayedExecution
	Logger    *slog.Logger
}

// Monitor is the per-session execution monitor. Every poll is tagged with a
// generation number; results from an older generation are discarded.
type Monitor struct {
	cfg     Config
	backend Backend
	hub     streaming.EventHub
	clock   clock.WithTickerAndDelayedExecution
	logger  *slog.Logger
	fsm     *FSM

	sessionID string

	mu           sync.Mutex
	state        schema.MonitorState
	taskID       string
	generation   uint64
	statuses     map[string]schema.ComponentStatus
	notification *schema.Notification
	stopPoll     chan struct{}
	clearTimer   clock.Timer
	baseCtx      context.Context
	closed       bool
}

// New creates an idle Monitor.
func New(cfg Config, deps Deps) *Monitor {
	clk := deps.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:       cfg.withDefaults(),
		backend:   deps.Backend,
		hub:       deps.Hub,
		clock:     clk,
		logger:    logger,
		fsm:       NewFSM(deps.Events),
		sessionID: deps.SessionID,
		state:     schema.MonitorIdle,
		statuses:  map[string]schema.ComponentStatus{},
	}
}

// FSM exposes the state machine so callers can register hooks. A before-hook
// error vetoes entering polling, succeeded or failed; the return to idle is
// always applied. Hooks run with the monitor locked and must not call back
// into it.
func (m *Monitor) FSM() *FSM { return m.fsm }

// Start enters polling for taskID: one immediate fetch, then one fetch per
// PollInterval. A monitor that is not idle is first returned to idle.
func (m *Monitor) Start(ctx context.Context, taskID string) error {
	if taskID == "" {
		return schema.NewError(schema.ErrCodeValidation, "task id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return schema.NewError(schema.ErrCodeConflict, "monitor is closed")
	}

	base := context.WithoutCancel(ctx)
	if m.state != schema.MonitorIdle {
		m.disarmLocked()
		m.resetLocked(base, "")
	}

	m.generation++
	gen := m.generation
	m.baseCtx = logging.WithTaskID(base, taskID)
	m.taskID = taskID
	m.statuses = map[string]schema.ComponentStatus{}
	m.notification = nil

	if err := m.transitionLocked(m.baseCtx, schema.MonitorPolling, ""); err != nil {
		m.taskID = ""
		return err
	}

	ticker := m.clock.NewTicker(m.cfg.PollInterval)
	stop := make(chan struct{})
	m.stopPoll = stop

	m.logger.InfoContext(m.baseCtx, "monitor started", slog.Duration("interval", m.cfg.PollInterval))
	go m.loop(m.baseCtx, gen, ticker, stop)
	return nil
}

func (m *Monitor) loop(ctx context.Context, gen uint64, ticker clock.Ticker, stop <-chan struct{}) {
	defer ticker.Stop()

	// Run an initial poll immediately.
	if !m.poll(ctx, gen) {
		return
	}

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			if !m.poll(ctx, gen) {
				return
			}
		}
	}
}

// poll performs one status fetch. It returns false once the generation is no
// longer polling and the loop should exit.
func (m *Monitor) poll(ctx context.Context, gen uint64) bool {
	m.mu.Lock()
	if gen != m.generation || m.state != schema.MonitorPolling {
		m.mu.Unlock()
		return false
	}
	taskID := m.taskID
	m.mu.Unlock()

	status, err := m.backend.TaskStatus(ctx, taskID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation || m.state != schema.MonitorPolling {
		m.logger.DebugContext(ctx, "discarding stale task status", slog.Uint64("generation", gen))
		return false
	}

	if err != nil {
		m.logger.WarnContext(ctx, "task status fetch failed", slog.String("error", err.Error()))
		m.recordLocked(ctx, schema.EventPollFailed, m.state, m.state)
		return true
	}

	components := status.Components
	statuses := make(map[string]schema.ComponentStatus, len(components))
	allTerminal := len(components) > 0
	for _, c := range components {
		statuses[c.Name] = schema.ComponentStatus{
			Type:      c.Type,
			Status:    c.Status,
			StartTime: c.StartTime,
			EndTime:   c.EndTime,
		}
		if !c.Status.IsTerminal() {
			allTerminal = false
		}
	}
	changed := !sameStatuses(m.statuses, statuses)
	m.statuses = statuses

	if !allTerminal {
		if changed {
			m.recordLocked(ctx, schema.EventStatusUpdated, m.state, m.state)
		}
		return true
	}

	m.stopPollLocked()
	m.finishLocked(ctx, gen, components)
	return false
}

// finishLocked classifies a fully terminal task and arms the auto-clear timer.
func (m *Monitor) finishLocked(ctx context.Context, gen uint64, components []schema.ComponentState) {
	var failures []string
	for _, c := range components {
		if c.Status.IsError() {
			failures = append(failures, fmt.Sprintf("%s: %s", c.Name, c.Status.Label()))
		}
	}

	now := m.clock.Now()
	if len(failures) == 0 {
		m.notification = &schema.Notification{
			TaskID:  m.taskID,
			Success: true,
			Message: "deployment completed",
			At:      now,
		}
		if err := m.transitionLocked(ctx, schema.MonitorSucceeded, ""); err != nil {
			m.abandonLocked(ctx, err)
			return
		}
		m.logger.InfoContext(ctx, "task succeeded")
		m.armClearLocked(gen, m.cfg.SuccessClear, true)
		return
	}

	m.notification = &schema.Notification{
		TaskID:  m.taskID,
		Success: false,
		Message: "deployment failed",
		Details: failures,
		At:      now,
	}
	if err := m.transitionLocked(ctx, schema.MonitorFailed, ""); err != nil {
		m.abandonLocked(ctx, err)
		return
	}
	m.logger.WarnContext(ctx, "task failed", slog.Any("failures", failures))
	m.armClearLocked(gen, m.cfg.FailureClear, false)
}

// abandonLocked drops a task whose terminal transition was vetoed.
func (m *Monitor) abandonLocked(ctx context.Context, err error) {
	m.logger.WarnContext(ctx, "terminal transition rejected", slog.String("error", err.Error()))
	m.notification = nil
	m.resetLocked(ctx, "")
}

func (m *Monitor) armClearLocked(gen uint64, after time.Duration, clearNotification bool) {
	// AfterFunc callbacks may run while the clock holds its own lock.
	m.clearTimer = m.clock.AfterFunc(after, func() {
		go m.autoClear(gen, clearNotification)
	})
}

func (m *Monitor) autoClear(gen uint64, clearNotification bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.generation {
		return
	}
	if m.state != schema.MonitorSucceeded && m.state != schema.MonitorFailed {
		return
	}
	m.clearTimer = nil
	ctx := m.baseCtx
	taskID := m.taskID
	m.resetLocked(ctx, taskID)
	if clearNotification && m.notification != nil {
		m.notification = nil
		m.recordTaskLocked(ctx, taskID, schema.EventNotificationCleared, schema.MonitorIdle, schema.MonitorIdle)
	}
}

// Cancel stops polling and clears the task state at once. The remote cancel
// is best-effort: its failure is logged and never returned. Cancel reports
// whether a task was active.
func (m *Monitor) Cancel(ctx context.Context) bool {
	m.mu.Lock()
	if m.state == schema.MonitorIdle {
		m.mu.Unlock()
		return false
	}
	wasPolling := m.state == schema.MonitorPolling
	taskID := m.taskID
	base := m.baseCtx

	m.disarmLocked()
	m.generation++
	m.notification = nil
	m.recordLocked(base, schema.EventTaskCancelled, m.state, schema.MonitorIdle)
	m.resetLocked(base, taskID)
	m.mu.Unlock()

	if wasPolling {
		if err := m.backend.CancelTask(ctx, taskID); err != nil {
			m.logger.WarnContext(base, "remote task cancel failed", slog.String("error", err.Error()))
		}
	}
	return true
}

// DismissNotification clears the current notification. It is the only way a
// failure notification goes away.
func (m *Monitor) DismissNotification() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.notification == nil {
		return
	}
	taskID := m.notification.TaskID
	m.notification = nil

	ctx := m.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	m.recordTaskLocked(ctx, taskID, schema.EventNotificationCleared, m.state, m.state)
}

// Snapshot returns a copy of the monitor state.
func (m *Monitor) Snapshot() schema.MonitorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// State returns the current lifecycle state.
func (m *Monitor) State() schema.MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close disarms every timer and refuses further Starts. It does not call the
// backend.
func (m *Monitor) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.disarmLocked()
	m.generation++
	m.state = schema.MonitorIdle
	m.taskID = ""
	m.statuses = map[string]schema.ComponentStatus{}
}

// --- internals; callers hold m.mu ---

func (m *Monitor) stopPollLocked() {
	if m.stopPoll != nil {
		close(m.stopPoll)
		m.stopPoll = nil
	}
}

func (m *Monitor) disarmLocked() {
	m.stopPollLocked()
	if m.clearTimer != nil {
		m.clearTimer.Stop()
		m.clearTimer = nil
	}
}

// resetLocked returns to idle and drops the task state. The notification is kept.
func (m *Monitor) resetLocked(ctx context.Context, taskID string) {
	if taskID == "" {
		taskID = m.taskID
	}
	if m.state != schema.MonitorIdle {
		from := m.state
		m.state = schema.MonitorIdle
		m.emitLocked(ctx, schema.Transition{
			TaskID: taskID,
			Event:  schema.EventPreviewExited,
			From:   from,
			To:     schema.MonitorIdle,
		}, true)
	}
	m.taskID = ""
	m.statuses = map[string]schema.ComponentStatus{}
}

// transitionLocked asks the FSM first and only then commits the new state, so
// a before-hook error leaves the monitor where it was. A failed event append
// is logged and does not block the transition.
func (m *Monitor) transitionLocked(ctx context.Context, to schema.MonitorState, event string) error {
	tr := m.stampLocked(schema.Transition{TaskID: m.taskID, Event: event, From: m.state, To: to})
	tr.Snapshot.State = to
	if err := m.fsm.Transition(ctx, tr); err != nil {
		if !schema.IsCode(err, schema.ErrCodeStore) {
			return err
		}
		m.logger.WarnContext(ctx, "monitor transition not recorded", slog.String("error", err.Error()))
	}
	m.state = to
	m.publishLocked(ctx, tr)
	return nil
}

// emitLocked records a transition through the FSM (when viaFSM) and
// publishes it to the hub. The state must already reflect tr.To. Used for the
// return to idle, which hooks cannot veto.
func (m *Monitor) emitLocked(ctx context.Context, tr schema.Transition, viaFSM bool) {
	tr = m.stampLocked(tr)
	if viaFSM {
		if err := m.fsm.Transition(ctx, tr); err != nil {
			m.logger.WarnContext(ctx, "monitor transition not recorded", slog.String("error", err.Error()))
		}
	} else if m.fsm.appender != nil && tr.TaskID != "" {
		m.appendLocked(ctx, tr)
	}
	m.publishLocked(ctx, tr)
}

func (m *Monitor) stampLocked(tr schema.Transition) schema.Transition {
	tr.SessionID = m.sessionID
	tr.At = m.clock.Now()
	if tr.Event == "" {
		tr.Event = EventForState(tr.To)
	}
	tr.Snapshot = m.snapshotLocked()
	return tr
}

func (m *Monitor) publishLocked(ctx context.Context, tr schema.Transition) {
	if m.hub == nil {
		return
	}
	_ = m.hub.Publish(context.WithoutCancel(ctx), streaming.StreamEvent{
		SessionID: m.sessionID,
		TaskID:    tr.TaskID,
		EventType: tr.Event,
		Payload:   tr,
	})
}

func (m *Monitor) recordLocked(ctx context.Context, event string, from, to schema.MonitorState) {
	m.recordTaskLocked(ctx, m.taskID, event, from, to)
}

// recordTaskLocked emits a non-transition event.
func (m *Monitor) recordTaskLocked(ctx context.Context, taskID, event string, from, to schema.MonitorState) {
	m.emitLocked(ctx, schema.Transition{TaskID: taskID, Event: event, From: from, To: to}, false)
}

func (m *Monitor) appendLocked(ctx context.Context, tr schema.Transition) {
	payload, err := json.Marshal(tr)
	if err != nil {
		return
	}
	if err := m.fsm.appender.AppendEvent(ctx, &store.Event{
		TaskID:    tr.TaskID,
		SessionID: tr.SessionID,
		Type:      tr.Event,
		Payload:   payload,
		Timestamp: tr.At,
	}); err != nil {
		m.logger.WarnContext(ctx, "monitor event not recorded", slog.String("error", err.Error()))
	}
}

func (m *Monitor) snapshotLocked() schema.MonitorSnapshot {
	statuses := make(map[string]schema.ComponentStatus, len(m.statuses))
	for k, v := range m.statuses {
		statuses[k] = v
	}
	snap := schema.MonitorSnapshot{
		State:    m.state,
		TaskID:   m.taskID,
		Statuses: statuses,
	}
	if m.notification != nil {
		n := *m.notification
		n.Details = append([]string(nil), m.notification.Details...)
		snap.Notification = &n
	}
	return snap
}

func sameStatuses(a, b map[string]schema.ComponentStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
