package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/rendis/shipyard/pkg/schema"
)

// BreakerState is the state of one operation's circuit.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls fail fast
	BreakerHalfOpen                     // probing recovery
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before letting a probe through.
	Cooldown time.Duration
	// HalfOpenMax is the number of probes allowed while half-open.
	HalfOpenMax int
	Clock       clock.PassiveClock
}

// DefaultBreakerConfig returns the configuration used by serve.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

type circuit struct {
	state            BreakerState
	failures         int
	lastFailure      time.Time
	halfOpenAttempts int
}

// Breaker wraps a Client and fails fast on an operation after repeated
// transport or service errors. A dry-run rejection is an answer, not a
// failure, and never trips the circuit.
type Breaker struct {
	next   Client
	config BreakerConfig

	mu       sync.Mutex
	circuits map[string]*circuit
}

var _ Client = (*Breaker)(nil)

// NewBreaker wraps next. Zero config fields fall back to DefaultBreakerConfig.
func NewBreaker(next Client, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	return &Breaker{next: next, config: cfg, circuits: make(map[string]*circuit)}
}

// State reports the circuit state of one operation.
func (b *Breaker) State(op string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(op)
	if c.state == BreakerOpen && b.config.Clock.Since(c.lastFailure) >= b.config.Cooldown {
		return BreakerHalfOpen
	}
	return c.state
}

func (b *Breaker) DryRun(ctx context.Context, doc *schema.Document) error {
	return b.guard("dry_run", func() error { return b.next.DryRun(ctx, doc) })
}

func (b *Breaker) SaveApplication(ctx context.Context, doc *schema.Document) (*SaveResult, error) {
	var res *SaveResult
	err := b.guard("save_application", func() (err error) {
		res, err = b.next.SaveApplication(ctx, doc)
		return err
	})
	return res, err
}

func (b *Breaker) ListWorkflows(ctx context.Context, appID string) ([]schema.Workflow, error) {
	var wfs []schema.Workflow
	err := b.guard("list_workflows", func() (err error) {
		wfs, err = b.next.ListWorkflows(ctx, appID)
		return err
	})
	return wfs, err
}

func (b *Breaker) PublishWorkflow(ctx context.Context, appID, workflowID string) (string, error) {
	var taskID string
	err := b.guard("publish_workflow", func() (err error) {
		taskID, err = b.next.PublishWorkflow(ctx, appID, workflowID)
		return err
	})
	return taskID, err
}

func (b *Breaker) TaskStatus(ctx context.Context, taskID string) (*schema.TaskStatus, error) {
	var st *schema.TaskStatus
	err := b.guard("task_status", func() (err error) {
		st, err = b.next.TaskStatus(ctx, taskID)
		return err
	})
	return st, err
}

func (b *Breaker) CancelTask(ctx context.Context, taskID string) error {
	return b.guard("cancel_task", func() error { return b.next.CancelTask(ctx, taskID) })
}

func (b *Breaker) guard(op string, call func() error) error {
	if err := b.allow(op); err != nil {
		return err
	}
	err := call()
	switch {
	case errors.Is(err, context.Canceled):
		// The caller gave up; the call says nothing about the service.
		b.release(op)
	case trips(err):
		b.recordFailure(op)
	default:
		b.recordSuccess(op)
	}
	return err
}

// trips reports whether err counts against the circuit. Answers from a
// healthy service, rejections included, do not.
func trips(err error) bool {
	return err != nil && schema.IsCode(err, schema.ErrCodeBackend)
}

func (b *Breaker) allow(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(op)

	switch c.state {
	case BreakerOpen:
		elapsed := b.config.Clock.Since(c.lastFailure)
		if elapsed >= b.config.Cooldown {
			c.state = BreakerHalfOpen
			c.halfOpenAttempts = 1
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeBackend,
			"deployment service %s suspended after %d consecutive failures", op, c.failures).
			WithDetails(map[string]any{
				"operation":            op,
				"state":                c.state.String(),
				"consecutive_failures": c.failures,
				"cooldown_remaining":   (b.config.Cooldown - elapsed).String(),
			})
	case BreakerHalfOpen:
		if c.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeBackend,
				"deployment service %s is recovering, try again shortly", op).
				WithDetails(map[string]any{"operation": op, "state": c.state.String()})
		}
		c.halfOpenAttempts++
	}
	return nil
}

// release frees the half-open slot taken by a call that ended without a verdict.
func (b *Breaker) release(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(op)
	if c.state == BreakerHalfOpen && c.halfOpenAttempts > 0 {
		c.halfOpenAttempts--
	}
}

func (b *Breaker) recordSuccess(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(op)
	c.failures = 0
	c.halfOpenAttempts = 0
	c.state = BreakerClosed
}

func (b *Breaker) recordFailure(op string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.circuit(op)
	c.failures++
	c.lastFailure = b.config.Clock.Now()
	if c.state == BreakerHalfOpen || c.failures >= b.config.FailureThreshold {
		c.state = BreakerOpen
	}
}

// circuit must be called with b.mu held.
func (b *Breaker) circuit(op string) *circuit {
	c, ok := b.circuits[op]
	if !ok {
		c = &circuit{}
		b.circuits[op] = c
	}
	return c
}
