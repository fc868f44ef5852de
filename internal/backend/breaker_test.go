package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/rendis/shipyard/pkg/schema"
)

// stubClient answers every call with err and counts calls.
type stubClient struct {
	Client
	err   error
	calls int
}

func (s *stubClient) DryRun(context.Context, *schema.Document) error {
	s.calls++
	return s.err
}

func (s *stubClient) TaskStatus(_ context.Context, taskID string) (*schema.TaskStatus, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &schema.TaskStatus{TaskID: taskID}, nil
}

func (s *stubClient) PublishWorkflow(context.Context, string, string) (string, error) {
	s.calls++
	return "task-1", s.err
}

var errDown = schema.NewError(schema.ErrCodeBackend, "connection refused")

func newTestBreaker(next Client) (*Breaker, *clocktesting.FakePassiveClock) {
	fc := clocktesting.NewFakePassiveClock(time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
	return NewBreaker(next, BreakerConfig{FailureThreshold: 3, Cooldown: 10 * time.Second, Clock: fc}), fc
}

func TestBreaker_StartsClosed(t *testing.T) {
	b, _ := newTestBreaker(&stubClient{})
	st, err := b.TaskStatus(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", st.TaskID)
	assert.Equal(t, BreakerClosed, b.State("task_status"))
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	stub := &stubClient{err: errDown}
	b, _ := newTestBreaker(stub)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.TaskStatus(ctx, "t")
		assert.Same(t, errDown, err)
	}
	assert.Equal(t, BreakerOpen, b.State("task_status"))

	_, err := b.TaskStatus(ctx, "t")
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBackend))
	assert.Equal(t, "open", err.(*schema.ShipyardError).Details["state"])
	assert.Equal(t, 3, stub.calls, "open circuit does not reach the service")
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	stub := &stubClient{err: errDown}
	b, _ := newTestBreaker(stub)
	ctx := context.Background()

	_, _ = b.TaskStatus(ctx, "t")
	_, _ = b.TaskStatus(ctx, "t")
	stub.err = nil
	_, err := b.TaskStatus(ctx, "t")
	require.NoError(t, err)

	stub.err = errDown
	_, _ = b.TaskStatus(ctx, "t")
	_, _ = b.TaskStatus(ctx, "t")
	assert.Equal(t, BreakerClosed, b.State("task_status"))
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	stub := &stubClient{err: errDown}
	b, fc := newTestBreaker(stub)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = b.TaskStatus(ctx, "t")
	}

	fc.SetTime(fc.Now().Add(10 * time.Second))
	assert.Equal(t, BreakerHalfOpen, b.State("task_status"))

	stub.err = nil
	_, err := b.TaskStatus(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, b.State("task_status"))
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	stub := &stubClient{err: errDown}
	b, fc := newTestBreaker(stub)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = b.TaskStatus(ctx, "t")
	}

	fc.SetTime(fc.Now().Add(11 * time.Second))
	_, err := b.TaskStatus(ctx, "t")
	assert.Same(t, errDown, err)
	assert.Equal(t, BreakerOpen, b.State("task_status"))
	assert.Equal(t, 4, stub.calls)
}

func TestBreaker_RejectionDoesNotTrip(t *testing.T) {
	rejected := schema.NewError(schema.ErrCodeDryRunRejected, "image is required")
	b, _ := newTestBreaker(&stubClient{err: rejected})

	for i := 0; i < 5; i++ {
		err := b.DryRun(context.Background(), testDoc())
		assert.Same(t, rejected, err)
	}
	assert.Equal(t, BreakerClosed, b.State("dry_run"))
}

func TestBreaker_CancellationDoesNotTrip(t *testing.T) {
	b, _ := newTestBreaker(&stubClient{err: context.Canceled})
	for i := 0; i < 5; i++ {
		_, err := b.PublishWorkflow(context.Background(), "app", "wf")
		assert.True(t, errors.Is(err, context.Canceled))
	}
	assert.Equal(t, BreakerClosed, b.State("publish_workflow"))
}

func TestBreaker_CancelledHalfOpenCallLeavesCircuitUnchanged(t *testing.T) {
	stub := &stubClient{err: errDown}
	b, fc := newTestBreaker(stub)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = b.TaskStatus(ctx, "t")
	}
	fc.SetTime(fc.Now().Add(10 * time.Second))

	stub.err = context.Canceled
	_, err := b.TaskStatus(ctx, "t")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, BreakerHalfOpen, b.State("task_status"))

	// The slot is free again, so the next attempt reaches the service.
	stub.err = errDown
	_, err = b.TaskStatus(ctx, "t")
	assert.Same(t, errDown, err)
	assert.Equal(t, BreakerOpen, b.State("task_status"))
	assert.Equal(t, 5, stub.calls)
}

func TestBreaker_CancellationKeepsFailureCount(t *testing.T) {
	stub := &stubClient{err: errDown}
	b, _ := newTestBreaker(stub)
	ctx := context.Background()
	_, _ = b.TaskStatus(ctx, "t")
	_, _ = b.TaskStatus(ctx, "t")

	stub.err = context.Canceled
	_, _ = b.TaskStatus(ctx, "t")

	stub.err = errDown
	_, _ = b.TaskStatus(ctx, "t")
	assert.Equal(t, BreakerOpen, b.State("task_status"))
}

func TestBreaker_OperationsAreIsolated(t *testing.T) {
	stub := &stubClient{err: errDown}
	b, _ := newTestBreaker(stub)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = b.TaskStatus(ctx, "t")
	}

	assert.Equal(t, BreakerOpen, b.State("task_status"))
	assert.Equal(t, BreakerClosed, b.State("dry_run"))
	stub.err = nil
	assert.NoError(t, b.DryRun(ctx, testDoc()))
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "half_open", BreakerHalfOpen.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}
