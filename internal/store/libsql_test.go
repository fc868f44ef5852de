package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/shipyard/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	s, err := NewLibSQLStore("file:" + dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	})
	return s
}

// --- Revision Tests ---

func TestSaveAndGetRevision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rev := &Revision{
		ID:        uuid.New().String(),
		AppID:     "app-1",
		Name:      "shop",
		Version:   "1.0.0",
		SessionID: "sess-1",
		Document:  json.RawMessage(`{"name":"shop","component":[]}`),
	}
	require.NoError(t, s.SaveRevision(ctx, rev))
	assert.False(t, rev.CreatedAt.IsZero())

	got, err := s.GetRevision(ctx, rev.ID)
	require.NoError(t, err)
	assert.Equal(t, "app-1", got.AppID)
	assert.Equal(t, "shop", got.Name)
	assert.Equal(t, "1.0.0", got.Version)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.JSONEq(t, `{"name":"shop","component":[]}`, string(got.Document))
}

func TestSaveRevision_EmptyDocument(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveRevision(context.Background(), &Revision{ID: "r", Name: "shop"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestGetRevision_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRevision(context.Background(), "nonexistent")
	require.Error(t, err)
	se, ok := err.(*schema.ShipyardError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeNotFound, se.Code)
}

func TestListRevisions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, name := range []string{"shop", "shop", "blog"} {
		require.NoError(t, s.SaveRevision(ctx, &Revision{
			ID:        uuid.New().String(),
			Name:      name,
			Version:   string(rune('1' + i)),
			Document:  json.RawMessage(`{}`),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	all, err := s.ListRevisions(ctx, RevisionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	shop, err := s.ListRevisions(ctx, RevisionFilter{Name: "shop"})
	require.NoError(t, err)
	require.Len(t, shop, 2)
	assert.Equal(t, "2", shop[0].Version, "newest first")

	limited, err := s.ListRevisions(ctx, RevisionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Event Tests ---

func TestAppendAndGetEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	taskID := uuid.New().String()

	for _, et := range []string{schema.EventPreviewEntered, schema.EventStatusUpdated, schema.EventTaskSucceeded} {
		require.NoError(t, s.AppendEvent(ctx, &Event{TaskID: taskID, SessionID: "sess", Type: et}))
	}

	events, err := s.GetEvents(ctx, taskID, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, schema.EventPreviewEntered, events[0].Type)
	assert.Equal(t, int64(3), events[2].Sequence)
	assert.Equal(t, "sess", events[0].SessionID)

	since, err := s.GetEvents(ctx, taskID, 2)
	require.NoError(t, err)
	require.Len(t, since, 1)
	assert.Equal(t, schema.EventTaskSucceeded, since[0].Type)
}

func TestAppendEvent_RequiresTaskID(t *testing.T) {
	s := newTestStore(t)
	err := s.AppendEvent(context.Background(), &Event{Type: schema.EventPreviewEntered})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}

func TestGetEventsByType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, &Event{TaskID: "t1", SessionID: "a", Type: schema.EventTaskFailed}))
	require.NoError(t, s.AppendEvent(ctx, &Event{TaskID: "t2", SessionID: "b", Type: schema.EventTaskFailed}))
	require.NoError(t, s.AppendEvent(ctx, &Event{TaskID: "t2", SessionID: "b", Type: schema.EventPreviewExited}))

	failed, err := s.GetEventsByType(ctx, schema.EventTaskFailed, EventFilter{})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	bySession, err := s.GetEventsByType(ctx, schema.EventTaskFailed, EventFilter{SessionID: "b"})
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	assert.Equal(t, "t2", bySession[0].TaskID)

	byTask, err := s.GetEventsByType(ctx, schema.EventPreviewExited, EventFilter{TaskID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, byTask)
}

// --- Scheduled Job Tests ---

func TestScheduledJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	next := time.Now().UTC().Add(time.Minute).Truncate(time.Second)
	job := &ScheduledJob{
		ID:             uuid.New().String(),
		AppID:          "app-1",
		WorkflowID:     "wf-1",
		CronExpression: "*/5 * * * *",
		Enabled:        true,
		NextRunAt:      &next,
	}
	require.NoError(t, s.CreateScheduledJob(ctx, job))

	got, err := s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.True(t, got.Enabled)
	require.NotNil(t, got.NextRunAt)
	assert.True(t, next.Equal(*got.NextRunAt))
	assert.Nil(t, got.LastRunAt)

	now := time.Now().UTC()
	require.NoError(t, s.UpdateScheduledJob(ctx, job.ID, ScheduledJobUpdate{
		LastRunAt:     &now,
		LastRunStatus: "published",
		LastTaskID:    "task-9",
	}))
	got, err = s.GetScheduledJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "published", got.LastRunStatus)
	assert.Equal(t, "task-9", got.LastTaskID)
	assert.NotNil(t, got.LastRunAt)

	disabled := false
	require.NoError(t, s.UpdateScheduledJob(ctx, job.ID, ScheduledJobUpdate{Enabled: &disabled}))
	enabled := true
	list, err := s.ListScheduledJobs(ctx, ScheduledJobFilter{Enabled: &enabled})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = s.ListScheduledJobs(ctx, ScheduledJobFilter{AppID: "app-1"})
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteScheduledJob(ctx, job.ID))
	_, err = s.GetScheduledJob(ctx, job.ID)
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestUpdateScheduledJob_NotFound(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	err := s.UpdateScheduledJob(context.Background(), "missing", ScheduledJobUpdate{LastRunAt: &now})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestDeleteScheduledJob_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.DeleteScheduledJob(context.Background(), "missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

// --- Maintenance ---

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

func TestVacuum(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Vacuum(context.Background()))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- only a comment;\nCREATE INDEX i ON a(x);")
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Equal(t, "CREATE INDEX i ON a(x)", stmts[1])
}
