package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"k8s.io/utils/clock"

	"github.com/rendis/shipyard/internal/store"
	"github.com/rendis/shipyard/pkg/schema"
)

// DefaultInterval is how often the scheduler looks for due jobs.
const DefaultInterval = 60 * time.Second

// Publisher is the part of the backend client the scheduler needs.
type Publisher interface {
	PublishWorkflow(ctx context.Context, appID, workflowID string) (string, error)
}

// Options tune a Scheduler. Zero values fall back to defaults.
type Options struct {
	Interval time.Duration
	Clock    clock.WithTicker
	Logger   *slog.Logger
}

// Scheduler polls the store for due scheduled publishes and runs them.
type Scheduler struct {
	store     store.Store
	publisher Publisher
	parser    cron.Parser
	clock     clock.WithTicker
	interval  time.Duration
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently publishing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, publisher Publisher, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scheduler{
		store:     s,
		publisher: publisher,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		clock:     opts.Clock,
		interval:  opts.Interval,
		logger:    opts.Logger,
		inflight:  make(map[string]struct{}),
	}
}

// CreateJob validates the cron expression and stores a new enabled job whose
// first run is the next matching time.
func (s *Scheduler) CreateJob(ctx context.Context, appID, workflowID, cronExpr string) (*store.ScheduledJob, error) {
	if appID == "" || workflowID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "app id and workflow id are required")
	}
	now := s.clock.Now().UTC()
	next, err := s.CalculateNextRun(cronExpr, now)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	job := &store.ScheduledJob{
		ID:             uuid.New().String(),
		AppID:          appID,
		WorkflowID:     workflowID,
		CronExpression: cronExpr,
		Enabled:        true,
		NextRunAt:      &next,
		CreatedAt:      now,
	}
	if err := s.store.CreateScheduledJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "scheduled job created",
		slog.String("job_id", job.ID),
		slog.String("app_id", appID),
		slog.String("cron", cronExpr),
	)
	return job, nil
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

// tick publishes every enabled job that is due.
func (s *Scheduler) tick(ctx context.Context) {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		s.logger.Error("failed to list scheduled jobs", slog.String("error", err.Error()))
		return
	}

	now := s.clock.Now().UTC()
	for _, job := range jobs {
		if job.NextRunAt == nil || !job.NextRunAt.After(now) {
			if !s.tryAcquire(job.ID) {
				continue
			}
			if err := s.runJob(ctx, job, now); err != nil {
				s.logger.Error("failed to run scheduled job",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
			}
			s.releaseJob(job.ID)
		}
	}
}

// runJob publishes the job's workflow, records the resulting task and moves
// the job to its next run.
func (s *Scheduler) runJob(ctx context.Context, job *store.ScheduledJob, now time.Time) error {
	s.logger.Info("running scheduled job",
		slog.String("job_id", job.ID),
		slog.String("app_id", job.AppID),
		slog.String("workflow_id", job.WorkflowID),
	)

	taskID, err := s.publisher.PublishWorkflow(ctx, job.AppID, job.WorkflowID)
	if err != nil {
		s.logger.Error("scheduled publish failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return s.updateJobStatus(ctx, job, now, "error", "")
	}

	s.recordScheduled(ctx, job, taskID, now)
	return s.updateJobStatus(ctx, job, now, "success", taskID)
}

func (s *Scheduler) recordScheduled(ctx context.Context, job *store.ScheduledJob, taskID string, now time.Time) {
	payload, err := json.Marshal(map[string]string{
		"job_id":      job.ID,
		"app_id":      job.AppID,
		"workflow_id": job.WorkflowID,
	})
	if err != nil {
		return
	}
	err = s.store.AppendEvent(ctx, &store.Event{
		TaskID:    taskID,
		Type:      schema.EventTaskScheduled,
		Payload:   payload,
		Timestamp: now,
	})
	if err != nil {
		s.logger.Warn("failed to record scheduled task",
			slog.String("job_id", job.ID),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) updateJobStatus(ctx context.Context, job *store.ScheduledJob, now time.Time, status, taskID string) error {
	nextRun, err := s.CalculateNextRun(job.CronExpression, now)
	if err != nil {
		return fmt.Errorf("calculate next run for job %q: %w", job.ID, err)
	}

	return s.store.UpdateScheduledJob(ctx, job.ID, store.ScheduledJobUpdate{
		LastRunAt:     &now,
		NextRunAt:     &nextRun,
		LastRunStatus: status,
		LastTaskID:    taskID,
	})
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

// releaseJob removes the job from the in-flight set.
func (s *Scheduler) releaseJob(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RecoverMissed publishes once every job whose next run passed while the
// process was down.
func (s *Scheduler) RecoverMissed(ctx context.Context) error {
	enabled := true
	jobs, err := s.store.ListScheduledJobs(ctx, store.ScheduledJobFilter{Enabled: &enabled})
	if err != nil {
		return fmt.Errorf("list missed jobs: %w", err)
	}

	now := s.clock.Now().UTC()
	recovered := 0
	for _, job := range jobs {
		if job.NextRunAt != nil && job.NextRunAt.Before(now) {
			if !s.tryAcquire(job.ID) {
				continue
			}
			if err := s.runJob(ctx, job, now); err != nil {
				s.logger.Error("failed to recover missed job",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				s.releaseJob(job.ID)
				continue
			}
			s.releaseJob(job.ID)
			recovered++
		}
	}

	if recovered > 0 {
		s.logger.Info("recovered missed jobs", slog.Int("count", recovered))
	}
	return nil
}
