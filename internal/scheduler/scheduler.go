// Package scheduler runs flows on recurring cron schedules. Jobs live in
// an in-memory table; durable scheduling belongs to whatever embeds the
// engine.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rmead777/agentflow/pkg/schema"
)

// FlowRunner is the interface the scheduler uses to run flows.
// Satisfied by the engine (keeps this package engine-agnostic).
type FlowRunner interface {
	RunFlow(ctx context.Context, graph *schema.FlowGraph, settings schema.RunSettings) error
}

// FlowRunnerFunc adapts a function to the FlowRunner interface.
type FlowRunnerFunc func(ctx context.Context, graph *schema.FlowGraph, settings schema.RunSettings) error

func (f FlowRunnerFunc) RunFlow(ctx context.Context, graph *schema.FlowGraph, settings schema.RunSettings) error {
	return f(ctx, graph, settings)
}

// Job is one scheduled recurring flow run.
type Job struct {
	ID             string
	Name           string
	CronExpression string
	Graph          *schema.FlowGraph
	Settings       schema.RunSettings
	Enabled        bool
	LastRunAt      *time.Time
	NextRunAt      *time.Time
	LastRunStatus  string
}

// Scheduler ticks on an interval and runs every enabled job that is due.
type Scheduler struct {
	runner   FlowRunner
	parser   cron.Parser
	logger   *slog.Logger
	interval time.Duration

	mu     sync.Mutex
	jobs   map[string]*Job
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// New creates a Scheduler with a standard 5-field cron parser and a 60s
// tick interval.
func New(runner FlowRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		interval: 60 * time.Second,
		jobs:     make(map[string]*Job),
		inflight: make(map[string]struct{}),
	}
}

// AddJob registers a flow to run on the given cron expression and returns
// the job ID. The first due time is computed immediately.
func (s *Scheduler) AddJob(name, cronExpr string, graph *schema.FlowGraph, settings schema.RunSettings) (string, error) {
	next, err := s.CalculateNextRun(cronExpr, time.Now().UTC())
	if err != nil {
		return "", err
	}

	job := &Job{
		ID:             uuid.NewString(),
		Name:           name,
		CronExpression: cronExpr,
		Graph:          graph,
		Settings:       settings,
		Enabled:        true,
		NextRunAt:      &next,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	return job.ID, nil
}

// RemoveJob drops a job from the table.
func (s *Scheduler) RemoveJob(id string) {
	s.mu.Lock()
	delete(s.jobs, id)
	s.mu.Unlock()
}

// SetEnabled toggles a job without removing it.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "no scheduled job %q", id)
	}
	job.Enabled = enabled
	return nil
}

// Jobs returns a snapshot of all jobs, ordered by name.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
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
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs every enabled job that is due. A job still running from an
// earlier tick is skipped, not queued.
func (s *Scheduler) Tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	due := make([]*Job, 0)
	for _, job := range s.jobs {
		if !job.Enabled {
			continue
		}
		if job.NextRunAt == nil || !job.NextRunAt.After(now) {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		if !s.tryAcquire(job.ID) {
			continue // already running (dedup)
		}
		go func(job *Job) {
			defer s.release(job.ID)
			s.runJob(ctx, job, now)
		}(job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job *Job, now time.Time) {
	s.logger.Info("running scheduled flow",
		slog.String("job_id", job.ID),
		slog.String("name", job.Name),
	)

	err := s.runner.RunFlow(ctx, job.Graph, job.Settings)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.Error("scheduled flow failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}

	next, nextErr := s.CalculateNextRun(job.CronExpression, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.jobs[job.ID]; ok {
		ranAt := now
		current.LastRunAt = &ranAt
		current.LastRunStatus = status
		if nextErr == nil {
			current.NextRunAt = &next
		}
	}
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

// release removes the job from the in-flight set.
func (s *Scheduler) release(jobID string) {
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
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}

	// Wait outside the lock: a final tick may still need it.
	cancel()
	<-done

	s.logger.Info("scheduler stopped")
	return nil
}
