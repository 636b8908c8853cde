// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Job is a unit of scheduled work.
type Job interface {
	Run(ctx context.Context) error
	Name() string
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	log  *slog.Logger
}

// New creates a scheduler whose jobs run with ctx. Schedules use the
// standard five-field cron syntax plus descriptors such as "@every 30m".
func New(ctx context.Context, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		ctx:  ctx,
		log:  log.With("component", "scheduler"),
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// AddJob registers job on schedule. Overlapping runs of the same job are
// skipped.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
		s.run(job)
	}))
	if _, err := s.cron.AddJob(schedule, wrapped); err != nil {
		return err
	}
	s.log.Info("job registered", "job", job.Name(), "schedule", schedule)
	return nil
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info("running job immediately", "job", job.Name())
	return job.Run(s.ctx)
}

func (s *Scheduler) run(job Job) {
	if s.ctx.Err() != nil {
		return
	}
	s.log.Debug("running job", "job", job.Name())
	if err := job.Run(s.ctx); err != nil {
		s.log.Error("job failed", "job", job.Name(), "error", err)
		return
	}
	s.log.Debug("job completed", "job", job.Name())
}
