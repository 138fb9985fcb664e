// Package cron schedules the background jobs: the inactivity scan and the
// weekly usage report. Thin wrapper over robfig/cron keeping job wiring in
// one place.
package cron

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// Job is one scheduled task.
type Job func(ctx context.Context) error

// Scheduler runs registered jobs on cron expressions.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
}

// NewScheduler creates a scheduler whose jobs inherit ctx: cancelling it
// makes running jobs return early.
func NewScheduler(ctx context.Context) *Scheduler {
	return &Scheduler{cron: cron.New(), ctx: ctx}
}

// Add registers job under a cron spec ("@every 10m", "0 9 * * 1", ...).
func (s *Scheduler) Add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		if err := job(s.ctx); err != nil {
			slog.Error("scheduled job failed", "job", name, "error", err)
		}
	})
	return errors.Wrapf(err, "failed to schedule job %s", name)
}

// Start launches the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
