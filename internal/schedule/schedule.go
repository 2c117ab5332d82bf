// Package schedule drives periodic jobs from a cron expression.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "ttcal/internal/log"
)

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// Scheduler runs a Job once at start and then on a cron schedule.
type Scheduler struct {
	spec   string
	loc    *time.Location
	job    Job
	logger *appLog.Logger
}

// New parses spec (standard 5-field syntax or a "@every"/"@daily"
// descriptor) and returns a Scheduler that fires in loc.
func New(spec string, loc *time.Location, job Job, logger *appLog.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("schedule: job is nil")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("schedule: invalid spec %q: %w", spec, err)
	}
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = appLog.Default()
	}
	return &Scheduler{spec: spec, loc: loc, job: job, logger: logger}, nil
}

// Run executes the job immediately, then on every tick until ctx is
// cancelled. It waits for a running job to finish before returning.
// Overlapping ticks are skipped.
func (s *Scheduler) Run(ctx context.Context) error {
	cl := cronLogger{s.logger}
	c := cron.New(
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	run := func(trigger string) {
		started := time.Now()
		if err := s.job(ctx); err != nil {
			s.logger.Error("scheduled job failed", err, "trigger", trigger, "took", time.Since(started).String())
			return
		}
		s.logger.Debug("scheduled job finished", "trigger", trigger, "took", time.Since(started).String())
	}

	id, err := c.AddFunc(s.spec, func() { run("cron") })
	if err != nil {
		return fmt.Errorf("schedule: %w", err)
	}

	run("startup")
	if ctx.Err() != nil {
		return nil
	}

	c.Start()
	s.logger.Info("scheduler started", "spec", s.spec, "timezone", s.loc.String(), "next", c.Entry(id).Next.Format(time.RFC3339))

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct {
	l *appLog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, err, keysAndValues...)
}
