// Package reconcile retries identity-account deletions that a hard delete
// could not finish.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	defaultBatch   = 100
	defaultTimeout = 2 * time.Minute
)

// Resumer completes pending directory deletions and reports how many finished.
type Resumer interface {
	ResumePendingDeletions(ctx context.Context, limit int) (int, error)
}

// Job is one sweep over the pending deletion journal.
type Job struct {
	resumer Resumer
	logger  logrus.FieldLogger
	batch   int
	timeout time.Duration
}

func NewJob(resumer Resumer, logger logrus.FieldLogger) *Job {
	return &Job{
		resumer: resumer,
		logger:  logger.WithField("component", "reconcile"),
		batch:   defaultBatch,
		timeout: defaultTimeout,
	}
}

// Run sweeps once and returns how many deletions completed.
func (j *Job) Run(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	start := time.Now()
	done, err := j.resumer.ResumePendingDeletions(ctx, j.batch)
	if err != nil {
		j.logger.WithError(err).Error("pending deletion sweep failed")
		return done, err
	}
	if done > 0 {
		j.logger.WithFields(logrus.Fields{
			"completed":   done,
			"duration_ms": time.Since(start).Milliseconds(),
		}).Info("pending deletions completed")
	}
	return done, nil
}

// Scheduler runs a Job on a cron schedule. Overlapping runs are skipped.
type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler(job *Job, schedule string, logger logrus.FieldLogger) (*Scheduler, error) {
	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger),
		cron.SkipIfStillRunning(cronLogger),
	))
	if _, err := c.AddFunc(schedule, func() {
		_, _ = job.Run(context.Background())
	}); err != nil {
		return nil, fmt.Errorf("schedule reconcile %q: %w", schedule, err)
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
