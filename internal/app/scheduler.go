/**
 * @description
 * Cron scheduler setup for the reconciliation and outbox housekeeping jobs.
 */
package app

import (
	"context"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron   *cron.Cron
	jobs   *Jobs
	logger logrus.FieldLogger

	reconcileSchedule string
	purgeSchedule     string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(jobs *Jobs, logger logrus.FieldLogger, reconcileSchedule, purgeSchedule string) *Scheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "scheduler")
	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:              c,
		jobs:              jobs,
		logger:            logger,
		reconcileSchedule: reconcileSchedule,
		purgeSchedule:     purgeSchedule,
	}
}

// Start registers the jobs and starts the cron scheduler. It returns the number of jobs
// that were scheduled.
func (s *Scheduler) Start() int {
	scheduled := 0
	register := func(name, spec string, job func()) {
		if spec == "" {
			s.logger.WithField("job", name).Info("job disabled")
			return
		}
		if _, err := s.cron.AddFunc(spec, job); err != nil {
			s.logger.WithError(err).WithField("job", name).Error("failed to schedule job")
			return
		}
		scheduled++
		s.logger.WithFields(logrus.Fields{"job": name, "schedule": spec}).Info("scheduled job")
	}

	register("reconcile_ledger", s.reconcileSchedule, s.jobs.ReconcileLedger)
	register("purge_outbox", s.purgeSchedule, s.jobs.PurgeOutbox)

	s.cron.Start()
	return scheduled
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
