/**
 * @description
 * Scheduled job implementations: ledger reconciliation and outbox housekeeping.
 */
package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/internal/store"
)

const (
	reconcileMismatchLimit = 100
	jobTimeout             = 2 * time.Minute
)

// JobsRepository is the storage surface the jobs need.
type JobsRepository interface {
	FindLedgerMismatches(ctx context.Context, limit int) ([]domain.LedgerMismatch, error)
	PurgePublishedOutbox(ctx context.Context, olderThan time.Time) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo            JobsRepository
	outboxRetention time.Duration
	logger          logrus.FieldLogger
	now             func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo JobsRepository, outboxRetention time.Duration, logger logrus.FieldLogger) *Jobs {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Jobs{
		repo:            repo,
		outboxRetention: outboxRetention,
		logger:          logger.WithField("component", "jobs"),
		now:             time.Now,
	}
}

// ReconcileLedger compares every wallet's balance with the sum of its ledger lines.
func (j *Jobs) ReconcileLedger() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	mismatches, err := j.repo.FindLedgerMismatches(ctx, reconcileMismatchLimit)
	if err != nil {
		j.logger.WithError(err).Error("ledger reconciliation failed")
		return
	}

	metrics.LedgerMismatches.Set(float64(len(mismatches)))
	for _, m := range mismatches {
		j.logger.WithFields(logrus.Fields{
			"holder_id":      m.HolderID,
			"balance":        m.Balance.String(),
			"ledger_balance": m.LedgerBalance.String(),
		}).Error("wallet balance does not match ledger")
	}
	j.logger.WithField("mismatches", len(mismatches)).Info("ledger reconciliation finished")
}

// PurgeOutbox deletes published outbox rows past the retention window.
func (j *Jobs) PurgeOutbox() {
	if j.outboxRetention <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	purged, err := j.repo.PurgePublishedOutbox(ctx, j.now().Add(-j.outboxRetention))
	if err != nil {
		j.logger.WithError(err).Error("outbox purge failed")
		return
	}
	j.logger.WithField("purged", purged).Info("outbox purge finished")
}

var _ JobsRepository = store.Repository(nil)
