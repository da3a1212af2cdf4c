package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/internal/store"
)

const (
	defaultMaxAttempts = 3
	retryBaseDelay     = 25 * time.Millisecond
)

// txRunner runs storage transactions and retries the whole callback on transient failures.
type txRunner struct {
	repo        store.Repository
	maxAttempts int
	log         logrus.FieldLogger
}

func newTxRunner(repo store.Repository, logger logrus.FieldLogger) txRunner {
	return txRunner{repo: repo, maxAttempts: defaultMaxAttempts, log: logger}
}

// run executes fn in a transaction, up to maxAttempts times. Exhausted transient failures
// and cancellations surface as Unavailable.
func (r txRunner) run(ctx context.Context, operation string, fn func(ctx context.Context, tx store.Tx) error) error {
	attempts := r.maxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = r.repo.RunInTx(ctx, fn)
		if err == nil || !store.IsTransient(err) {
			return storageError(err)
		}
		if attempt == attempts {
			break
		}

		metrics.StoreTransientRetries.Inc()
		r.log.WithError(err).WithFields(logrus.Fields{
			"operation": operation,
			"attempt":   attempt,
		}).Warn("transient storage failure; retrying")

		select {
		case <-ctx.Done():
			return domain.WrapError(domain.KindUnavailable, "storage temporarily unavailable", ctx.Err())
		case <-time.After(time.Duration(attempt) * retryBaseDelay):
		}
	}

	r.log.WithError(err).WithField("operation", operation).Error("storage retries exhausted")
	return domain.WrapError(domain.KindUnavailable, "storage temporarily unavailable", err)
}

// storageError maps a storage failure without a domain kind to Unavailable when it came from
// a timeout, a dropped connection or a cancelled context. Other errors pass through.
func storageError(err error) error {
	if err == nil || domain.KindOf(err) != "" {
		return err
	}
	if store.IsTransient(err) || errors.Is(err, context.Canceled) {
		return domain.WrapError(domain.KindUnavailable, "storage temporarily unavailable", err)
	}
	return err
}
