package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/internal/store"
)

const (
	defaultBatchSize       = 50
	defaultPollInterval    = 1200 * time.Millisecond
	defaultStaleProcessing = 2 * time.Minute
	maxRetryDelaySeconds   = 300
)

// OutboxDispatcher delivers committed outbox rows to the Notifier.
type OutboxDispatcher struct {
	repo                store.OutboxRepository
	notifier            Notifier
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
	log                 logrus.FieldLogger
}

func NewOutboxDispatcher(repo store.OutboxRepository, notifier Notifier, logger logrus.FieldLogger) *OutboxDispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OutboxDispatcher{
		repo:                repo,
		notifier:            notifier,
		batchSize:           defaultBatchSize,
		pollInterval:        defaultPollInterval,
		staleProcessingTime: defaultStaleProcessing,
		log:                 logger.WithField("component", "outbox_dispatcher"),
	}
}

// Configure overrides the batch size and poll interval. Non-positive values keep the defaults.
func (d *OutboxDispatcher) Configure(batchSize int, pollInterval time.Duration) {
	if batchSize > 0 {
		d.batchSize = batchSize
	}
	if pollInterval > 0 {
		d.pollInterval = pollInterval
	}
}

// Run polls until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.flushOnce(ctx); err != nil && ctx.Err() == nil {
				d.log.WithError(err).Warn("outbox flush failed")
			}
		}
	}
}

// flushOnce claims one batch and delivers it. It returns the number of rows delivered.
func (d *OutboxDispatcher) flushOnce(ctx context.Context) (int, error) {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, message := range messages {
		outcome := "published"
		if err := d.deliver(ctx, message); err != nil {
			if errorIsPermanent(err) {
				outcome = "dropped"
				d.log.WithError(err).WithFields(logrus.Fields{
					"outbox_id":  message.ID,
					"event_type": message.EventType,
				}).Error("dropping undeliverable outbox message")
			} else {
				retryAfter := retryDelaySeconds(message.Attempts)
				d.log.WithError(err).WithFields(logrus.Fields{
					"outbox_id":   message.ID,
					"event_type":  message.EventType,
					"attempts":    message.Attempts,
					"retry_after": retryAfter,
				}).Warn("notification delivery failed; will retry")
				if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
					d.log.WithError(markErr).WithField("outbox_id", message.ID).Error("failed to mark outbox message as failed")
				}
				metrics.OutboxDispatch.WithLabelValues("failed").Inc()
				continue
			}
		}

		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			d.log.WithError(err).WithField("outbox_id", message.ID).Error("failed to mark outbox message as published")
			continue
		}
		metrics.OutboxDispatch.WithLabelValues(outcome).Inc()
		if outcome == "published" {
			delivered++
		}
	}
	return delivered, nil
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func errorIsPermanent(err error) bool {
	_, ok := err.(permanentError)
	return ok
}

func (d *OutboxDispatcher) deliver(ctx context.Context, message store.OutboxMessage) error {
	var event domain.WithdrawalEvent
	if err := json.Unmarshal(message.Payload, &event); err != nil {
		return permanentError{fmt.Errorf("decode outbox payload: %w", err)}
	}

	switch message.EventType {
	case domain.EventWithdrawalRequested:
		return d.notifier.NotifyAdminsOfNewRequest(ctx, event)
	case domain.EventWithdrawalReviewed:
		return d.notifier.NotifyRequesterOfDecision(ctx, event)
	default:
		return permanentError{fmt.Errorf("unknown outbox event type %q", message.EventType)}
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << minInt(attempt, 8)
	if delay > maxRetryDelaySeconds {
		return maxRetryDelaySeconds
	}
	return delay
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
