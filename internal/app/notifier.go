package app

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

//go:generate mockgen -source=notifier.go -destination=mock/notifier.go -package=mock

// Notifier delivers workflow notifications. Delivery is best effort: a failure is retried
// by the outbox and never affects the transition that produced it.
type Notifier interface {
	NotifyAdminsOfNewRequest(ctx context.Context, event domain.WithdrawalEvent) error
	NotifyRequesterOfDecision(ctx context.Context, event domain.WithdrawalEvent) error
}

// BrokerNotifier publishes notifications to a topic exchange for the notification
// service to fan out.
type BrokerNotifier struct {
	publisher rabbitmq.Publisher
	exchange  string
	adminIDs  []string
	log       logrus.FieldLogger
}

func NewBrokerNotifier(publisher rabbitmq.Publisher, exchange string, adminIDs []string, logger logrus.FieldLogger) *BrokerNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BrokerNotifier{
		publisher: publisher,
		exchange:  exchange,
		adminIDs:  append([]string(nil), adminIDs...),
		log:       logger.WithField("component", "notifier"),
	}
}

func (n *BrokerNotifier) NotifyAdminsOfNewRequest(ctx context.Context, event domain.WithdrawalEvent) error {
	if len(n.adminIDs) == 0 {
		n.log.WithField("request_id", event.Request.ID).Warn("no administrator recipients configured; publishing without recipients")
	}
	return n.publish(ctx, event, n.adminIDs)
}

func (n *BrokerNotifier) NotifyRequesterOfDecision(ctx context.Context, event domain.WithdrawalEvent) error {
	return n.publish(ctx, event, []string{event.Request.RequesterID})
}

func (n *BrokerNotifier) publish(ctx context.Context, event domain.WithdrawalEvent, recipients []string) error {
	req := event.Request
	notification := domain.Notification{
		EventID:      event.EventID,
		Type:         event.Type,
		RecipientIDs: recipients,
		RequestID:    req.ID,
		RequesterID:  req.RequesterID,
		Amount:       req.Amount,
		Status:       req.Status,
		ReviewerID:   req.ReviewerID,
		Feedback:     req.Feedback,
		OccurredAt:   event.OccurredAt,
	}
	if notification.RecipientIDs == nil {
		notification.RecipientIDs = []string{}
	}
	return n.publisher.Publish(ctx, n.exchange, event.Type, notification)
}
