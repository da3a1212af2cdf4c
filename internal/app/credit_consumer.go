package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

const creditHandlerTimeout = 15 * time.Second

// CreditConsumer applies wallet.credit.requested events published by the funding side.
type CreditConsumer struct {
	wallets *WalletService
	log     logrus.FieldLogger
}

func NewCreditConsumer(wallets *WalletService, logger logrus.FieldLogger) *CreditConsumer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CreditConsumer{wallets: wallets, log: logger.WithField("component", "credit_consumer")}
}

// HandleMessage returns false only when the message should be redelivered.
func (c *CreditConsumer) HandleMessage(body []byte) bool {
	var event domain.WalletCreditEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.log.WithError(err).Warn("failed to unmarshal credit event; dropping")
		return true
	}

	event.HolderID = strings.TrimSpace(event.HolderID)
	event.ReferenceID = strings.TrimSpace(event.ReferenceID)
	if event.HolderID == "" {
		c.log.Warn("credit event without holder id; dropping")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), creditHandlerTimeout)
	defer cancel()

	fields := logrus.Fields{
		"holder_id":    event.HolderID,
		"reference_id": event.ReferenceID,
		"amount":       event.Amount.String(),
	}
	_, txn, err := c.wallets.Credit(ctx, event.HolderID, event.Amount, event.Description, &event.ReferenceID)
	switch {
	case err == nil:
		c.log.WithFields(fields).WithField("transaction_id", txn.ID).Info("credit event applied")
		return true
	case errors.Is(err, store.ErrDuplicateLedgerReference):
		c.log.WithFields(fields).Info("credit event already applied; acknowledging")
		return true
	case errors.Is(err, domain.ErrInvalidArgument):
		c.log.WithError(err).WithFields(fields).Warn("invalid credit event; dropping")
		return true
	default:
		c.log.WithError(err).WithFields(fields).Error("credit event failed; re-queuing")
		return false
	}
}
