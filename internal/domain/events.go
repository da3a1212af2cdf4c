package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outbox event types. They double as broker routing keys.
const (
	EventWithdrawalRequested   = "withdrawal.requested"
	EventWithdrawalReviewed    = "withdrawal.reviewed"
	EventWalletCreditRequested = "wallet.credit.requested"
)

// WithdrawalEvent is the outbox payload written alongside a workflow transition.
type WithdrawalEvent struct {
	EventID    uuid.UUID         `json:"event_id"`
	Type       string            `json:"type"`
	Request    WithdrawalRequest `json:"request"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notification is the message handed to the notification pipeline.
type Notification struct {
	EventID      uuid.UUID        `json:"event_id"`
	Type         string           `json:"type"`
	RecipientIDs []string         `json:"recipient_ids"`
	RequestID    uuid.UUID        `json:"request_id"`
	RequesterID  string           `json:"requester_id"`
	Amount       decimal.Decimal  `json:"amount"`
	Status       WithdrawalStatus `json:"status"`
	ReviewerID   *string          `json:"reviewer_id,omitempty"`
	Feedback     *string          `json:"feedback,omitempty"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// WalletCreditEvent is published by the funding side when money accrues to a holder.
type WalletCreditEvent struct {
	HolderID    string          `json:"holder_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ReferenceID string          `json:"reference_id"`
}
