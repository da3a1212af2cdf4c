/**
 * @description
 * Withdrawal request models and the request state machine.
 *
 * States: pending -> approved -> completed, pending -> rejected. A request can also be
 * created directly in completed through the administrator immediate-withdrawal path.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalStatus is the lifecycle state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalStatusPending   WithdrawalStatus = "pending"
	WithdrawalStatusApproved  WithdrawalStatus = "approved"
	WithdrawalStatusRejected  WithdrawalStatus = "rejected"
	WithdrawalStatusCompleted WithdrawalStatus = "completed"
)

// ParseWithdrawalStatus validates a status string from a query or payload.
func ParseWithdrawalStatus(raw string) (WithdrawalStatus, error) {
	status := WithdrawalStatus(strings.ToLower(strings.TrimSpace(raw)))
	switch status {
	case WithdrawalStatusPending, WithdrawalStatusApproved, WithdrawalStatusRejected, WithdrawalStatusCompleted:
		return status, nil
	}
	return "", NewError(KindInvalidArgument, "unknown withdrawal status")
}

// IsTerminal reports whether no further transition is allowed.
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalStatusRejected || s == WithdrawalStatusCompleted
}

// IsOpen reports whether the request still counts as the holder's outstanding request.
func (s WithdrawalStatus) IsOpen() bool {
	return s == WithdrawalStatusPending || s == WithdrawalStatusApproved
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	switch s {
	case WithdrawalStatusPending:
		return next == WithdrawalStatusApproved || next == WithdrawalStatusRejected
	case WithdrawalStatusApproved:
		return next == WithdrawalStatusCompleted
	default:
		return false
	}
}

// WithdrawalRequest is a holder's ask to move funds out of their wallet.
type WithdrawalRequest struct {
	ID            uuid.UUID        `json:"id"`
	RequesterID   string           `json:"requester_id"`
	Amount        decimal.Decimal  `json:"amount"`
	Status        WithdrawalStatus `json:"status"`
	ReviewerID    *string          `json:"reviewer_id,omitempty"`
	Feedback      *string          `json:"feedback,omitempty"`
	BankProfileID *uuid.UUID       `json:"bank_profile_id,omitempty"`
	RequestedAt   time.Time        `json:"requested_at"`
	ReviewedAt    *time.Time       `json:"reviewed_at,omitempty"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
}

// Transition moves the request to next, failing with InvalidState on an illegal edge.
func (r *WithdrawalRequest) Transition(next WithdrawalStatus) error {
	if !r.Status.CanTransitionTo(next) {
		return NewError(KindInvalidState, "withdrawal request is "+string(r.Status)+" and cannot become "+string(next))
	}
	r.Status = next
	return nil
}

// ReviewDecision is an administrator's verdict on a pending request.
type ReviewDecision string

const (
	ReviewDecisionApprove ReviewDecision = "approve"
	ReviewDecisionReject  ReviewDecision = "reject"
)

// TargetStatus maps a decision onto the status it produces.
func (d ReviewDecision) TargetStatus() (WithdrawalStatus, error) {
	switch ReviewDecision(strings.ToLower(strings.TrimSpace(string(d)))) {
	case ReviewDecisionApprove, "approved":
		return WithdrawalStatusApproved, nil
	case ReviewDecisionReject, "rejected":
		return WithdrawalStatusRejected, nil
	}
	return "", NewError(KindInvalidArgument, "decision must be approve or reject")
}

// CreateWithdrawalInput is the payload of a holder's withdrawal request.
type CreateWithdrawalInput struct {
	Amount        decimal.Decimal `json:"amount"`
	BankProfileID *uuid.UUID      `json:"bank_profile_id,omitempty"`
}

// ReviewWithdrawalInput is the payload of an administrator review.
type ReviewWithdrawalInput struct {
	Decision ReviewDecision `json:"decision"`
	Feedback *string        `json:"feedback,omitempty"`
}

// ImmediateWithdrawalInput is the payload of an administrator immediate withdrawal.
type ImmediateWithdrawalInput struct {
	Amount        decimal.Decimal `json:"amount"`
	BankProfileID uuid.UUID       `json:"bank_profile_id"`
}

// ValidateAmount checks a withdrawal amount.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return NewError(KindInvalidArgument, "amount must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(MaxAmountScale)) {
		return NewError(KindInvalidArgument, "amount has too many decimal places")
	}
	if amount.GreaterThanOrEqual(MaxAmount) {
		return NewError(KindInvalidArgument, "amount exceeds the maximum of "+MaxAmount.String())
	}
	return nil
}

// WithdrawalFilter narrows a request listing.
type WithdrawalFilter struct {
	RequesterID *string
	Status      *WithdrawalStatus
	Page        Page
}

// WithdrawalPage is one page of requests with the total match count.
type WithdrawalPage struct {
	Items []WithdrawalRequest `json:"items"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
	Total int                 `json:"total"`
}

// WithdrawalTotals aggregates a holder's requests.
type WithdrawalTotals struct {
	CompletedAmount decimal.Decimal `json:"completed_amount"`
	CompletedCount  int             `json:"completed_count"`
	OpenAmount      decimal.Decimal `json:"open_amount"`
	OpenCount       int             `json:"open_count"`
}

// AccountSummary is the holder dashboard view.
type AccountSummary struct {
	HolderID           string              `json:"holder_id"`
	Balance            decimal.Decimal     `json:"balance"`
	TotalWithdrawn     decimal.Decimal     `json:"total_withdrawn"`
	CompletedCount     int                 `json:"completed_count"`
	PendingAmount      decimal.Decimal     `json:"pending_amount"`
	PendingCount       int                 `json:"pending_count"`
	RecentRequests     []WithdrawalRequest `json:"recent_requests"`
	PrimaryBankProfile *BankProfile        `json:"primary_bank_profile,omitempty"`
}

// Page is a 1-based pagination window.
type Page struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	MaxPage          = 1_000_000
)

// Normalize applies defaults and clamps the page number and limit.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Offset is the number of rows skipped before this page.
func (p Page) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}
