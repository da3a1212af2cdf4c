/**
 * @description
 * Domain models for wallets and their append-only ledger. These types are shared by
 * the store, the application services and the HTTP layer.
 *
 * @dependencies
 * - github.com/google/uuid: ledger line identifiers.
 * - github.com/shopspring/decimal: exact money amounts.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction is the side of a ledger line.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// Wallet is the running balance of one holder. Balance is never negative.
type Wallet struct {
	HolderID  string          `json:"holder_id"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// WalletTransaction is an immutable ledger line. WalletID is the owning holder id.
type WalletTransaction struct {
	ID          uuid.UUID       `json:"id"`
	WalletID    string          `json:"wallet_id"`
	Direction   Direction       `json:"direction"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	ReferenceID *string         `json:"reference_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// LedgerEntry is the input to a single balance mutation.
type LedgerEntry struct {
	HolderID    string
	Direction   Direction
	Amount      decimal.Decimal
	Description string
	ReferenceID *string
}

// Validate checks the entry before it reaches the store.
func (e LedgerEntry) Validate() error {
	if strings.TrimSpace(e.HolderID) == "" {
		return NewError(KindInvalidArgument, "holder id is required")
	}
	if !e.Direction.Valid() {
		return NewError(KindInvalidArgument, "direction must be credit or debit")
	}
	return ValidateAmount(e.Amount)
}

// Apply returns the balance after the entry. ok is false for a debit that would take the
// balance below zero.
func (e LedgerEntry) Apply(balance decimal.Decimal) (next decimal.Decimal, ok bool) {
	if e.Direction == DirectionCredit {
		return balance.Add(e.Amount), true
	}
	next = balance.Sub(e.Amount)
	if next.IsNegative() {
		return balance, false
	}
	return next, true
}

// MaxAmountScale is the number of fractional digits stored for amounts.
const MaxAmountScale = 2

var (
	// MaxAmount bounds a single ledger line or withdrawal (exclusive).
	MaxAmount = decimal.New(1, 15)
	// MaxBalance bounds a wallet balance (exclusive); NUMERIC(20,2) holds less than 10^18.
	MaxBalance = decimal.New(1, 18)
)

// LedgerMismatch is a wallet whose balance disagrees with its ledger lines.
type LedgerMismatch struct {
	HolderID      string          `json:"holder_id"`
	Balance       decimal.Decimal `json:"balance"`
	LedgerBalance decimal.Decimal `json:"ledger_balance"`
}

// OptionalString returns nil for blank input.
func OptionalString(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

// TransactionPage is one page of ledger lines with the total count.
type TransactionPage struct {
	Items []WalletTransaction `json:"items"`
	Page  int                 `json:"page"`
	Limit int                 `json:"limit"`
	Total int                 `json:"total"`
}
