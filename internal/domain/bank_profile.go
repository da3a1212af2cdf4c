package domain

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BankProfile is a saved payout destination for a holder.
type BankProfile struct {
	ID                uuid.UUID  `json:"id"`
	HolderID          string     `json:"holder_id"`
	AccountHolderName string     `json:"account_holder_name"`
	AccountNumber     string     `json:"-"`
	RoutingCode       string     `json:"routing_code"`
	BankName          string     `json:"bank_name"`
	BranchName        string     `json:"branch_name"`
	IsPrimary         bool       `json:"is_primary"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	DeletedAt         *time.Time `json:"-"`
}

// MaskedAccountNumber keeps the last four digits of the account number.
func (p BankProfile) MaskedAccountNumber() string {
	n := len(p.AccountNumber)
	if n <= 4 {
		return p.AccountNumber
	}
	return strings.Repeat("*", n-4) + p.AccountNumber[n-4:]
}

// MarshalJSON renders the masked account number only.
func (p BankProfile) MarshalJSON() ([]byte, error) {
	type alias BankProfile
	return json.Marshal(struct {
		alias
		AccountNumberMasked string `json:"account_number_masked"`
	}{
		alias:               alias(p),
		AccountNumberMasked: p.MaskedAccountNumber(),
	})
}

// BankProfileInput is the writable part of a bank profile.
type BankProfileInput struct {
	AccountHolderName string `json:"account_holder_name" validate:"required,max=128"`
	AccountNumber     string `json:"account_number" validate:"required,numeric,min=6,max=34"`
	RoutingCode       string `json:"routing_code" validate:"required,alphanum,min=4,max=15"`
	BankName          string `json:"bank_name" validate:"required,max=128"`
	BranchName        string `json:"branch_name" validate:"omitempty,max=128"`
	IsPrimary         bool   `json:"is_primary"`
}

// Normalize trims whitespace and upper-cases the routing code.
func (in BankProfileInput) Normalize() BankProfileInput {
	in.AccountHolderName = strings.TrimSpace(in.AccountHolderName)
	in.AccountNumber = strings.ReplaceAll(strings.TrimSpace(in.AccountNumber), " ", "")
	in.RoutingCode = strings.ToUpper(strings.TrimSpace(in.RoutingCode))
	in.BankName = strings.TrimSpace(in.BankName)
	in.BranchName = strings.TrimSpace(in.BranchName)
	return in
}

// Apply copies the input onto p.
func (in BankProfileInput) Apply(p *BankProfile) {
	p.AccountHolderName = in.AccountHolderName
	p.AccountNumber = in.AccountNumber
	p.RoutingCode = in.RoutingCode
	p.BankName = in.BankName
	p.BranchName = in.BranchName
}
