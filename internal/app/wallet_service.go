/**
 * @description
 * WalletService owns every balance mutation. Credits and debits go through
 * `Tx.ApplyTransaction`, which locks the wallet row, so the balance always equals the sum
 * of the ledger lines and never drops below zero.
 *
 * @dependencies
 * - github.com/shopspring/decimal: amounts.
 * - internal/domain, internal/store: models and data access.
 * - internal/metrics: ledger counters.
 */

package app

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/internal/store"
)

// WalletService provides balance reads and ledger writes.
type WalletService struct {
	repo store.Repository
	tx   txRunner
	log  logrus.FieldLogger
}

// NewWalletService creates a new wallet service instance.
func NewWalletService(repo store.Repository, logger logrus.FieldLogger) *WalletService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "wallet_service")
	return &WalletService{repo: repo, tx: newTxRunner(repo, logger), log: logger}
}

// SetMaxAttempts bounds how many times a transaction is tried on transient failures.
func (s *WalletService) SetMaxAttempts(n int) {
	s.tx.maxAttempts = n
}

// GetOrCreateWallet returns the holder's wallet, creating an empty one on first use.
func (s *WalletService) GetOrCreateWallet(ctx context.Context, holderID string) (*domain.Wallet, error) {
	holderID = strings.TrimSpace(holderID)
	if holderID == "" {
		return nil, domain.NewError(domain.KindInvalidArgument, "holder id is required")
	}

	var wallet *domain.Wallet
	err := s.tx.run(ctx, "get_or_create_wallet", func(ctx context.Context, tx store.Tx) error {
		var err error
		wallet, err = tx.GetOrCreateWallet(ctx, holderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// GetBalance returns the holder's balance. A holder without a wallet has a zero balance.
func (s *WalletService) GetBalance(ctx context.Context, holderID string) (decimal.Decimal, error) {
	wallet, err := s.repo.FindWallet(ctx, holderID)
	if err != nil {
		if errors.Is(err, store.ErrWalletNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, storageError(err)
	}
	return wallet.Balance, nil
}

// Credit adds amount to the holder's wallet. A non-empty referenceID may only be credited once.
func (s *WalletService) Credit(ctx context.Context, holderID string, amount decimal.Decimal, description string, referenceID *string) (*domain.Wallet, *domain.WalletTransaction, error) {
	return s.apply(ctx, "credit", domain.LedgerEntry{
		HolderID:    strings.TrimSpace(holderID),
		Direction:   domain.DirectionCredit,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		ReferenceID: normalizeReference(referenceID),
	})
}

// Debit removes amount from the holder's wallet, failing with InsufficientFunds when the
// balance does not cover it.
func (s *WalletService) Debit(ctx context.Context, holderID string, amount decimal.Decimal, description string, referenceID *string) (*domain.Wallet, *domain.WalletTransaction, error) {
	return s.apply(ctx, "debit", domain.LedgerEntry{
		HolderID:    strings.TrimSpace(holderID),
		Direction:   domain.DirectionDebit,
		Amount:      amount,
		Description: strings.TrimSpace(description),
		ReferenceID: normalizeReference(referenceID),
	})
}

func (s *WalletService) apply(ctx context.Context, operation string, entry domain.LedgerEntry) (*domain.Wallet, *domain.WalletTransaction, error) {
	var (
		wallet *domain.Wallet
		txn    *domain.WalletTransaction
	)
	err := s.tx.run(ctx, operation, func(ctx context.Context, tx store.Tx) error {
		var err error
		wallet, txn, err = s.applyInTx(ctx, tx, entry)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.observe(txn)
	s.log.WithFields(logrus.Fields{
		"holder_id": entry.HolderID,
		"direction": entry.Direction,
		"amount":    entry.Amount.String(),
		"balance":   wallet.Balance.String(),
	}).Info("ledger entry applied")
	return wallet, txn, nil
}

// applyInTx validates and applies entry inside a caller-owned transaction. The caller calls
// observe after the transaction commits.
func (s *WalletService) applyInTx(ctx context.Context, tx store.Tx, entry domain.LedgerEntry) (*domain.Wallet, *domain.WalletTransaction, error) {
	if err := entry.Validate(); err != nil {
		return nil, nil, err
	}
	return tx.ApplyTransaction(ctx, entry)
}

func (s *WalletService) observe(txn *domain.WalletTransaction) {
	if txn == nil {
		return
	}
	metrics.ObserveLedgerLine(string(txn.Direction), txn.Amount)
}

// ViewWallet returns holderID's wallet to its owner or an administrator.
func (s *WalletService) ViewWallet(ctx context.Context, p domain.Principal, holderID string) (*domain.Wallet, error) {
	if err := authorizeHolder(p, holderID); err != nil {
		return nil, err
	}
	return s.GetOrCreateWallet(ctx, holderID)
}

// ViewBalance returns holderID's balance to its owner or an administrator.
func (s *WalletService) ViewBalance(ctx context.Context, p domain.Principal, holderID string) (decimal.Decimal, error) {
	if err := authorizeHolder(p, holderID); err != nil {
		return decimal.Zero, err
	}
	return s.GetBalance(ctx, holderID)
}

// ListTransactions returns holderID's ledger lines, newest first.
func (s *WalletService) ListTransactions(ctx context.Context, p domain.Principal, holderID string, page domain.Page) (*domain.TransactionPage, error) {
	if err := authorizeHolder(p, holderID); err != nil {
		return nil, err
	}
	page = page.Normalize()
	items, total, err := s.repo.ListWalletTransactions(ctx, holderID, page)
	if err != nil {
		return nil, storageError(err)
	}
	if items == nil {
		items = []domain.WalletTransaction{}
	}
	return &domain.TransactionPage{Items: items, Page: page.Page, Limit: page.Limit, Total: total}, nil
}

func authorizeHolder(p domain.Principal, holderID string) error {
	if err := p.Authenticated(); err != nil {
		return err
	}
	if !p.CanAccess(holderID) {
		return domain.NewError(domain.KindForbidden, "not allowed to access another holder's wallet")
	}
	return nil
}

func normalizeReference(ref *string) *string {
	if ref == nil {
		return nil
	}
	return domain.OptionalString(*ref)
}
