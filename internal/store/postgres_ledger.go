package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/transfa/wallet-service/internal/domain"
)

const walletColumns = `holder_id, balance, created_at, updated_at`

const walletTransactionColumns = `id, wallet_id, direction, amount, description, reference_id, created_at`

func scanWallet(row pgx.Row) (*domain.Wallet, error) {
	var wallet domain.Wallet
	if err := row.Scan(&wallet.HolderID, &wallet.Balance, &wallet.CreatedAt, &wallet.UpdatedAt); err != nil {
		return nil, err
	}
	return &wallet, nil
}

func scanWalletTransaction(row pgx.Row) (*domain.WalletTransaction, error) {
	var txn domain.WalletTransaction
	if err := row.Scan(
		&txn.ID, &txn.WalletID, &txn.Direction, &txn.Amount,
		&txn.Description, &txn.ReferenceID, &txn.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindWallet retrieves a wallet without creating it.
func (r *PostgresRepository) FindWallet(ctx context.Context, holderID string) (*domain.Wallet, error) {
	wallet, err := scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE holder_id = $1`, holderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// ListWalletTransactions returns a holder's ledger lines, newest first, and the total count.
func (r *PostgresRepository) ListWalletTransactions(ctx context.Context, holderID string, page domain.Page) ([]domain.WalletTransaction, int, error) {
	page = page.Normalize()
	limit, offset := clampPage(page.Limit, page.Offset())

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1`, holderID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+walletTransactionColumns+`
		FROM wallet_transactions
		WHERE wallet_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, holderID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	transactions := make([]domain.WalletTransaction, 0, limit)
	for rows.Next() {
		txn, err := scanWalletTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, total, rows.Err()
}

// FindLedgerMismatches returns wallets whose balance differs from credits minus debits.
func (r *PostgresRepository) FindLedgerMismatches(ctx context.Context, limit int) ([]domain.LedgerMismatch, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT w.holder_id, w.balance, COALESCE(l.ledger_balance, 0)
		FROM wallets w
		LEFT JOIN (
			SELECT wallet_id,
				SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END) AS ledger_balance
			FROM wallet_transactions
			GROUP BY wallet_id
		) l ON l.wallet_id = w.holder_id
		WHERE w.balance <> COALESCE(l.ledger_balance, 0)
		ORDER BY w.holder_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mismatches []domain.LedgerMismatch
	for rows.Next() {
		var m domain.LedgerMismatch
		if err := rows.Scan(&m.HolderID, &m.Balance, &m.LedgerBalance); err != nil {
			return nil, err
		}
		mismatches = append(mismatches, m)
	}
	return mismatches, rows.Err()
}

// GetOrCreateWallet returns the holder's wallet, creating it with a zero balance.
func (t *postgresTx) GetOrCreateWallet(ctx context.Context, holderID string) (*domain.Wallet, error) {
	if _, err := t.tx.Exec(ctx, `INSERT INTO wallets (holder_id) VALUES ($1) ON CONFLICT (holder_id) DO NOTHING`, holderID); err != nil {
		return nil, fmt.Errorf("ensure wallet: %w", err)
	}
	return scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE holder_id = $1`, holderID))
}

// ApplyTransaction locks the wallet row, applies the entry and appends the ledger line.
// A debit below zero fails with ErrInsufficientFunds and writes nothing.
func (t *postgresTx) ApplyTransaction(ctx context.Context, entry domain.LedgerEntry) (*domain.Wallet, *domain.WalletTransaction, error) {
	if _, err := t.tx.Exec(ctx, `INSERT INTO wallets (holder_id) VALUES ($1) ON CONFLICT (holder_id) DO NOTHING`, entry.HolderID); err != nil {
		return nil, nil, fmt.Errorf("ensure wallet: %w", err)
	}

	wallet, err := scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE holder_id = $1 FOR UPDATE`, entry.HolderID))
	if err != nil {
		return nil, nil, fmt.Errorf("lock wallet: %w", err)
	}

	next, ok := entry.Apply(wallet.Balance)
	if !ok {
		return nil, nil, ErrInsufficientFunds
	}
	if next.GreaterThanOrEqual(domain.MaxBalance) {
		return nil, nil, ErrBalanceLimitExceeded
	}

	if err := t.tx.QueryRow(ctx,
		`UPDATE wallets SET balance = $1, updated_at = NOW() WHERE holder_id = $2 RETURNING updated_at`,
		next, entry.HolderID,
	).Scan(&wallet.UpdatedAt); err != nil {
		return nil, nil, fmt.Errorf("update balance: %w", err)
	}
	wallet.Balance = next

	txn := &domain.WalletTransaction{
		ID:          uuid.New(),
		WalletID:    entry.HolderID,
		Direction:   entry.Direction,
		Amount:      entry.Amount,
		Description: entry.Description,
		ReferenceID: entry.ReferenceID,
	}
	if err := t.tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (id, wallet_id, direction, amount, description, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, txn.ID, txn.WalletID, string(txn.Direction), txn.Amount, txn.Description, txn.ReferenceID).Scan(&txn.CreatedAt); err != nil {
		if isUniqueViolation(err, "wallet_transactions_reference_unique") {
			return nil, nil, ErrDuplicateLedgerReference
		}
		return nil, nil, fmt.Errorf("append ledger line: %w", err)
	}

	return wallet, txn, nil
}
