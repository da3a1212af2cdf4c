/**
 * @description
 * This file defines the storage contracts of the wallet service. `Repository` exposes the
 * read paths and `RunInTx`, which hands a `Tx` to a callback so that balance changes,
 * request transitions and outbox rows commit or roll back together.
 *
 * Two implementations exist: PostgresRepository (row locks via SELECT ... FOR UPDATE) and
 * MemoryRepository (one mutex per transaction, used by tests and local runs).
 *
 * @dependencies
 * - github.com/google/uuid: identifiers.
 * - github.com/jackc/pgx/v5/pgconn: classification of transient driver errors.
 * - internal/domain: domain models and error kinds.
 */

package store

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/transfa/wallet-service/internal/domain"
)

var (
	ErrWalletNotFound           = domain.NewError(domain.KindNotFound, "wallet not found")
	ErrInsufficientFunds        = domain.NewError(domain.KindInsufficientFunds, "insufficient funds")
	ErrWithdrawalNotFound       = domain.NewError(domain.KindNotFound, "withdrawal request not found")
	ErrBankProfileNotFound      = domain.NewError(domain.KindNotFound, "bank profile not found")
	ErrDuplicatePendingRequest  = domain.NewError(domain.KindDuplicatePendingRequest, "an open withdrawal request already exists")
	ErrDuplicateLedgerReference = domain.NewError(domain.KindConflict, "ledger reference already applied")
	ErrBalanceLimitExceeded     = domain.NewError(domain.KindInvalidArgument, "wallet balance limit exceeded")

	// ErrTxConflict marks a transaction that lost a race and may be retried as a whole.
	ErrTxConflict = errors.New("storage transaction conflict")
)

// Repository is the durable store for wallets, withdrawals, bank profiles and the outbox.
type Repository interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	FindWallet(ctx context.Context, holderID string) (*domain.Wallet, error)
	ListWalletTransactions(ctx context.Context, holderID string, page domain.Page) ([]domain.WalletTransaction, int, error)
	FindLedgerMismatches(ctx context.Context, limit int) ([]domain.LedgerMismatch, error)

	FindWithdrawalRequest(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	ListWithdrawalRequests(ctx context.Context, filter domain.WithdrawalFilter) ([]domain.WithdrawalRequest, int, error)
	SumWithdrawalRequests(ctx context.Context, requesterID string) (*domain.WithdrawalTotals, error)

	FindBankProfile(ctx context.Context, id uuid.UUID) (*domain.BankProfile, error)
	ListBankProfiles(ctx context.Context, holderID string) ([]domain.BankProfile, error)
	FindPrimaryBankProfile(ctx context.Context, holderID string) (*domain.BankProfile, error)

	OutboxRepository
}

// Tx is the write surface available inside RunInTx.
type Tx interface {
	// Ledger
	GetOrCreateWallet(ctx context.Context, holderID string) (*domain.Wallet, error)
	ApplyTransaction(ctx context.Context, entry domain.LedgerEntry) (*domain.Wallet, *domain.WalletTransaction, error)

	// Withdrawal requests
	InsertWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error
	LockWithdrawalRequest(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error)
	UpdateWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error
	HasOpenWithdrawalRequest(ctx context.Context, requesterID string) (bool, error)

	// Bank profiles
	FindBankProfile(ctx context.Context, id uuid.UUID) (*domain.BankProfile, error)
	InsertBankProfile(ctx context.Context, profile *domain.BankProfile) error
	UpdateBankProfile(ctx context.Context, profile *domain.BankProfile) error
	SoftDeleteBankProfile(ctx context.Context, id uuid.UUID) error
	SetPrimaryBankProfile(ctx context.Context, holderID string, id uuid.UUID) error
	ClearPrimaryBankProfile(ctx context.Context, holderID string) error

	// Outbox
	EnqueueEvent(ctx context.Context, eventType string, payload interface{}) error
}

// OutboxMessage is a claimed outbox row.
type OutboxMessage struct {
	ID        int64
	EventType string
	Payload   []byte
	Attempts  int
}

// OutboxRepository is the claim/mark protocol used by the dispatcher.
type OutboxRepository interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
	PurgePublishedOutbox(ctx context.Context, olderThan time.Time) (int64, error)
}

const maxOutboxErrorLength = 2000

// IsTransient reports whether err is worth retrying: serialization failures, deadlocks,
// lock timeouts, dropped connections and deadlines.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTxConflict) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57014", "57P01":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}

	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
