package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/domain"
)

func credit(holderID, amount string) domain.LedgerEntry {
	return domain.LedgerEntry{HolderID: holderID, Direction: domain.DirectionCredit, Amount: decimal.RequireFromString(amount)}
}

func debit(holderID, amount string) domain.LedgerEntry {
	return domain.LedgerEntry{HolderID: holderID, Direction: domain.DirectionDebit, Amount: decimal.RequireFromString(amount)}
}

func applyEntry(t *testing.T, repo *MemoryRepository, entry domain.LedgerEntry) error {
	t.Helper()
	return repo.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, _, err := tx.ApplyTransaction(ctx, entry)
		return err
	})
}

func TestMemoryApplyTransactionKeepsBalanceInLineWithLedger(t *testing.T) {
	repo := NewMemoryRepository()

	require.NoError(t, applyEntry(t, repo, credit("h1", "100.00")))
	require.NoError(t, applyEntry(t, repo, debit("h1", "40.50")))

	err := applyEntry(t, repo, debit("h1", "60.00"))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	wallet, err := repo.FindWallet(context.Background(), "h1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.RequireFromString("59.50")), "balance=%s", wallet.Balance)

	txns, total, err := repo.ListWalletTransactions(context.Background(), "h1", domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, txns, 2)
	assert.Equal(t, domain.DirectionDebit, txns[0].Direction, "newest first")

	mismatches, err := repo.FindLedgerMismatches(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestMemoryListPastTheLastPage(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, applyEntry(t, repo, credit("h1", "10")))

	for _, page := range []domain.Page{
		{Page: 2, Limit: 1},
		{Page: domain.MaxPage, Limit: domain.MaxPageLimit},
		{Page: 100_000_000_000_000_000, Limit: domain.MaxPageLimit},
	} {
		txns, total, err := repo.ListWalletTransactions(context.Background(), "h1", page)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Empty(t, txns)
	}
}

func TestMemoryBalanceLimit(t *testing.T) {
	repo := NewMemoryRepository()
	largest := domain.MaxAmount.Sub(decimal.RequireFromString("0.01"))

	// 1000 of the largest lines still fit below the limit.
	for i := 0; i < 1000; i++ {
		require.NoError(t, repo.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
			_, _, err := tx.ApplyTransaction(ctx, domain.LedgerEntry{HolderID: "h1", Direction: domain.DirectionCredit, Amount: largest})
			return err
		}))
	}

	err := applyEntry(t, repo, credit("h1", "1000"))
	require.ErrorIs(t, err, ErrBalanceLimitExceeded)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	wallet, err := repo.FindWallet(context.Background(), "h1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(largest.Mul(decimal.NewFromInt(1000))), "balance=%s", wallet.Balance)
}

func TestMemoryRunInTxRollsBackOnError(t *testing.T) {
	repo := NewMemoryRepository()
	require.NoError(t, applyEntry(t, repo, credit("h1", "10")))

	boom := errors.New("boom")
	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if _, _, err := tx.ApplyTransaction(ctx, debit("h1", "5")); err != nil {
			return err
		}
		if err := tx.EnqueueEvent(ctx, domain.EventWithdrawalRequested, map[string]string{"k": "v"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	wallet, err := repo.FindWallet(context.Background(), "h1")
	require.NoError(t, err)
	assert.True(t, wallet.Balance.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 0, repo.PendingOutboxCount())

	_, total, err := repo.ListWalletTransactions(context.Background(), "h1", domain.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestMemoryDuplicateLedgerReference(t *testing.T) {
	repo := NewMemoryRepository()
	ref := domain.OptionalString("payment-1")

	entry := credit("h1", "25")
	entry.ReferenceID = ref
	require.NoError(t, applyEntry(t, repo, entry))

	err := applyEntry(t, repo, entry)
	require.ErrorIs(t, err, ErrDuplicateLedgerReference)
	assert.ErrorIs(t, err, domain.ErrConflict)

	// The same reference on the other side of the ledger is a different line.
	reversal := debit("h1", "25")
	reversal.ReferenceID = ref
	require.NoError(t, applyEntry(t, repo, reversal))
}

func TestMemoryOneOpenWithdrawalPerRequester(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	insert := func(status domain.WithdrawalStatus) error {
		return repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			return tx.InsertWithdrawalRequest(ctx, &domain.WithdrawalRequest{
				ID:          uuid.New(),
				RequesterID: "h1",
				Amount:      decimal.NewFromInt(5),
				Status:      status,
			})
		})
	}

	require.NoError(t, insert(domain.WithdrawalStatusPending))
	assert.ErrorIs(t, insert(domain.WithdrawalStatusPending), ErrDuplicatePendingRequest)
	assert.NoError(t, insert(domain.WithdrawalStatusCompleted), "completed rows are not open")

	status := domain.WithdrawalStatusPending
	items, total, err := repo.ListWithdrawalRequests(ctx, domain.WithdrawalFilter{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, items, 1)

	totals, err := repo.SumWithdrawalRequests(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, totals.OpenCount)
	assert.Equal(t, 1, totals.CompletedCount)
}

func TestMemoryPrimaryBankProfile(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	first := &domain.BankProfile{ID: uuid.New(), HolderID: "h1", AccountNumber: "12345678", IsPrimary: true}
	second := &domain.BankProfile{ID: uuid.New(), HolderID: "h1", AccountNumber: "87654321"}
	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertBankProfile(ctx, first); err != nil {
			return err
		}
		return tx.InsertBankProfile(ctx, second)
	}))

	second2 := &domain.BankProfile{ID: uuid.New(), HolderID: "h1", IsPrimary: true}
	err := repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error { return tx.InsertBankProfile(ctx, second2) })
	assert.ErrorIs(t, err, ErrTxConflict)

	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SetPrimaryBankProfile(ctx, "h1", second.ID)
	}))
	primary, err := repo.FindPrimaryBankProfile(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, primary.ID)

	profiles, err := repo.ListBankProfiles(ctx, "h1")
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, second.ID, profiles[0].ID)
	assert.False(t, profiles[1].IsPrimary)

	err = repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SetPrimaryBankProfile(ctx, "someone-else", first.ID)
	})
	assert.ErrorIs(t, err, ErrBankProfileNotFound)

	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.SoftDeleteBankProfile(ctx, second.ID)
	}))
	_, err = repo.FindPrimaryBankProfile(ctx, "h1")
	assert.ErrorIs(t, err, ErrBankProfileNotFound)
	_, err = repo.FindBankProfile(ctx, second.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryOutboxClaimAndRetry(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	require.NoError(t, repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.EnqueueEvent(ctx, domain.EventWithdrawalReviewed, map[string]int{"n": 1})
	}))

	msgs, err := repo.ClaimOutboxMessages(ctx, 10, 60)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.EventWithdrawalReviewed, msgs[0].EventType)
	assert.Equal(t, 1, msgs[0].Attempts)
	assert.JSONEq(t, `{"n":1}`, string(msgs[0].Payload))

	msgs, err = repo.ClaimOutboxMessages(ctx, 10, 60)
	require.NoError(t, err)
	assert.Empty(t, msgs, "processing rows are not claimed twice")

	require.NoError(t, repo.MarkOutboxFailed(ctx, 1, 30, "broker down"))
	msgs, err = repo.ClaimOutboxMessages(ctx, 10, 60)
	require.NoError(t, err)
	assert.Empty(t, msgs, "not due yet")

	now = now.Add(31 * time.Second)
	msgs, err = repo.ClaimOutboxMessages(ctx, 10, 60)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 2, msgs[0].Attempts)

	now = now.Add(2 * time.Minute)
	msgs, err = repo.ClaimOutboxMessages(ctx, 10, 60)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "stale processing rows are reclaimed")

	require.NoError(t, repo.MarkOutboxPublished(ctx, msgs[0].ID))
	assert.Equal(t, 0, repo.PendingOutboxCount())

	purged, err := repo.PurgePublishedOutbox(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrTxConflict))
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(ErrInsufficientFunds))
	assert.False(t, IsTransient(errors.New("syntax error")))
}
