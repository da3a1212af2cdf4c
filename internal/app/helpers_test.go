package app

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

var (
	instructor      = domain.Principal{ID: "instructor-1", Role: domain.RoleInstructor}
	otherInstructor = domain.Principal{ID: "instructor-2", Role: domain.RoleInstructor}
	admin           = domain.Principal{ID: "admin-1", Role: domain.RoleAdmin}
)

type testServices struct {
	repo        *store.MemoryRepository
	wallets     *WalletService
	withdrawals *WithdrawalService
	profiles    *BankProfileService
}

func quietLogger() logrus.FieldLogger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServices(t *testing.T) *testServices {
	t.Helper()
	repo := store.NewMemoryRepository()
	return newTestServicesWithRepo(repo)
}

func newTestServicesWithRepo(repo store.Repository) *testServices {
	logger := quietLogger()
	wallets := NewWalletService(repo, logger)
	svc := &testServices{
		wallets:     wallets,
		withdrawals: NewWithdrawalService(repo, wallets, logger),
		profiles:    NewBankProfileService(repo, logger),
	}
	if mem, ok := repo.(*store.MemoryRepository); ok {
		svc.repo = mem
	}
	return svc
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (s *testServices) fund(t *testing.T, holderID, value string) {
	t.Helper()
	_, _, err := s.wallets.Credit(context.Background(), holderID, amount(value), "course earnings", nil)
	require.NoError(t, err)
}

func (s *testServices) balance(t *testing.T, holderID string) decimal.Decimal {
	t.Helper()
	balance, err := s.wallets.GetBalance(context.Background(), holderID)
	require.NoError(t, err)
	return balance
}

func (s *testServices) bankProfile(t *testing.T, p domain.Principal, primary bool) *domain.BankProfile {
	t.Helper()
	profile, err := s.profiles.Create(context.Background(), p, domain.BankProfileInput{
		AccountHolderName: "Ada Lovelace",
		AccountNumber:     "0123456789",
		RoutingCode:       "GTB001",
		BankName:          "Guaranty Trust",
		IsPrimary:         primary,
	})
	require.NoError(t, err)
	return profile
}

func (s *testServices) requireLedgerConsistent(t *testing.T) {
	t.Helper()
	mismatches, err := s.repo.FindLedgerMismatches(context.Background(), 100)
	require.NoError(t, err)
	require.Empty(t, mismatches)
}

// flakyRepository fails the first failures transactions with a retryable conflict.
type flakyRepository struct {
	*store.MemoryRepository
	mu       sync.Mutex
	failures int
	calls    int
}

func (r *flakyRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls <= r.failures
	r.mu.Unlock()
	if fail {
		return store.ErrTxConflict
	}
	return r.MemoryRepository.RunInTx(ctx, fn)
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	return &id
}
