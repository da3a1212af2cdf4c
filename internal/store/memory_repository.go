package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

// MemoryRepository is an in-process Repository. Every RunInTx call holds a single mutex
// and restores a snapshot of the state when the callback fails, which gives the same
// all-or-nothing behaviour as the Postgres transactions.
type MemoryRepository struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

type memoryOutboxRow struct {
	msg                 OutboxMessage
	status              string
	nextAttemptAt       time.Time
	processingStartedAt time.Time
	publishedAt         time.Time
	lastError           string
	createdAt           time.Time
}

type memoryState struct {
	wallets         map[string]domain.Wallet
	transactions    []domain.WalletTransaction
	withdrawals     map[uuid.UUID]domain.WithdrawalRequest
	withdrawalOrder []uuid.UUID
	profiles        map[uuid.UUID]domain.BankProfile
	profileOrder    []uuid.UUID
	outbox          []memoryOutboxRow
	nextOutboxID    int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		wallets:     make(map[string]domain.Wallet),
		withdrawals: make(map[uuid.UUID]domain.WithdrawalRequest),
		profiles:    make(map[uuid.UUID]domain.BankProfile),
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		wallets:         make(map[string]domain.Wallet, len(s.wallets)),
		transactions:    append([]domain.WalletTransaction(nil), s.transactions...),
		withdrawals:     make(map[uuid.UUID]domain.WithdrawalRequest, len(s.withdrawals)),
		withdrawalOrder: append([]uuid.UUID(nil), s.withdrawalOrder...),
		profiles:        make(map[uuid.UUID]domain.BankProfile, len(s.profiles)),
		profileOrder:    append([]uuid.UUID(nil), s.profileOrder...),
		outbox:          append([]memoryOutboxRow(nil), s.outbox...),
		nextOutboxID:    s.nextOutboxID,
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	return c
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		state: newMemoryState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RunInTx runs fn while holding the repository lock. Reads on the repository itself must
// not be called from inside fn.
func (m *MemoryRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(ctx, &memoryTx{repo: m, state: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

func (m *MemoryRepository) FindWallet(ctx context.Context, holderID string) (*domain.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wallet, ok := m.state.wallets[holderID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	return &wallet, nil
}

func (m *MemoryRepository) ListWalletTransactions(ctx context.Context, holderID string, page domain.Page) ([]domain.WalletTransaction, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []domain.WalletTransaction
	for i := len(m.state.transactions) - 1; i >= 0; i-- {
		if m.state.transactions[i].WalletID == holderID {
			matches = append(matches, m.state.transactions[i])
		}
	}
	return paginate(matches, page), len(matches), nil
}

func (m *MemoryRepository) FindLedgerMismatches(ctx context.Context, limit int) ([]domain.LedgerMismatch, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ledger := make(map[string]decimal.Decimal)
	for _, txn := range m.state.transactions {
		if txn.Direction == domain.DirectionCredit {
			ledger[txn.WalletID] = ledger[txn.WalletID].Add(txn.Amount)
		} else {
			ledger[txn.WalletID] = ledger[txn.WalletID].Sub(txn.Amount)
		}
	}

	var mismatches []domain.LedgerMismatch
	for holderID, wallet := range m.state.wallets {
		if !wallet.Balance.Equal(ledger[holderID]) {
			mismatches = append(mismatches, domain.LedgerMismatch{
				HolderID:      holderID,
				Balance:       wallet.Balance,
				LedgerBalance: ledger[holderID],
			})
		}
	}
	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].HolderID < mismatches[j].HolderID })
	if len(mismatches) > limit {
		mismatches = mismatches[:limit]
	}
	return mismatches, nil
}

func (m *MemoryRepository) FindWithdrawalRequest(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.state.withdrawals[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	return &req, nil
}

func (m *MemoryRepository) ListWithdrawalRequests(ctx context.Context, filter domain.WithdrawalFilter) ([]domain.WithdrawalRequest, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matches []domain.WithdrawalRequest
	for i := len(m.state.withdrawalOrder) - 1; i >= 0; i-- {
		req := m.state.withdrawals[m.state.withdrawalOrder[i]]
		if filter.RequesterID != nil && req.RequesterID != *filter.RequesterID {
			continue
		}
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		matches = append(matches, req)
	}
	return paginate(matches, filter.Page), len(matches), nil
}

func (m *MemoryRepository) SumWithdrawalRequests(ctx context.Context, requesterID string) (*domain.WithdrawalTotals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	totals := &domain.WithdrawalTotals{}
	for _, req := range m.state.withdrawals {
		if req.RequesterID != requesterID {
			continue
		}
		switch {
		case req.Status == domain.WithdrawalStatusCompleted:
			totals.CompletedAmount = totals.CompletedAmount.Add(req.Amount)
			totals.CompletedCount++
		case req.Status.IsOpen():
			totals.OpenAmount = totals.OpenAmount.Add(req.Amount)
			totals.OpenCount++
		}
	}
	return totals, nil
}

func (m *MemoryRepository) FindBankProfile(ctx context.Context, id uuid.UUID) (*domain.BankProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.liveProfile(id)
}

func (m *MemoryRepository) ListBankProfiles(ctx context.Context, holderID string) ([]domain.BankProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	profiles := []domain.BankProfile{}
	for i := len(m.state.profileOrder) - 1; i >= 0; i-- {
		p := m.state.profiles[m.state.profileOrder[i]]
		if p.HolderID == holderID && p.DeletedAt == nil {
			profiles = append(profiles, p)
		}
	}
	sort.SliceStable(profiles, func(i, j int) bool { return profiles[i].IsPrimary && !profiles[j].IsPrimary })
	return profiles, nil
}

func (m *MemoryRepository) FindPrimaryBankProfile(ctx context.Context, holderID string) (*domain.BankProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.state.profiles {
		if p.HolderID == holderID && p.IsPrimary && p.DeletedAt == nil {
			return &p, nil
		}
	}
	return nil, ErrBankProfileNotFound
}

func (m *MemoryRepository) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	staleBefore := now.Add(-time.Duration(staleAfterSeconds) * time.Second)
	messages := make([]OutboxMessage, 0, limit)
	for i := range m.state.outbox {
		if len(messages) == limit {
			break
		}
		row := &m.state.outbox[i]
		due := row.status == "pending" && !row.nextAttemptAt.After(now)
		stale := row.status == "processing" && row.processingStartedAt.Before(staleBefore)
		if !due && !stale {
			continue
		}
		row.status = "processing"
		row.processingStartedAt = now
		row.msg.Attempts++
		messages = append(messages, row.msg)
	}
	return messages, nil
}

func (m *MemoryRepository) MarkOutboxPublished(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row := m.state.outboxRow(id); row != nil {
		row.status = "published"
		row.publishedAt = m.now()
		row.processingStartedAt = time.Time{}
		row.lastError = ""
	}
	return nil
}

func (m *MemoryRepository) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if len(reason) > maxOutboxErrorLength {
		reason = reason[:maxOutboxErrorLength]
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if row := m.state.outboxRow(id); row != nil {
		row.status = "pending"
		row.nextAttemptAt = m.now().Add(time.Duration(retryAfterSeconds) * time.Second)
		row.processingStartedAt = time.Time{}
		row.lastError = reason
	}
	return nil
}

func (m *MemoryRepository) PurgePublishedOutbox(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.state.outbox[:0]
	var purged int64
	for _, row := range m.state.outbox {
		if row.status == "published" && row.publishedAt.Before(olderThan) {
			purged++
			continue
		}
		kept = append(kept, row)
	}
	m.state.outbox = kept
	return purged, nil
}

// PendingOutboxCount reports rows not yet published.
func (m *MemoryRepository) PendingOutboxCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, row := range m.state.outbox {
		if row.status != "published" {
			n++
		}
	}
	return n
}

func (s *memoryState) outboxRow(id int64) *memoryOutboxRow {
	for i := range s.outbox {
		if s.outbox[i].msg.ID == id {
			return &s.outbox[i]
		}
	}
	return nil
}

func (s *memoryState) liveProfile(id uuid.UUID) (*domain.BankProfile, error) {
	p, ok := s.profiles[id]
	if !ok || p.DeletedAt != nil {
		return nil, ErrBankProfileNotFound
	}
	return &p, nil
}

func paginate[T any](items []T, page domain.Page) []T {
	page = page.Normalize()
	offset := page.Offset()
	if offset < 0 || offset >= len(items) {
		return []T{}
	}
	end := offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return append([]T{}, items[offset:end]...)
}

// memoryTx is the Tx handed to RunInTx callbacks. It mutates the live state directly;
// the caller restores the snapshot on failure.
type memoryTx struct {
	repo  *MemoryRepository
	state *memoryState
}

func (t *memoryTx) GetOrCreateWallet(ctx context.Context, holderID string) (*domain.Wallet, error) {
	wallet, ok := t.state.wallets[holderID]
	if !ok {
		now := t.repo.now()
		wallet = domain.Wallet{HolderID: holderID, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		t.state.wallets[holderID] = wallet
	}
	return &wallet, nil
}

func (t *memoryTx) ApplyTransaction(ctx context.Context, entry domain.LedgerEntry) (*domain.Wallet, *domain.WalletTransaction, error) {
	wallet, err := t.GetOrCreateWallet(ctx, entry.HolderID)
	if err != nil {
		return nil, nil, err
	}

	next, ok := entry.Apply(wallet.Balance)
	if !ok {
		return nil, nil, ErrInsufficientFunds
	}
	if next.GreaterThanOrEqual(domain.MaxBalance) {
		return nil, nil, ErrBalanceLimitExceeded
	}

	if entry.ReferenceID != nil {
		for _, txn := range t.state.transactions {
			if txn.WalletID == entry.HolderID && txn.Direction == entry.Direction &&
				txn.ReferenceID != nil && *txn.ReferenceID == *entry.ReferenceID {
				return nil, nil, ErrDuplicateLedgerReference
			}
		}
	}

	now := t.repo.now()
	wallet.Balance = next
	wallet.UpdatedAt = now
	t.state.wallets[entry.HolderID] = *wallet

	txn := domain.WalletTransaction{
		ID:          uuid.New(),
		WalletID:    entry.HolderID,
		Direction:   entry.Direction,
		Amount:      entry.Amount,
		Description: entry.Description,
		ReferenceID: entry.ReferenceID,
		CreatedAt:   now,
	}
	t.state.transactions = append(t.state.transactions, txn)
	return wallet, &txn, nil
}

func (t *memoryTx) InsertWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error {
	if req.Status.IsOpen() {
		for _, existing := range t.state.withdrawals {
			if existing.RequesterID == req.RequesterID && existing.Status.IsOpen() {
				return ErrDuplicatePendingRequest
			}
		}
	}
	if _, exists := t.state.withdrawals[req.ID]; exists {
		return domain.NewError(domain.KindConflict, "withdrawal request already exists")
	}
	req.RequestedAt = t.repo.now()
	t.state.withdrawals[req.ID] = *req
	t.state.withdrawalOrder = append(t.state.withdrawalOrder, req.ID)
	return nil
}

func (t *memoryTx) LockWithdrawalRequest(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	req, ok := t.state.withdrawals[id]
	if !ok {
		return nil, ErrWithdrawalNotFound
	}
	return &req, nil
}

func (t *memoryTx) UpdateWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error {
	existing, ok := t.state.withdrawals[req.ID]
	if !ok {
		return ErrWithdrawalNotFound
	}
	existing.Status = req.Status
	existing.ReviewerID = req.ReviewerID
	existing.Feedback = req.Feedback
	existing.ReviewedAt = req.ReviewedAt
	existing.CompletedAt = req.CompletedAt
	t.state.withdrawals[req.ID] = existing
	return nil
}

func (t *memoryTx) HasOpenWithdrawalRequest(ctx context.Context, requesterID string) (bool, error) {
	for _, req := range t.state.withdrawals {
		if req.RequesterID == requesterID && req.Status.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) FindBankProfile(ctx context.Context, id uuid.UUID) (*domain.BankProfile, error) {
	return t.state.liveProfile(id)
}

func (t *memoryTx) InsertBankProfile(ctx context.Context, p *domain.BankProfile) error {
	if p.IsPrimary {
		for _, existing := range t.state.profiles {
			if existing.HolderID == p.HolderID && existing.IsPrimary && existing.DeletedAt == nil {
				return ErrTxConflict
			}
		}
	}
	now := t.repo.now()
	p.CreatedAt = now
	p.UpdatedAt = now
	t.state.profiles[p.ID] = *p
	t.state.profileOrder = append(t.state.profileOrder, p.ID)
	return nil
}

func (t *memoryTx) UpdateBankProfile(ctx context.Context, p *domain.BankProfile) error {
	existing, err := t.state.liveProfile(p.ID)
	if err != nil {
		return err
	}
	existing.AccountHolderName = p.AccountHolderName
	existing.AccountNumber = p.AccountNumber
	existing.RoutingCode = p.RoutingCode
	existing.BankName = p.BankName
	existing.BranchName = p.BranchName
	existing.UpdatedAt = t.repo.now()
	p.UpdatedAt = existing.UpdatedAt
	t.state.profiles[p.ID] = *existing
	return nil
}

func (t *memoryTx) SoftDeleteBankProfile(ctx context.Context, id uuid.UUID) error {
	existing, err := t.state.liveProfile(id)
	if err != nil {
		return err
	}
	now := t.repo.now()
	existing.DeletedAt = &now
	existing.IsPrimary = false
	existing.UpdatedAt = now
	t.state.profiles[id] = *existing
	return nil
}

func (t *memoryTx) SetPrimaryBankProfile(ctx context.Context, holderID string, id uuid.UUID) error {
	target, err := t.state.liveProfile(id)
	if err != nil || target.HolderID != holderID {
		return ErrBankProfileNotFound
	}
	if err := t.ClearPrimaryBankProfile(ctx, holderID); err != nil {
		return err
	}
	target = t.stateProfile(id)
	target.IsPrimary = true
	target.UpdatedAt = t.repo.now()
	t.state.profiles[id] = *target
	return nil
}

func (t *memoryTx) stateProfile(id uuid.UUID) *domain.BankProfile {
	p := t.state.profiles[id]
	return &p
}

func (t *memoryTx) ClearPrimaryBankProfile(ctx context.Context, holderID string) error {
	now := t.repo.now()
	for id, p := range t.state.profiles {
		if p.HolderID == holderID && p.IsPrimary && p.DeletedAt == nil {
			p.IsPrimary = false
			p.UpdatedAt = now
			t.state.profiles[id] = p
		}
	}
	return nil
}

func (t *memoryTx) EnqueueEvent(ctx context.Context, eventType string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := t.repo.now()
	t.state.nextOutboxID++
	t.state.outbox = append(t.state.outbox, memoryOutboxRow{
		msg: OutboxMessage{
			ID:        t.state.nextOutboxID,
			EventType: strings.TrimSpace(eventType),
			Payload:   blob,
		},
		status:        "pending",
		nextAttemptAt: now,
		createdAt:     now,
	})
	return nil
}
