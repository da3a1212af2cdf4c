/**
 * @description
 * WithdrawalService drives the payout workflow:
 *
 *   pending -> approved -> completed
 *   pending -> rejected
 *   completed directly through the administrator immediate-withdrawal path
 *
 * Every transition locks the request row and, where money moves, debits the wallet in the
 * same storage transaction. Notifications are written to the outbox alongside the
 * transition and delivered later by the OutboxDispatcher.
 *
 * @dependencies
 * - github.com/google/uuid: request identifiers.
 * - github.com/sirupsen/logrus: structured logging.
 * - internal/domain, internal/store: models and data access.
 */

package app

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/metrics"
	"github.com/transfa/wallet-service/internal/store"
)

const (
	withdrawalCreateScope = "withdrawal_create"
	recentRequestsLimit   = 5
)

// WithdrawalService provides the withdrawal request workflow.
type WithdrawalService struct {
	repo    store.Repository
	wallets *WalletService
	tx      txRunner
	log     logrus.FieldLogger
	now     func() time.Time

	limiter RateLimiter
}

// NewWithdrawalService creates a new withdrawal service instance.
func NewWithdrawalService(repo store.Repository, wallets *WalletService, logger logrus.FieldLogger) *WithdrawalService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "withdrawal_service")
	return &WithdrawalService{
		repo:    repo,
		wallets: wallets,
		tx:      newTxRunner(repo, logger),
		log:     logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetRateLimiter enables per-holder throttling of request creation.
func (s *WithdrawalService) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// SetMaxAttempts bounds how many times a transaction is tried on transient failures.
func (s *WithdrawalService) SetMaxAttempts(n int) {
	s.tx.maxAttempts = n
}

// Create files a new pending request for the caller.
func (s *WithdrawalService) Create(ctx context.Context, p domain.Principal, in domain.CreateWithdrawalInput) (*domain.WithdrawalRequest, error) {
	if err := p.Authenticated(); err != nil {
		return nil, s.refuse("create", err)
	}
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, s.refuse("create", err)
	}
	if err := s.checkCreateRateLimit(ctx, p.ID); err != nil {
		return nil, s.refuse("create", err)
	}

	var req *domain.WithdrawalRequest
	err := s.tx.run(ctx, "create_withdrawal", func(ctx context.Context, tx store.Tx) error {
		if in.BankProfileID != nil {
			if _, err := ownedBankProfile(ctx, tx, p.ID, *in.BankProfileID); err != nil {
				return err
			}
		}

		// Advisory only: the authoritative check happens on completion.
		wallet, err := tx.GetOrCreateWallet(ctx, p.ID)
		if err != nil {
			return err
		}
		if wallet.Balance.LessThan(in.Amount) {
			return store.ErrInsufficientFunds
		}

		open, err := tx.HasOpenWithdrawalRequest(ctx, p.ID)
		if err != nil {
			return err
		}
		if open {
			return store.ErrDuplicatePendingRequest
		}

		req = &domain.WithdrawalRequest{
			ID:            uuid.New(),
			RequesterID:   p.ID,
			Amount:        in.Amount,
			Status:        domain.WithdrawalStatusPending,
			BankProfileID: in.BankProfileID,
		}
		if err := tx.InsertWithdrawalRequest(ctx, req); err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, domain.EventWithdrawalRequested, s.newEvent(domain.EventWithdrawalRequested, req))
	})
	if err != nil {
		return nil, s.refuse("create", err)
	}

	metrics.WithdrawalTransitions.WithLabelValues(string(req.Status)).Inc()
	s.log.WithFields(logrus.Fields{
		"request_id":   req.ID,
		"requester_id": req.RequesterID,
		"amount":       req.Amount.String(),
	}).Info("withdrawal request created")
	return req, nil
}

// Review approves or rejects a pending request. Administrators only.
func (s *WithdrawalService) Review(ctx context.Context, p domain.Principal, id uuid.UUID, in domain.ReviewWithdrawalInput) (*domain.WithdrawalRequest, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, s.refuse("review", err)
	}
	target, err := in.Decision.TargetStatus()
	if err != nil {
		return nil, s.refuse("review", err)
	}

	var req *domain.WithdrawalRequest
	err = s.tx.run(ctx, "review_withdrawal", func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = tx.LockWithdrawalRequest(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != domain.WithdrawalStatusPending {
			return domain.NewError(domain.KindInvalidState, "only pending requests can be reviewed")
		}
		if err := req.Transition(target); err != nil {
			return err
		}

		reviewedAt := s.now()
		reviewerID := p.ID
		req.ReviewerID = &reviewerID
		req.ReviewedAt = &reviewedAt
		req.Feedback = nil
		if in.Feedback != nil {
			req.Feedback = domain.OptionalString(*in.Feedback)
		}

		if err := tx.UpdateWithdrawalRequest(ctx, req); err != nil {
			return err
		}
		return tx.EnqueueEvent(ctx, domain.EventWithdrawalReviewed, s.newEvent(domain.EventWithdrawalReviewed, req))
	})
	if err != nil {
		return nil, s.refuse("review", err)
	}

	metrics.WithdrawalTransitions.WithLabelValues(string(req.Status)).Inc()
	s.log.WithFields(logrus.Fields{
		"request_id":  req.ID,
		"reviewer_id": p.ID,
		"status":      req.Status,
	}).Info("withdrawal request reviewed")
	return req, nil
}

// Complete pays out an approved request by debiting the requester's wallet. Only the
// requester may complete it. InsufficientFunds leaves the request approved.
func (s *WithdrawalService) Complete(ctx context.Context, p domain.Principal, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	if err := p.Authenticated(); err != nil {
		return nil, s.refuse("complete", err)
	}

	var (
		req *domain.WithdrawalRequest
		txn *domain.WalletTransaction
	)
	err := s.tx.run(ctx, "complete_withdrawal", func(ctx context.Context, tx store.Tx) error {
		var err error
		req, err = tx.LockWithdrawalRequest(ctx, id)
		if err != nil {
			return err
		}
		if req.RequesterID != p.ID {
			return domain.NewError(domain.KindForbidden, "only the requester can complete a withdrawal")
		}
		if req.Status != domain.WithdrawalStatusApproved {
			return domain.NewError(domain.KindInvalidState, "only approved requests can be completed")
		}

		reference := req.ID.String()
		_, txn, err = s.wallets.applyInTx(ctx, tx, domain.LedgerEntry{
			HolderID:    req.RequesterID,
			Direction:   domain.DirectionDebit,
			Amount:      req.Amount,
			Description: "Withdrawal " + reference,
			ReferenceID: &reference,
		})
		if err != nil {
			return err
		}

		if err := req.Transition(domain.WithdrawalStatusCompleted); err != nil {
			return err
		}
		completedAt := s.now()
		req.CompletedAt = &completedAt
		return tx.UpdateWithdrawalRequest(ctx, req)
	})
	if err != nil {
		return nil, s.refuse("complete", err)
	}

	s.wallets.observe(txn)
	metrics.WithdrawalTransitions.WithLabelValues(string(req.Status)).Inc()
	s.log.WithFields(logrus.Fields{
		"request_id":   req.ID,
		"requester_id": req.RequesterID,
		"amount":       req.Amount.String(),
	}).Info("withdrawal completed")
	return req, nil
}

// Immediate debits the administrator's own wallet and records an already completed
// request in one transaction.
func (s *WithdrawalService) Immediate(ctx context.Context, p domain.Principal, in domain.ImmediateWithdrawalInput) (*domain.WithdrawalRequest, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, s.refuse("immediate", err)
	}
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, s.refuse("immediate", err)
	}
	if in.BankProfileID == uuid.Nil {
		return nil, s.refuse("immediate", domain.NewError(domain.KindInvalidArgument, "bank_profile_id is required"))
	}

	var (
		req *domain.WithdrawalRequest
		txn *domain.WalletTransaction
	)
	err := s.tx.run(ctx, "immediate_withdrawal", func(ctx context.Context, tx store.Tx) error {
		if _, err := ownedBankProfile(ctx, tx, p.ID, in.BankProfileID); err != nil {
			return err
		}

		now := s.now()
		adminID := p.ID
		profileID := in.BankProfileID
		req = &domain.WithdrawalRequest{
			ID:            uuid.New(),
			RequesterID:   p.ID,
			Amount:        in.Amount,
			Status:        domain.WithdrawalStatusCompleted,
			ReviewerID:    &adminID,
			BankProfileID: &profileID,
			ReviewedAt:    &now,
			CompletedAt:   &now,
		}

		reference := req.ID.String()
		var err error
		_, txn, err = s.wallets.applyInTx(ctx, tx, domain.LedgerEntry{
			HolderID:    p.ID,
			Direction:   domain.DirectionDebit,
			Amount:      in.Amount,
			Description: "Immediate withdrawal " + reference,
			ReferenceID: &reference,
		})
		if err != nil {
			return err
		}
		return tx.InsertWithdrawalRequest(ctx, req)
	})
	if err != nil {
		return nil, s.refuse("immediate", err)
	}

	s.wallets.observe(txn)
	metrics.WithdrawalTransitions.WithLabelValues(string(req.Status)).Inc()
	s.log.WithFields(logrus.Fields{
		"request_id": req.ID,
		"admin_id":   p.ID,
		"amount":     req.Amount.String(),
	}).Info("immediate withdrawal completed")
	return req, nil
}

// Get returns a request to its requester or an administrator.
func (s *WithdrawalService) Get(ctx context.Context, p domain.Principal, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	if err := p.Authenticated(); err != nil {
		return nil, err
	}
	req, err := s.repo.FindWithdrawalRequest(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	if !p.CanAccess(req.RequesterID) {
		return nil, domain.NewError(domain.KindForbidden, "not allowed to view this withdrawal request")
	}
	return req, nil
}

// ListMine returns the caller's requests, newest first, optionally filtered by status.
func (s *WithdrawalService) ListMine(ctx context.Context, p domain.Principal, status *domain.WithdrawalStatus, page domain.Page) (*domain.WithdrawalPage, error) {
	if err := p.Authenticated(); err != nil {
		return nil, err
	}
	requesterID := p.ID
	return s.list(ctx, domain.WithdrawalFilter{RequesterID: &requesterID, Status: status, Page: page})
}

// ListAll returns every holder's requests. Administrators only.
func (s *WithdrawalService) ListAll(ctx context.Context, p domain.Principal, status *domain.WithdrawalStatus, page domain.Page) (*domain.WithdrawalPage, error) {
	if err := p.RequireAdmin(); err != nil {
		return nil, err
	}
	return s.list(ctx, domain.WithdrawalFilter{Status: status, Page: page})
}

func (s *WithdrawalService) list(ctx context.Context, filter domain.WithdrawalFilter) (*domain.WithdrawalPage, error) {
	filter.Page = filter.Page.Normalize()
	items, total, err := s.repo.ListWithdrawalRequests(ctx, filter)
	if err != nil {
		return nil, storageError(err)
	}
	if items == nil {
		items = []domain.WithdrawalRequest{}
	}
	return &domain.WithdrawalPage{Items: items, Page: filter.Page.Page, Limit: filter.Page.Limit, Total: total}, nil
}

// AccountSummary aggregates a holder's balance, payout totals, recent requests and primary
// bank profile.
func (s *WithdrawalService) AccountSummary(ctx context.Context, p domain.Principal, holderID string) (*domain.AccountSummary, error) {
	if err := authorizeHolder(p, holderID); err != nil {
		return nil, err
	}

	balance, err := s.wallets.GetBalance(ctx, holderID)
	if err != nil {
		return nil, err
	}
	totals, err := s.repo.SumWithdrawalRequests(ctx, holderID)
	if err != nil {
		return nil, storageError(err)
	}
	recent, _, err := s.repo.ListWithdrawalRequests(ctx, domain.WithdrawalFilter{
		RequesterID: &holderID,
		Page:        domain.Page{Page: 1, Limit: recentRequestsLimit},
	})
	if err != nil {
		return nil, storageError(err)
	}
	if recent == nil {
		recent = []domain.WithdrawalRequest{}
	}

	summary := &domain.AccountSummary{
		HolderID:       holderID,
		Balance:        balance,
		TotalWithdrawn: totals.CompletedAmount,
		CompletedCount: totals.CompletedCount,
		PendingAmount:  totals.OpenAmount,
		PendingCount:   totals.OpenCount,
		RecentRequests: recent,
	}

	primary, err := s.repo.FindPrimaryBankProfile(ctx, holderID)
	switch {
	case err == nil:
		summary.PrimaryBankProfile = primary
	case !errors.Is(err, store.ErrBankProfileNotFound):
		return nil, storageError(err)
	}
	return summary, nil
}

func (s *WithdrawalService) checkCreateRateLimit(ctx context.Context, holderID string) error {
	if s.limiter == nil {
		return nil
	}
	err := s.limiter.AdmitWithdrawal(ctx, holderID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrRateLimited):
		return err
	default:
		s.log.WithError(err).WithField("holder_id", holderID).Warn("rate limiter unavailable; allowing request")
		return nil
	}
}

func (s *WithdrawalService) newEvent(eventType string, req *domain.WithdrawalRequest) domain.WithdrawalEvent {
	return domain.WithdrawalEvent{
		EventID:    uuid.New(),
		Type:       eventType,
		Request:    *req,
		OccurredAt: s.now(),
	}
}

// refuse counts a refused operation by error kind and returns err unchanged.
func (s *WithdrawalService) refuse(operation string, err error) error {
	reason := string(domain.KindOf(err))
	if reason == "" {
		reason = "internal"
	}
	metrics.WithdrawalGuardFailures.WithLabelValues(operation, reason).Inc()
	if reason == "internal" || reason == string(domain.KindUnavailable) {
		s.log.WithError(err).WithField("operation", operation).Error("withdrawal operation failed")
	}
	return err
}

// ownedBankProfile loads a live profile and checks that holderID owns it.
func ownedBankProfile(ctx context.Context, tx store.Tx, holderID string, id uuid.UUID) (*domain.BankProfile, error) {
	profile, err := tx.FindBankProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if profile.HolderID != holderID {
		return nil, domain.NewError(domain.KindForbidden, "bank profile belongs to another holder")
	}
	return profile, nil
}
