package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/transfa/wallet-service/internal/domain"
)

const withdrawalColumns = `id, requester_id, amount, status, reviewer_id, feedback, bank_profile_id, requested_at, reviewed_at, completed_at`

func scanWithdrawalRequest(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var req domain.WithdrawalRequest
	if err := row.Scan(
		&req.ID, &req.RequesterID, &req.Amount, &req.Status, &req.ReviewerID, &req.Feedback,
		&req.BankProfileID, &req.RequestedAt, &req.ReviewedAt, &req.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWithdrawalNotFound
		}
		return nil, err
	}
	return &req, nil
}

// FindWithdrawalRequest retrieves a request by id.
func (r *PostgresRepository) FindWithdrawalRequest(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	return scanWithdrawalRequest(r.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
}

// ListWithdrawalRequests returns one page of requests, newest first, and the total match count.
func (r *PostgresRepository) ListWithdrawalRequests(ctx context.Context, filter domain.WithdrawalFilter) ([]domain.WithdrawalRequest, int, error) {
	page := filter.Page.Normalize()
	limit, offset := clampPage(page.Limit, page.Offset())

	var (
		conditions []string
		args       []interface{}
	)
	if filter.RequesterID != nil {
		args = append(args, *filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM withdrawal_requests`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM withdrawal_requests%s ORDER BY requested_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		withdrawalColumns, where, len(args)-1, len(args))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	requests := make([]domain.WithdrawalRequest, 0, limit)
	for rows.Next() {
		req, err := scanWithdrawalRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, *req)
	}
	return requests, total, rows.Err()
}

// SumWithdrawalRequests aggregates completed and open requests of a holder.
func (r *PostgresRepository) SumWithdrawalRequests(ctx context.Context, requesterID string) (*domain.WithdrawalTotals, error) {
	totals := &domain.WithdrawalTotals{}
	var completedAmount, openAmount decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE status = 'completed'), 0),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COALESCE(SUM(amount) FILTER (WHERE status IN ('pending', 'approved')), 0),
			COUNT(*) FILTER (WHERE status IN ('pending', 'approved'))
		FROM withdrawal_requests
		WHERE requester_id = $1
	`, requesterID).Scan(&completedAmount, &totals.CompletedCount, &openAmount, &totals.OpenCount)
	if err != nil {
		return nil, err
	}
	totals.CompletedAmount = completedAmount
	totals.OpenAmount = openAmount
	return totals, nil
}

// InsertWithdrawalRequest persists a new request. A second open request for the same
// requester fails with ErrDuplicatePendingRequest.
func (t *postgresTx) InsertWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO withdrawal_requests
			(id, requester_id, amount, status, reviewer_id, feedback, bank_profile_id, reviewed_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING requested_at
	`, req.ID, req.RequesterID, req.Amount, string(req.Status), req.ReviewerID, req.Feedback,
		req.BankProfileID, req.ReviewedAt, req.CompletedAt,
	).Scan(&req.RequestedAt)
	if err != nil {
		if isUniqueViolation(err, "withdrawal_requests_one_open_per_requester") {
			return ErrDuplicatePendingRequest
		}
		return fmt.Errorf("insert withdrawal request: %w", err)
	}
	return nil
}

// LockWithdrawalRequest reads a request and holds its row lock until the transaction ends.
func (t *postgresTx) LockWithdrawalRequest(ctx context.Context, id uuid.UUID) (*domain.WithdrawalRequest, error) {
	return scanWithdrawalRequest(t.tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id))
}

// UpdateWithdrawalRequest writes the mutable columns of a request.
func (t *postgresTx) UpdateWithdrawalRequest(ctx context.Context, req *domain.WithdrawalRequest) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE withdrawal_requests
		SET status = $2, reviewer_id = $3, feedback = $4, reviewed_at = $5, completed_at = $6
		WHERE id = $1
	`, req.ID, string(req.Status), req.ReviewerID, req.Feedback, req.ReviewedAt, req.CompletedAt)
	if err != nil {
		return fmt.Errorf("update withdrawal request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWithdrawalNotFound
	}
	return nil
}

// HasOpenWithdrawalRequest reports whether the requester has a pending or approved request.
func (t *postgresTx) HasOpenWithdrawalRequest(ctx context.Context, requesterID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM withdrawal_requests
			WHERE requester_id = $1 AND status IN ('pending', 'approved')
		)
	`, requesterID).Scan(&exists)
	return exists, err
}
