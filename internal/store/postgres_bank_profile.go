package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/transfa/wallet-service/internal/domain"
)

const bankProfileColumns = `id, holder_id, account_holder_name, account_number, routing_code, bank_name, branch_name, is_primary, created_at, updated_at, deleted_at`

func scanBankProfile(row pgx.Row) (*domain.BankProfile, error) {
	var p domain.BankProfile
	if err := row.Scan(
		&p.ID, &p.HolderID, &p.AccountHolderName, &p.AccountNumber, &p.RoutingCode,
		&p.BankName, &p.BranchName, &p.IsPrimary, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBankProfileNotFound
		}
		return nil, err
	}
	return &p, nil
}

// findBankProfile returns a live (not soft-deleted) profile.
func findBankProfile(ctx context.Context, q dbtx, id uuid.UUID) (*domain.BankProfile, error) {
	return scanBankProfile(q.QueryRow(ctx,
		`SELECT `+bankProfileColumns+` FROM bank_profiles WHERE id = $1 AND deleted_at IS NULL`, id))
}

// FindBankProfile retrieves a live profile by id.
func (r *PostgresRepository) FindBankProfile(ctx context.Context, id uuid.UUID) (*domain.BankProfile, error) {
	return findBankProfile(ctx, r.db, id)
}

// ListBankProfiles returns a holder's live profiles, primary first.
func (r *PostgresRepository) ListBankProfiles(ctx context.Context, holderID string) ([]domain.BankProfile, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+bankProfileColumns+`
		FROM bank_profiles
		WHERE holder_id = $1 AND deleted_at IS NULL
		ORDER BY is_primary DESC, created_at DESC
	`, holderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	profiles := []domain.BankProfile{}
	for rows.Next() {
		p, err := scanBankProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// FindPrimaryBankProfile returns the holder's primary profile, or ErrBankProfileNotFound.
func (r *PostgresRepository) FindPrimaryBankProfile(ctx context.Context, holderID string) (*domain.BankProfile, error) {
	return scanBankProfile(r.db.QueryRow(ctx, `
		SELECT `+bankProfileColumns+`
		FROM bank_profiles
		WHERE holder_id = $1 AND is_primary AND deleted_at IS NULL
	`, holderID))
}

func (t *postgresTx) FindBankProfile(ctx context.Context, id uuid.UUID) (*domain.BankProfile, error) {
	return findBankProfile(ctx, t.tx, id)
}

// InsertBankProfile persists a new profile. Racing a concurrent primary insert surfaces as
// ErrTxConflict so the caller retries with fresh state.
func (t *postgresTx) InsertBankProfile(ctx context.Context, p *domain.BankProfile) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO bank_profiles
			(id, holder_id, account_holder_name, account_number, routing_code, bank_name, branch_name, is_primary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, p.ID, p.HolderID, p.AccountHolderName, p.AccountNumber, p.RoutingCode, p.BankName, p.BranchName, p.IsPrimary,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "bank_profiles_one_primary_per_holder") {
			return ErrTxConflict
		}
		return fmt.Errorf("insert bank profile: %w", err)
	}
	return nil
}

// UpdateBankProfile writes the descriptive columns. The primary flag is managed separately.
func (t *postgresTx) UpdateBankProfile(ctx context.Context, p *domain.BankProfile) error {
	err := t.tx.QueryRow(ctx, `
		UPDATE bank_profiles
		SET account_holder_name = $2, account_number = $3, routing_code = $4,
			bank_name = $5, branch_name = $6, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at
	`, p.ID, p.AccountHolderName, p.AccountNumber, p.RoutingCode, p.BankName, p.BranchName).Scan(&p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBankProfileNotFound
		}
		return fmt.Errorf("update bank profile: %w", err)
	}
	return nil
}

// SoftDeleteBankProfile hides a profile and drops its primary flag. Withdrawal requests
// keep referencing it.
func (t *postgresTx) SoftDeleteBankProfile(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bank_profiles
		SET deleted_at = NOW(), is_primary = FALSE, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("delete bank profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBankProfileNotFound
	}
	return nil
}

// SetPrimaryBankProfile makes id the holder's only primary profile.
func (t *postgresTx) SetPrimaryBankProfile(ctx context.Context, holderID string, id uuid.UUID) error {
	if _, err := t.tx.Exec(ctx,
		`SELECT id FROM bank_profiles WHERE holder_id = $1 AND deleted_at IS NULL FOR UPDATE`, holderID); err != nil {
		return fmt.Errorf("lock bank profiles: %w", err)
	}
	if err := t.ClearPrimaryBankProfile(ctx, holderID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE bank_profiles
		SET is_primary = TRUE, updated_at = NOW()
		WHERE id = $1 AND holder_id = $2 AND deleted_at IS NULL
	`, id, holderID)
	if err != nil {
		if isUniqueViolation(err, "bank_profiles_one_primary_per_holder") {
			return ErrTxConflict
		}
		return fmt.Errorf("set primary bank profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBankProfileNotFound
	}
	return nil
}

// ClearPrimaryBankProfile drops the primary flag from all of a holder's profiles.
func (t *postgresTx) ClearPrimaryBankProfile(ctx context.Context, holderID string) error {
	if _, err := t.tx.Exec(ctx, `
		UPDATE bank_profiles
		SET is_primary = FALSE, updated_at = NOW()
		WHERE holder_id = $1 AND is_primary AND deleted_at IS NULL
	`, holderID); err != nil {
		return fmt.Errorf("clear primary bank profile: %w", err)
	}
	return nil
}
