package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

// BankProfileService manages a holder's payout destinations. At most one live profile per
// holder is primary; deleting the primary leaves the holder without one.
type BankProfileService struct {
	repo     store.Repository
	tx       txRunner
	log      logrus.FieldLogger
	validate *validator.Validate
}

func NewBankProfileService(repo store.Repository, logger logrus.FieldLogger) *BankProfileService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "bank_profile_service")
	return &BankProfileService{
		repo:     repo,
		tx:       newTxRunner(repo, logger),
		log:      logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (s *BankProfileService) SetMaxAttempts(n int) {
	s.tx.maxAttempts = n
}

// List returns the caller's live profiles, primary first.
func (s *BankProfileService) List(ctx context.Context, p domain.Principal) ([]domain.BankProfile, error) {
	if err := p.Authenticated(); err != nil {
		return nil, err
	}
	profiles, err := s.repo.ListBankProfiles(ctx, p.ID)
	if err != nil {
		return nil, storageError(err)
	}
	return profiles, nil
}

// Get returns one profile to its owner or an administrator.
func (s *BankProfileService) Get(ctx context.Context, p domain.Principal, id uuid.UUID) (*domain.BankProfile, error) {
	if err := p.Authenticated(); err != nil {
		return nil, err
	}
	profile, err := s.repo.FindBankProfile(ctx, id)
	if err != nil {
		return nil, storageError(err)
	}
	if !p.CanAccess(profile.HolderID) {
		return nil, errForeignProfile
	}
	return profile, nil
}

// Primary returns the caller's primary profile.
func (s *BankProfileService) Primary(ctx context.Context, p domain.Principal) (*domain.BankProfile, error) {
	if err := p.Authenticated(); err != nil {
		return nil, err
	}
	profile, err := s.repo.FindPrimaryBankProfile(ctx, p.ID)
	if err != nil {
		return nil, storageError(err)
	}
	return profile, nil
}

// Create stores a new profile for the caller. A primary profile demotes the previous one.
func (s *BankProfileService) Create(ctx context.Context, p domain.Principal, in domain.BankProfileInput) (*domain.BankProfile, error) {
	if err := p.Authenticated(); err != nil {
		return nil, err
	}
	in = in.Normalize()
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	var profile *domain.BankProfile
	err := s.tx.run(ctx, "create_bank_profile", func(ctx context.Context, tx store.Tx) error {
		profile = &domain.BankProfile{ID: uuid.New(), HolderID: p.ID, IsPrimary: in.IsPrimary}
		in.Apply(profile)
		if in.IsPrimary {
			if err := tx.ClearPrimaryBankProfile(ctx, p.ID); err != nil {
				return err
			}
		}
		return tx.InsertBankProfile(ctx, profile)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"holder_id": p.ID, "profile_id": profile.ID, "primary": profile.IsPrimary}).Info("bank profile created")
	return profile, nil
}

// Update rewrites the descriptive fields of the caller's profile. is_primary=true also
// makes it primary; false leaves the flag unchanged.
func (s *BankProfileService) Update(ctx context.Context, p domain.Principal, id uuid.UUID, in domain.BankProfileInput) (*domain.BankProfile, error) {
	if err := p.Authenticated(); err != nil {
		return nil, err
	}
	in = in.Normalize()
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	var profile *domain.BankProfile
	err := s.tx.run(ctx, "update_bank_profile", func(ctx context.Context, tx store.Tx) error {
		var err error
		profile, err = ownedProfile(ctx, tx, p.ID, id)
		if err != nil {
			return err
		}
		in.Apply(profile)
		if err := tx.UpdateBankProfile(ctx, profile); err != nil {
			return err
		}
		if in.IsPrimary && !profile.IsPrimary {
			if err := tx.SetPrimaryBankProfile(ctx, p.ID, id); err != nil {
				return err
			}
			profile.IsPrimary = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// Delete soft-deletes the caller's profile. Requests that reference it keep the reference.
func (s *BankProfileService) Delete(ctx context.Context, p domain.Principal, id uuid.UUID) error {
	if err := p.Authenticated(); err != nil {
		return err
	}
	err := s.tx.run(ctx, "delete_bank_profile", func(ctx context.Context, tx store.Tx) error {
		if _, err := ownedProfile(ctx, tx, p.ID, id); err != nil {
			return err
		}
		return tx.SoftDeleteBankProfile(ctx, id)
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"holder_id": p.ID, "profile_id": id}).Info("bank profile deleted")
	return nil
}

// SetPrimary makes id the caller's primary profile and demotes every other one.
func (s *BankProfileService) SetPrimary(ctx context.Context, p domain.Principal, id uuid.UUID) (*domain.BankProfile, error) {
	if err := p.Authenticated(); err != nil {
		return nil, err
	}
	var profile *domain.BankProfile
	err := s.tx.run(ctx, "set_primary_bank_profile", func(ctx context.Context, tx store.Tx) error {
		var err error
		profile, err = ownedProfile(ctx, tx, p.ID, id)
		if err != nil {
			return err
		}
		if err := tx.SetPrimaryBankProfile(ctx, p.ID, id); err != nil {
			return err
		}
		profile.IsPrimary = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

var errForeignProfile = domain.NewError(domain.KindForbidden, "bank profile belongs to another holder")

// ownedProfile loads a live profile for a write by its owner.
func ownedProfile(ctx context.Context, tx store.Tx, holderID string, id uuid.UUID) (*domain.BankProfile, error) {
	profile, err := tx.FindBankProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if profile.HolderID != holderID {
		return nil, errForeignProfile
	}
	return profile, nil
}

func (s *BankProfileService) validateInput(in domain.BankProfileInput) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return domain.WrapError(domain.KindInvalidArgument, "invalid bank profile", err)
	}
	problems := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		problems = append(problems, fmt.Sprintf("%s failed %s", toSnake(fe.Field()), fe.Tag()))
	}
	return domain.NewError(domain.KindInvalidArgument, "invalid bank profile: "+strings.Join(problems, ", "))
}

func toSnake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
