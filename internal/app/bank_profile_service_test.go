package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/store"
)

func profileInput(primary bool) domain.BankProfileInput {
	return domain.BankProfileInput{
		AccountHolderName: " Grace Hopper ",
		AccountNumber:     "0011 2233 44",
		RoutingCode:       "fbn011",
		BankName:          "First Bank",
		IsPrimary:         primary,
	}
}

func TestBankProfileService_CreateNormalisesInput(t *testing.T) {
	svc := newTestServices(t)

	profile, err := svc.profiles.Create(context.Background(), instructor, profileInput(false))
	require.NoError(t, err)
	assert.Equal(t, instructor.ID, profile.HolderID)
	assert.Equal(t, "Grace Hopper", profile.AccountHolderName)
	assert.Equal(t, "0011223344", profile.AccountNumber)
	assert.Equal(t, "FBN011", profile.RoutingCode)
	assert.False(t, profile.IsPrimary)

	body, err := json.Marshal(profile)
	require.NoError(t, err)
	assert.NotContains(t, string(body), "0011223344")
	assert.Contains(t, string(body), `"account_number_masked":"******3344"`)
}

func TestBankProfileService_CreateValidates(t *testing.T) {
	svc := newTestServices(t)

	in := profileInput(false)
	in.AccountNumber = "12ab"
	in.BankName = ""
	_, err := svc.profiles.Create(context.Background(), instructor, in)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	assert.Contains(t, domain.MessageOf(err), "account_number failed numeric")
	assert.Contains(t, domain.MessageOf(err), "bank_name failed required")
}

func TestBankProfileService_SinglePrimary(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	first, err := svc.profiles.Create(ctx, instructor, profileInput(true))
	require.NoError(t, err)
	second, err := svc.profiles.Create(ctx, instructor, profileInput(true))
	require.NoError(t, err)

	primary, err := svc.profiles.Primary(ctx, instructor)
	require.NoError(t, err)
	assert.Equal(t, second.ID, primary.ID)

	_, err = svc.profiles.SetPrimary(ctx, instructor, first.ID)
	require.NoError(t, err)

	profiles, err := svc.profiles.List(ctx, instructor)
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	primaries := 0
	for _, p := range profiles {
		if p.IsPrimary {
			primaries++
			assert.Equal(t, first.ID, p.ID)
		}
	}
	assert.Equal(t, 1, primaries)
	assert.Equal(t, first.ID, profiles[0].ID, "primary profile is listed first")
}

func TestBankProfileService_UpdateKeepsPrimaryUnlessRequested(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	primary, err := svc.profiles.Create(ctx, instructor, profileInput(true))
	require.NoError(t, err)
	other, err := svc.profiles.Create(ctx, instructor, profileInput(false))
	require.NoError(t, err)

	in := profileInput(false)
	in.BankName = "Renamed Bank"
	updated, err := svc.profiles.Update(ctx, instructor, primary.ID, in)
	require.NoError(t, err)
	assert.Equal(t, "Renamed Bank", updated.BankName)
	assert.True(t, updated.IsPrimary)

	updated, err = svc.profiles.Update(ctx, instructor, other.ID, profileInput(true))
	require.NoError(t, err)
	assert.True(t, updated.IsPrimary)

	current, err := svc.profiles.Primary(ctx, instructor)
	require.NoError(t, err)
	assert.Equal(t, other.ID, current.ID)
}

func TestBankProfileService_OwnershipAndDelete(t *testing.T) {
	svc := newTestServices(t)
	ctx := context.Background()

	profile, err := svc.profiles.Create(ctx, instructor, profileInput(true))
	require.NoError(t, err)

	_, err = svc.profiles.Get(ctx, otherInstructor, profile.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = svc.profiles.Get(ctx, admin, profile.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.profiles.Delete(ctx, otherInstructor, profile.ID), domain.ErrForbidden)
	_, err = svc.profiles.SetPrimary(ctx, otherInstructor, profile.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = svc.profiles.Update(ctx, otherInstructor, profile.ID, profileInput(false))
	assert.ErrorIs(t, err, domain.ErrForbidden)

	require.NoError(t, svc.profiles.Delete(ctx, instructor, profile.ID))

	_, err = svc.profiles.Primary(ctx, instructor)
	assert.ErrorIs(t, err, store.ErrBankProfileNotFound)
	_, err = svc.profiles.Get(ctx, instructor, profile.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, svc.profiles.Delete(ctx, instructor, profile.ID), domain.ErrNotFound)
	assert.ErrorIs(t, svc.profiles.Delete(ctx, instructor, uuid.New()), domain.ErrNotFound)

	profiles, err := svc.profiles.List(ctx, instructor)
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestToSnake(t *testing.T) {
	assert.Equal(t, "account_holder_name", toSnake("AccountHolderName"))
	assert.Equal(t, "bank_name", toSnake("BankName"))
}
