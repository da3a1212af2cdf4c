package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithdrawalStatusTransitions(t *testing.T) {
	all := []WithdrawalStatus{WithdrawalStatusPending, WithdrawalStatusApproved, WithdrawalStatusRejected, WithdrawalStatusCompleted}
	allowed := map[WithdrawalStatus][]WithdrawalStatus{
		WithdrawalStatusPending:  {WithdrawalStatusApproved, WithdrawalStatusRejected},
		WithdrawalStatusApproved: {WithdrawalStatusCompleted},
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, next := range allowed[from] {
				if next == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, WithdrawalStatusRejected.IsTerminal())
	assert.True(t, WithdrawalStatusCompleted.IsTerminal())
	assert.True(t, WithdrawalStatusApproved.IsOpen())
	assert.False(t, WithdrawalStatusRejected.IsOpen())
}

func TestWithdrawalRequestTransition(t *testing.T) {
	req := &WithdrawalRequest{Status: WithdrawalStatusPending}
	require.NoError(t, req.Transition(WithdrawalStatusApproved))
	assert.Equal(t, WithdrawalStatusApproved, req.Status)

	err := req.Transition(WithdrawalStatusRejected)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, WithdrawalStatusApproved, req.Status, "a refused transition leaves the status alone")
}

func TestReviewDecisionTargetStatus(t *testing.T) {
	tests := []struct {
		decision ReviewDecision
		want     WithdrawalStatus
		wantErr  bool
	}{
		{"approve", WithdrawalStatusApproved, false},
		{" Approved ", WithdrawalStatusApproved, false},
		{"reject", WithdrawalStatusRejected, false},
		{"REJECTED", WithdrawalStatusRejected, false},
		{"complete", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.decision), func(t *testing.T) {
			got, err := tt.decision.TargetStatus()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseWithdrawalStatus(t *testing.T) {
	status, err := ParseWithdrawalStatus(" Pending ")
	require.NoError(t, err)
	assert.Equal(t, WithdrawalStatusPending, status)

	_, err = ParseWithdrawalStatus("paid")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestValidateAmount(t *testing.T) {
	valid := []string{"0.01", "1", "250.5", "1000000.99", "999999999999999.99"}
	for _, v := range valid {
		assert.NoError(t, ValidateAmount(decimal.RequireFromString(v)), v)
	}
	invalid := []string{"0", "-1", "0.001", "10.999", "1000000000000000", "1e18"}
	for _, v := range invalid {
		assert.ErrorIs(t, ValidateAmount(decimal.RequireFromString(v)), ErrInvalidArgument, v)
	}
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Page: 1, Limit: DefaultPageLimit}, Page{}.Normalize())
	assert.Equal(t, Page{Page: 3, Limit: MaxPageLimit}, Page{Page: 3, Limit: 1000}.Normalize())
	assert.Equal(t, 40, Page{Page: 3, Limit: 20}.Offset())
	assert.Equal(t, 0, Page{Page: -2, Limit: 5}.Offset())
	assert.Equal(t, MaxPage, Page{Page: 100_000_000_000_000_000, Limit: MaxPageLimit}.Normalize().Page)
	assert.Equal(t, (MaxPage-1)*MaxPageLimit, Page{Page: 100_000_000_000_000_000, Limit: MaxPageLimit}.Offset())
}
