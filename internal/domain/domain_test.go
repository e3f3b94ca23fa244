package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from string
		to   string
		ok   bool
	}{
		{StatusPending, StatusSuccessful, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusExpired, true},
		{StatusPending, StatusRefunded, false},
		{StatusSuccessful, StatusRefunded, true},
		{StatusSuccessful, StatusFailed, false},
		{StatusFailed, StatusSuccessful, false},
		{StatusRefunded, StatusSuccessful, false},
		{StatusExpired, StatusPending, false},
		{"UNKNOWN", StatusFailed, false},
	}

	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestIsTerminal(t *testing.T) {
	require.False(t, IsTerminal(StatusPending))
	for _, s := range []string{StatusSuccessful, StatusFailed, StatusCancelled, StatusExpired, StatusRefunded} {
		require.True(t, IsTerminal(s), s)
	}
	require.False(t, IsTerminal("UNKNOWN"))
}

func TestIsKnownStatus(t *testing.T) {
	require.True(t, IsKnownStatus(StatusPending))
	require.True(t, IsKnownStatus(StatusRefunded))
	require.False(t, IsKnownStatus("SETTLEDD"))
}

func TestErrorDetailsPreserveIdentity(t *testing.T) {
	err := ErrLimitExceeded.WithDetails(map[string]any{"limit": "daily"})

	require.ErrorIs(t, err, ErrLimitExceeded)

	var domErr *Error
	require.True(t, errors.As(err, &domErr))
	require.Equal(t, "daily", domErr.Details["limit"])
	require.Equal(t, ErrLimitExceeded.Code, domErr.Code)

	// The sentinel itself is untouched.
	require.Nil(t, ErrLimitExceeded.Details["limit"])
}

func TestErrorMessages(t *testing.T) {
	require.NotEmpty(t, ErrInsufficientFunds.Error())
	require.NotEqual(t, ErrInsufficientFunds.Error(), ErrInsufficientBalance.Error())
}
