package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMovementStatusNext(t *testing.T) {
	cases := []struct {
		from    MovementStatus
		ev      MovementEvent
		want    MovementStatus
		intents []Intent
	}{
		{MovementPending, MovementEventApprove, MovementCompleted, []Intent{IntentApplyToBalance}},
		{MovementPending, MovementEventReject, MovementRejected, nil},
		{MovementPending, MovementEventExpire, MovementExpired, nil},
	}
	for _, tc := range cases {
		got, intents, err := tc.from.Next(tc.ev)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.intents, intents)
		assert.True(t, got.IsTerminal())
	}

	for _, from := range []MovementStatus{MovementCompleted, MovementRejected, MovementExpired} {
		for _, ev := range []MovementEvent{MovementEventApprove, MovementEventReject, MovementEventExpire} {
			got, intents, err := from.Next(ev)
			assert.ErrorIs(t, err, ErrIllegalTransition)
			assert.Equal(t, from, got)
			assert.Nil(t, intents)
		}
	}

	_, _, err := MovementPending.Next("reopen")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSessionStatusNext(t *testing.T) {
	next, intents, err := SessionClosed.Next(SessionEventOpeningSubmitted)
	require.NoError(t, err)
	assert.Equal(t, SessionOpen, next)
	assert.Equal(t, []Intent{IntentWithdrawFromVault, IntentSetWalletBalances}, intents)

	next, intents, err = SessionOpen.Next(SessionEventClosingSubmitted)
	require.NoError(t, err)
	assert.Equal(t, SessionClosed, next)
	assert.Equal(t, []Intent{IntentDepositToVault, IntentZeroWalletBalances}, intents)

	illegal := []struct {
		from SessionStatus
		ev   SessionEvent
	}{
		{SessionOpen, SessionEventOpeningSubmitted},
		{SessionClosed, SessionEventClosingSubmitted},
		{SessionBlocked, SessionEventOpeningSubmitted},
		{SessionDiscrepancyUnderReview, SessionEventClosingSubmitted},
	}
	for _, tc := range illegal {
		_, _, err := tc.from.Next(tc.ev)
		assert.ErrorIs(t, err, ErrIllegalTransition, "%s + %s", tc.from, tc.ev)
	}
}

func TestMovementTypeSigned(t *testing.T) {
	amount := decimal.NewFromInt(1500)
	for _, typ := range []MovementType{MovementOpeningWithdrawal, MovementManualWithdrawal, MovementAdjustment} {
		assert.True(t, typ.IsDebit())
		assert.True(t, typ.Signed(amount).Equal(amount.Neg()), typ)
	}
	for _, typ := range []MovementType{MovementClosingDeposit, MovementManualDeposit} {
		assert.False(t, typ.IsDebit())
		assert.True(t, typ.Signed(amount).Equal(amount), typ)
	}
}
