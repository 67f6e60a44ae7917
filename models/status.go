package models

import (
	"errors"
	"fmt"
)

var ErrIllegalTransition = errors.New("illegal status transition")

// Intent is a side effect a status transition asks its caller to carry out.
type Intent string

const (
	IntentApplyToBalance     Intent = "apply_to_balance"
	IntentWithdrawFromVault  Intent = "withdraw_from_vault"
	IntentDepositToVault     Intent = "deposit_to_vault"
	IntentSetWalletBalances  Intent = "set_wallet_balances"
	IntentZeroWalletBalances Intent = "zero_wallet_balances"
)

type MovementStatus string

const (
	MovementPending   MovementStatus = "pending"
	MovementCompleted MovementStatus = "completed"
	MovementRejected  MovementStatus = "rejected"
	MovementExpired   MovementStatus = "expired"
)

type MovementEvent string

const (
	MovementEventApprove MovementEvent = "approve"
	MovementEventReject  MovementEvent = "reject"
	MovementEventExpire  MovementEvent = "expire"
)

// IsTerminal reports whether no further transition is possible.
func (s MovementStatus) IsTerminal() bool {
	switch s {
	case MovementCompleted, MovementRejected, MovementExpired:
		return true
	default:
		return false
	}
}

// Next returns the status reached by applying ev, plus the intents the
// ledger must execute in the same unit of work. Only pending movements move.
func (s MovementStatus) Next(ev MovementEvent) (MovementStatus, []Intent, error) {
	switch s {
	case MovementPending:
		switch ev {
		case MovementEventApprove:
			return MovementCompleted, []Intent{IntentApplyToBalance}, nil
		case MovementEventReject:
			return MovementRejected, nil, nil
		case MovementEventExpire:
			return MovementExpired, nil, nil
		}
	case MovementCompleted, MovementRejected, MovementExpired:
		return s, nil, fmt.Errorf("%w: movement is %s", ErrIllegalTransition, s)
	}

	return s, nil, fmt.Errorf("%w: %q on movement status %q", ErrIllegalTransition, ev, s)
}

type SessionStatus string

const (
	SessionClosed SessionStatus = "closed"
	SessionOpen   SessionStatus = "open"

	// Reserved for discrepancy review workflows; no transition reaches them yet.
	SessionPending                SessionStatus = "pending"
	SessionDiscrepancyUnderReview SessionStatus = "discrepancy_under_review"
	SessionCompleted              SessionStatus = "completed"
	SessionBlocked                SessionStatus = "blocked"
)

type SessionEvent string

const (
	SessionEventOpeningSubmitted SessionEvent = "opening_submitted"
	SessionEventClosingSubmitted SessionEvent = "closing_submitted"
)

// Next drives the custody cycle: closed -> open on an opening count,
// open -> closed on a closing count.
func (s SessionStatus) Next(ev SessionEvent) (SessionStatus, []Intent, error) {
	switch s {
	case SessionClosed:
		if ev == SessionEventOpeningSubmitted {
			return SessionOpen, []Intent{IntentWithdrawFromVault, IntentSetWalletBalances}, nil
		}
	case SessionOpen:
		if ev == SessionEventClosingSubmitted {
			return SessionClosed, []Intent{IntentDepositToVault, IntentZeroWalletBalances}, nil
		}
	case SessionPending, SessionDiscrepancyUnderReview, SessionCompleted, SessionBlocked:
	}

	return s, nil, fmt.Errorf("%w: %q on session status %q", ErrIllegalTransition, ev, s)
}
