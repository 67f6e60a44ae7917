package services

import (
	"errors"
	"fmt"
)

// Code identifies a business-rule failure. Codes are part of the API.
type Code string

const (
	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeInvalidNotes          Code = "INVALID_NOTES"
	CodeInvalidCount          Code = "INVALID_COUNT"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeForbidden             Code = "FORBIDDEN"
	CodeSelfApproval          Code = "SELF_APPROVAL"
	CodeNotPending            Code = "NOT_PENDING"
	CodeExpired               Code = "EXPIRED"
	CodeSessionAlreadyOpen    Code = "SESSION_ALREADY_OPEN"
	CodeNoOpenSession         Code = "NO_OPEN_SESSION"
	CodeOpeningNotSubmitted   Code = "OPENING_NOT_SUBMITTED"
	CodeAlreadySubmitted      Code = "ALREADY_SUBMITTED"
	CodeSessionBranchMismatch Code = "SESSION_BRANCH_MISMATCH"
	CodeInvalidTransition     Code = "INVALID_TRANSITION"
	CodeAgentNoBranch         Code = "AGENT_NO_BRANCH"
	CodeBranchNotFound        Code = "BRANCH_NOT_FOUND"
	CodeMovementNotFound      Code = "MOVEMENT_NOT_FOUND"
	CodeAgentNotFound         Code = "AGENT_NOT_FOUND"
	CodeWalletNotFound        Code = "WALLET_NOT_FOUND"
	CodeCountNotFound         Code = "COUNT_NOT_FOUND"
	CodeSessionNotFound       Code = "SESSION_NOT_FOUND"
)

type Kind int

const (
	KindValidation Kind = iota
	KindStateConflict
	KindResourceConflict
	KindAuthorization
	KindNotFound
)

func (c Code) Kind() Kind {
	switch c {
	case CodeInvalidAmount, CodeInvalidNotes, CodeInvalidCount, CodeAgentNoBranch:
		return KindValidation
	case CodeInsufficientBalance:
		return KindResourceConflict
	case CodeForbidden, CodeSelfApproval:
		return KindAuthorization
	case CodeBranchNotFound, CodeMovementNotFound, CodeAgentNotFound, CodeWalletNotFound, CodeCountNotFound, CodeSessionNotFound:
		return KindNotFound
	default:
		return KindStateConflict
	}
}

// Result is what every mutating operation hands back: either success with
// the affected identifiers, or a failure code and message.
type Result struct {
	Success      bool   `json:"success"`
	ErrorCode    Code   `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	MovementID   uint   `json:"movement_id,omitempty"`
	CountID      uint   `json:"count_id,omitempty"`
	SessionID    uint   `json:"session_id,omitempty"`
}

func OK() Result {
	return Result{Success: true}
}

func Fail(code Code, message string) Result {
	return Result{ErrorCode: code, ErrorMessage: message}
}

// Failure carries a business-rule violation out of a unit of work so the
// store rolls it back.
type Failure struct {
	Code    Code
	Message string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func Reject(code Code, message string) error {
	return &Failure{Code: code, Message: message}
}

func Rejectf(code Code, format string, args ...any) error {
	return &Failure{Code: code, Message: fmt.Sprintf(format, args...)}
}

func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Settle folds the outcome of a unit of work into the result contract.
// Business failures become a failed Result; anything else stays an error.
func Settle(res Result, err error) (Result, error) {
	if err == nil {
		return res, nil
	}
	if f, ok := AsFailure(err); ok {
		return Fail(f.Code, f.Message), nil
	}
	return Result{}, err
}
