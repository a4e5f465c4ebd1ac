package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and transport mapping
type Kind string

const (
	KindValidation    Kind = "validation"
	KindState         Kind = "state"
	KindAuthorization Kind = "authorization"
	KindResource      Kind = "resource"
	KindTransfer      Kind = "transfer"
	KindInternal      Kind = "internal"
)

// Error is a domain error with a stable code
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors carrying the same code, so a sentinel compares equal to
// any copy produced by WithMessage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithMessage returns a copy of the error with a more specific message
func (e *Error) WithMessage(format string, args ...interface{}) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps the error kind onto an HTTP status code
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindState:
		if e.Code == ErrNotFound.Code || e.Code == ErrLoanNotFound.Code {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case KindAuthorization:
		if e.Code == ErrUnauthenticated.Code {
			return http.StatusUnauthorized
		}
		return http.StatusForbidden
	case KindResource:
		return http.StatusUnprocessableEntity
	case KindTransfer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// As extracts the domain error from err, if any
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, KindInternal for foreign errors
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Validation errors
var (
	ErrInvalidAmount    = newErr(KindValidation, "InvalidAmount", "amount is zero or exceeds the maximum")
	ErrInvalidTerm      = newErr(KindValidation, "InvalidTerm", "term is zero or exceeds the maximum")
	ErrZeroAmount       = newErr(KindValidation, "ZeroAmount", "amount must be positive")
	ErrWindowTooShort   = newErr(KindValidation, "WindowTooShort", "voting window is below the minimum")
	ErrInvalidBorrower  = newErr(KindValidation, "InvalidBorrower", "borrower identity is empty or does not match")
	ErrTooSmall         = newErr(KindValidation, "TooSmall", "committee size is below the minimum")
	ErrLockTimeTooShort = newErr(KindValidation, "LockTimeTooShort", "lock time may only increase")
	ErrInvalidIdentity  = newErr(KindValidation, "InvalidIdentity", "identity is empty")
	ErrInvalidRole      = newErr(KindValidation, "InvalidRole", "unknown role")
)

// State errors
var (
	ErrNotFound               = newErr(KindState, "NotFound", "entity not found")
	ErrNotInApprovableState   = newErr(KindState, "NotInApprovableState", "application is not waiting for approval")
	ErrWrongState             = newErr(KindState, "WrongState", "operation not allowed in the current state")
	ErrBallotFinished         = newErr(KindState, "BallotFinished", "ballot is finished")
	ErrDeadlinePassed         = newErr(KindState, "DeadlinePassed", "voting deadline has passed")
	ErrDeadlineNotReached     = newErr(KindState, "DeadlineNotReached", "voting is still open")
	ErrAlreadyVoted           = newErr(KindState, "AlreadyVoted", "caller has already voted")
	ErrCommitteeAssigned      = newErr(KindState, "CommitteeAssigned", "ballot committee already assigned or requested")
	ErrApplicationNotApproved = newErr(KindState, "ApplicationNotApproved", "application is not approved")
	ErrAlreadyGranted         = newErr(KindState, "AlreadyGranted", "loan already granted for application")
	ErrLoanNotFound           = newErr(KindState, "LoanNotFound", "loan not found")
	ErrLoanRepaid             = newErr(KindState, "LoanRepaid", "loan is fully repaid")
	ErrLockPeriodActive       = newErr(KindState, "LockPeriodActive", "deposit lock period is still active")
	ErrNothingToDistribute    = newErr(KindState, "NothingToDistribute", "no interest to distribute")
	ErrNoInvestors            = newErr(KindState, "NoInvestors", "investor index is empty")
)

// Authorization errors
var (
	ErrUnauthenticated       = newErr(KindAuthorization, "Unauthenticated", "caller identity is missing")
	ErrUnauthorized          = newErr(KindAuthorization, "Unauthorized", "caller lacks the required role")
	ErrIncubationNotComplete = newErr(KindAuthorization, "IncubationNotComplete", "membership incubation is not complete")
	ErrNotMember             = newErr(KindAuthorization, "NotMember", "caller is not a member")
	ErrNotEligible           = newErr(KindAuthorization, "NotEligible", "caller is not on the ballot committee")
	ErrWrongPayer            = newErr(KindAuthorization, "WrongPayer", "caller is not the loan borrower")
)

// Resource errors
var (
	ErrInsufficientBalance = newErr(KindResource, "InsufficientBalance", "amount exceeds balance")
	ErrInsufficientPool    = newErr(KindResource, "InsufficientPool", "pool does not cover the loan")
	ErrInsufficientPayment = newErr(KindResource, "InsufficientPayment", "payment does not cover principal and interest")
	ErrInsufficientFee     = newErr(KindResource, "InsufficientFee", "randomness fee cannot be paid")
)

// ErrTransferFailed is returned when a value transfer is refused; the
// operation that attempted it has been rolled back.
var ErrTransferFailed = newErr(KindTransfer, "TransferFailed", "value transfer failed")
