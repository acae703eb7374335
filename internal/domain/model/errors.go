package model

import (
	"errors"
	"strings"
)

// Sentinel error kinds. Callers match them with errors.Is.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrCapacityExceeded     = errors.New("capacity exceeded")
	ErrSupplyExhausted      = errors.New("supply exhausted")
	ErrProvisioningFailed   = errors.New("provisioning failed")
	ErrInvalidClaim         = errors.New("invalid claim")
	ErrAlreadyConsumed      = errors.New("claim already consumed")
	ErrMalformedAddress     = errors.New("malformed address")
	ErrMintSubmissionFailed = errors.New("mint submission failed")
	ErrConfirmationUnknown  = errors.New("confirmation unknown")
	ErrNotFound             = errors.New("not found")
	ErrClaimPending         = errors.New("claim pending reconciliation")
	ErrIntegrity            = errors.New("ledger integrity violation")
)

// Error carries the failing operation, its kind and the underlying cause.
type Error struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewKind returns an error of the given kind without a cause.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// NewKindMsg returns an error of the given kind with a detail message.
func NewKindMsg(op string, kind error, msg string) error {
	return &Error{Op: op, Kind: kind, Msg: msg}
}

// WrapKind returns an error of the given kind wrapping err.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf returns the first known kind found in err's chain, or nil.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// kinds is ordered so that the most specific outcome wins when an error
// chain carries more than one kind.
var kinds = []error{
	ErrIntegrity,
	ErrProvisioningFailed,
	ErrConfirmationUnknown,
	ErrMintSubmissionFailed,
	ErrAlreadyConsumed,
	ErrClaimPending,
	ErrSupplyExhausted,
	ErrCapacityExceeded,
	ErrMalformedAddress,
	ErrInvalidClaim,
	ErrNotFound,
	ErrInvalidInput,
}
