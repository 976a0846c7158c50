package ledger

import (
	"errors"
	"fmt"
	"strings"

	"ledger-engine/pkg/money"
)

// Failure kinds. Every failed ledger operation yields exactly one of these,
// reachable with errors.Is through an *Error.
var (
	// ErrInvalidAmount is returned when the amount is zero, negative or out of range
	ErrInvalidAmount = errors.New("ledger: invalid amount")

	// ErrAccountNotFound is returned when the owner has no account
	ErrAccountNotFound = errors.New("ledger: account not found")

	// ErrInsufficientFunds is returned when a withdrawal exceeds the balance
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrStoreUnavailable is returned when the store fails or holds unreadable data
	ErrStoreUnavailable = errors.New("ledger: store unavailable")

	// ErrAccountExists is returned when opening a second account for an owner
	ErrAccountExists = errors.New("ledger: account already exists")
)

// Error is the failure outcome of a ledger operation.
type Error struct {
	// Op is the operation name ("deposit", "withdraw", "balance", "open")
	Op string
	// OwnerID is the owner the operation ran for
	OwnerID string
	// Amount is the attempted amount; zero for operations without one
	Amount money.Amount
	// Kind is one of the package's failure sentinels
	Kind error
	// Err is the underlying cause, if any
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", e.Op, e.OwnerID)
	if e.Amount != 0 {
		fmt.Fprintf(&b, " amount %s", e.Amount)
	}
	fmt.Fprintf(&b, ": %v", e.Kind)
	if e.Err != nil && e.Err != e.Kind {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap exposes both the failure kind and the cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the failure kind carried by err, or nil when err is not a ledger failure.
func KindOf(err error) error {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	for _, kind := range []error{ErrInvalidAmount, ErrAccountNotFound, ErrInsufficientFunds, ErrStoreUnavailable, ErrAccountExists} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// classify maps an error surfaced by a store update to a failure kind.
// Business sentinels raised inside the update keep their kind; everything
// else is a store failure.
func classify(err error) error {
	for _, kind := range []error{ErrInvalidAmount, ErrAccountNotFound, ErrInsufficientFunds, ErrAccountExists} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrStoreUnavailable
}
