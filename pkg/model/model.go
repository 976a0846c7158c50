// Package model defines the persisted ledger records and their codec.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"ledger-engine/pkg/money"
)

// Collection names in the persistent store.
const (
	CollectionAccounts     = "accounts"
	CollectionTransactions = "transactions"
)

// Kind is the closed set of balance-changing operations.
type Kind string

const (
	// KindDeposit increases the balance.
	KindDeposit Kind = "deposit"
	// KindWithdrawal decreases the balance.
	KindWithdrawal Kind = "withdraw"
)

// ErrUnknownKind is returned by ParseKind for values outside the closed set.
var ErrUnknownKind = errors.New("model: unknown transaction kind")

// ParseKind maps wire values to a Kind. "withdrawal" is accepted as an alias.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(KindDeposit):
		return KindDeposit, nil
	case string(KindWithdrawal), "withdrawal":
		return KindWithdrawal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Valid reports whether k is one of the defined kinds.
func (k Kind) Valid() bool {
	return k == KindDeposit || k == KindWithdrawal
}

// DefaultDescription is used when a mutation is recorded without a description.
func (k Kind) DefaultDescription() string {
	switch k {
	case KindDeposit:
		return "Deposit"
	case KindWithdrawal:
		return "Withdrawal"
	default:
		return ""
	}
}

// Account is the single account owned by an owner.
type Account struct {
	OwnerID       string       `json:"ownerId"`
	Balance       money.Amount `json:"balance"`
	AccountNumber string       `json:"accountNumber"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Transaction is an immutable audit record of one successful mutation.
type Transaction struct {
	ID           string       `json:"id"`
	OwnerID      string       `json:"ownerId"`
	Kind         Kind         `json:"kind"`
	Amount       money.Amount `json:"amount"`
	Description  string       `json:"description"`
	Timestamp    time.Time    `json:"timestamp"`
	BalanceAfter money.Amount `json:"balanceAfter"`
}
