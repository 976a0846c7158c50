package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"ledger-engine/pkg/store"
)

// ErrCorruptRecord is returned when a stored record cannot be decoded or violates
// a record invariant. It is never replaced by a zero value.
var ErrCorruptRecord = errors.New("model: corrupt record")

// Validate checks the account invariants.
func (a Account) Validate() error {
	switch {
	case a.OwnerID == "":
		return errors.New("missing ownerId")
	case a.AccountNumber == "":
		return errors.New("missing accountNumber")
	case a.Balance < 0:
		return fmt.Errorf("negative balance %s", a.Balance)
	}
	return nil
}

// Validate checks the transaction invariants.
func (t Transaction) Validate() error {
	switch {
	case t.ID == "":
		return errors.New("missing id")
	case t.OwnerID == "":
		return errors.New("missing ownerId")
	case !t.Kind.Valid():
		return fmt.Errorf("unknown kind %q", t.Kind)
	case !t.Amount.IsPositive():
		return fmt.Errorf("non-positive amount %s", t.Amount)
	case t.BalanceAfter < 0:
		return fmt.Errorf("negative balanceAfter %s", t.BalanceAfter)
	case t.Timestamp.IsZero():
		return errors.New("missing timestamp")
	}
	return nil
}

type validator interface {
	Validate() error
}

func decode[T validator](collection string, records []store.Record) ([]T, error) {
	out := make([]T, 0, len(records))
	for i, rec := range records {
		var v T
		if err := json.Unmarshal(rec, &v); err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ErrCorruptRecord, collection, i, err)
		}
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", ErrCorruptRecord, collection, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func encode[T any](collection string, values []T) ([]store.Record, error) {
	out := make([]store.Record, 0, len(values))
	for i, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("model: encode %s[%d]: %w", collection, i, err)
		}
		out = append(out, data)
	}
	return out, nil
}

// DecodeAccounts decodes and validates the accounts collection.
func DecodeAccounts(records []store.Record) ([]Account, error) {
	return decode[Account](CollectionAccounts, records)
}

// EncodeAccounts encodes the accounts collection.
func EncodeAccounts(accounts []Account) ([]store.Record, error) {
	return encode(CollectionAccounts, accounts)
}

// DecodeTransactions decodes and validates the transactions collection.
func DecodeTransactions(records []store.Record) ([]Transaction, error) {
	return decode[Transaction](CollectionTransactions, records)
}

// EncodeTransaction encodes a single transaction record.
func EncodeTransaction(t Transaction) (store.Record, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("model: encode transaction %s: %w", t.ID, err)
	}
	return data, nil
}

// FindAccount returns the index of the owner's account, or -1.
func FindAccount(accounts []Account, ownerID string) int {
	for i := range accounts {
		if accounts[i].OwnerID == ownerID {
			return i
		}
	}
	return -1
}
