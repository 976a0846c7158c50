package model

import (
	"errors"
	"testing"
	"time"

	"ledger-engine/pkg/store"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		input   string
		want    Kind
		wantErr bool
	}{
		{input: "deposit", want: KindDeposit},
		{input: "withdraw", want: KindWithdrawal},
		{input: "Withdrawal", want: KindWithdrawal},
		{input: " DEPOSIT ", want: KindDeposit},
		{input: "transfer", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseKind(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownKind) {
					t.Errorf("Expected ErrUnknownKind, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestKind_DefaultDescription(t *testing.T) {
	if got := KindDeposit.DefaultDescription(); got != "Deposit" {
		t.Errorf("Expected Deposit, got %q", got)
	}
	if got := KindWithdrawal.DefaultDescription(); got != "Withdrawal" {
		t.Errorf("Expected Withdrawal, got %q", got)
	}
}

func TestAccountsRoundTrip(t *testing.T) {
	accounts := []Account{
		{OwnerID: "user_1", Balance: 1000000, AccountNumber: "ACC1234567890", CreatedAt: time.Now().UTC()},
		{OwnerID: "user_2", Balance: 0, AccountNumber: "ACC0987654321", CreatedAt: time.Now().UTC()},
	}

	records, err := EncodeAccounts(accounts)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeAccounts(records)
	if err != nil {
		t.Fatal(err)
	}
	if len(decoded) != 2 || decoded[0].Balance != 1000000 || decoded[1].AccountNumber != "ACC0987654321" {
		t.Errorf("Unexpected decoded accounts: %+v", decoded)
	}
	if FindAccount(decoded, "user_2") != 1 || FindAccount(decoded, "nobody") != -1 {
		t.Error("FindAccount returned wrong index")
	}
}

func TestDecode_CorruptRecords(t *testing.T) {
	tests := []struct {
		name    string
		records []store.Record
		decode  func([]store.Record) error
	}{
		{
			name:    "malformed json",
			records: []store.Record{store.Record(`{"ownerId":`)},
			decode:  func(r []store.Record) error { _, err := DecodeAccounts(r); return err },
		},
		{
			name:    "negative balance",
			records: []store.Record{store.Record(`{"ownerId":"u","balance":"-1.00","accountNumber":"ACC1"}`)},
			decode:  func(r []store.Record) error { _, err := DecodeAccounts(r); return err },
		},
		{
			name:    "float balance with sub-cent precision",
			records: []store.Record{store.Record(`{"ownerId":"u","balance":0.001,"accountNumber":"ACC1"}`)},
			decode:  func(r []store.Record) error { _, err := DecodeAccounts(r); return err },
		},
		{
			name: "unknown kind",
			records: []store.Record{store.Record(
				`{"id":"1","ownerId":"u","kind":"transfer","amount":"1.00","timestamp":"2024-01-01T00:00:00Z","balanceAfter":"1.00"}`)},
			decode: func(r []store.Record) error { _, err := DecodeTransactions(r); return err },
		},
		{
			name: "zero amount",
			records: []store.Record{store.Record(
				`{"id":"1","ownerId":"u","kind":"deposit","amount":"0","timestamp":"2024-01-01T00:00:00Z","balanceAfter":"1.00"}`)},
			decode: func(r []store.Record) error { _, err := DecodeTransactions(r); return err },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.decode(tt.records); !errors.Is(err, ErrCorruptRecord) {
				t.Errorf("Expected ErrCorruptRecord, got %v", err)
			}
		})
	}
}

func TestEncodeTransaction(t *testing.T) {
	tx := Transaction{
		ID:           "42",
		OwnerID:      "user_1",
		Kind:         KindDeposit,
		Amount:       300000,
		Description:  "Salary",
		Timestamp:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		BalanceAfter: 1300000,
	}

	rec, err := EncodeTransaction(tx)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeTransactions([]store.Record{rec})
	if err != nil {
		t.Fatal(err)
	}
	if decoded[0] != tx {
		t.Errorf("Expected %+v, got %+v", tx, decoded[0])
	}
}
