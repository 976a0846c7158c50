// Package ledger implements the account ledger: opening accounts, deposits,
// withdrawals and balance lookups over a store.Store.
//
// Each mutation reads the account, checks it, writes the new balance and
// appends the transaction inside one store.Update. Mutations for the same owner
// are additionally serialized in-process by a per-owner mutex, so they never
// race each other for an optimistic retry; different owners proceed in parallel.
package ledger

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"ledger-engine/pkg/logging"
	"ledger-engine/pkg/metrics"
	"ledger-engine/pkg/model"
	"ledger-engine/pkg/money"
	"ledger-engine/pkg/store"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// Publisher is notified of every committed transaction.
type Publisher interface {
	PublishTransaction(ctx context.Context, tx model.Transaction) error
}

// Options carries optional ledger dependencies.
type Options struct {
	// NodeID is the snowflake node (0-1023). Processes sharing a store need distinct ids.
	NodeID int64
	// Clock returns transaction timestamps (default time.Now)
	Clock func() time.Time
	// Random is the account number entropy source (default crypto/rand)
	Random io.Reader
	// ExpectedAccounts sizes the account number filter
	ExpectedAccounts uint

	Logger    *logging.Logger
	Metrics   metrics.Collector
	Publisher Publisher
}

// Ledger is the account ledger.
type Ledger struct {
	store     store.Store
	locks     accountLocks
	ids       *snowflake.Node
	clock     func() time.Time
	numbers   *numberGenerator
	logger    *logging.Logger
	metrics   metrics.Collector
	publisher Publisher
}

// Result is the outcome of a successful deposit or withdrawal.
type Result struct {
	Transaction model.Transaction `json:"transaction"`
	NewBalance  money.Amount      `json:"newBalance"`
}

// Balance is the current state of an account.
type Balance struct {
	Balance       money.Amount `json:"balance"`
	AccountNumber string       `json:"accountNumber"`
}

// New creates a ledger over s.
func New(s store.Store, opts Options) (*Ledger, error) {
	node, err := snowflake.NewNode(opts.NodeID)
	if err != nil {
		return nil, fmt.Errorf("ledger: node id: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}

	return &Ledger{
		store:     s,
		ids:       node,
		clock:     clock,
		numbers:   newNumberGenerator(opts.Random, opts.ExpectedAccounts),
		logger:    logger.Named("ledger"),
		metrics:   metrics.OrNoOp(opts.Metrics),
		publisher: opts.Publisher,
	}, nil
}

var updateCollections = []string{model.CollectionAccounts, model.CollectionTransactions}

// OpenAccount creates the owner's account with a zero balance and a fresh account number.
func (l *Ledger) OpenAccount(ctx context.Context, ownerID string) (model.Account, error) {
	const op = "open"
	start := time.Now()

	if strings.TrimSpace(ownerID) == "" {
		return model.Account{}, l.reject(op, ownerID, 0, ErrAccountNotFound, nil, start)
	}

	unlock := l.lock(ownerID)
	defer unlock()

	var account model.Account
	err := l.store.Update(ctx, []string{model.CollectionAccounts}, func(data map[string][]store.Record) (map[string][]store.Record, error) {
		accounts, err := model.DecodeAccounts(data[model.CollectionAccounts])
		if err != nil {
			return nil, err
		}
		if model.FindAccount(accounts, ownerID) >= 0 {
			return nil, ErrAccountExists
		}

		number, err := l.numbers.next(accounts)
		if err != nil {
			return nil, err
		}
		account = model.Account{
			OwnerID:       ownerID,
			Balance:       0,
			AccountNumber: number,
			CreatedAt:     l.clock().UTC(),
		}

		records, err := model.EncodeAccounts(append(accounts, account))
		if err != nil {
			return nil, err
		}
		return map[string][]store.Record{model.CollectionAccounts: records}, nil
	})
	if err != nil {
		return model.Account{}, l.reject(op, ownerID, 0, classify(err), err, start)
	}

	l.metrics.RecordMutation(op, metrics.OutcomeSuccess, time.Since(start))
	l.logger.Info("Account opened",
		logging.OwnerID(ownerID),
		zap.String("account_number", account.AccountNumber))
	return account, nil
}

// Deposit adds amount to the owner's balance and records a deposit transaction.
func (l *Ledger) Deposit(ctx context.Context, ownerID string, amount money.Amount, description string) (Result, error) {
	return l.mutate(ctx, model.KindDeposit, ownerID, amount, description)
}

// Withdraw removes amount from the owner's balance and records a withdrawal
// transaction. It fails with ErrInsufficientFunds if the balance is lower than amount.
func (l *Ledger) Withdraw(ctx context.Context, ownerID string, amount money.Amount, description string) (Result, error) {
	return l.mutate(ctx, model.KindWithdrawal, ownerID, amount, description)
}

func (l *Ledger) mutate(ctx context.Context, kind model.Kind, ownerID string, amount money.Amount, description string) (Result, error) {
	op := string(kind)
	start := time.Now()

	if !amount.IsPositive() {
		return Result{}, l.reject(op, ownerID, amount, ErrInvalidAmount, nil, start)
	}
	if strings.TrimSpace(ownerID) == "" {
		return Result{}, l.reject(op, ownerID, amount, ErrAccountNotFound, nil, start)
	}

	description = strings.TrimSpace(description)
	if description == "" {
		description = kind.DefaultDescription()
	}

	result, err := l.commit(ctx, kind, ownerID, amount, description)
	if err != nil {
		return Result{}, l.reject(op, ownerID, amount, classify(err), err, start)
	}

	l.metrics.RecordMutation(op, metrics.OutcomeSuccess, time.Since(start))
	l.logger.Info("Transaction recorded",
		logging.OwnerID(ownerID),
		zap.String("kind", op),
		logging.Amount("amount", amount),
		logging.Amount("balance_after", result.NewBalance),
		logging.TransactionID(result.Transaction.ID))

	l.publish(ctx, result.Transaction)
	return result, nil
}

// commit runs the read-check-write-append unit under the owner's lock.
func (l *Ledger) commit(ctx context.Context, kind model.Kind, ownerID string, amount money.Amount, description string) (Result, error) {
	unlock := l.lock(ownerID)
	defer unlock()

	var result Result
	err := l.store.Update(ctx, updateCollections, func(data map[string][]store.Record) (map[string][]store.Record, error) {
		accounts, err := model.DecodeAccounts(data[model.CollectionAccounts])
		if err != nil {
			return nil, err
		}
		i := model.FindAccount(accounts, ownerID)
		if i < 0 {
			return nil, ErrAccountNotFound
		}

		balance, err := apply(kind, accounts[i].Balance, amount)
		if err != nil {
			return nil, err
		}

		tx := model.Transaction{
			ID:           l.ids.Generate().String(),
			OwnerID:      ownerID,
			Kind:         kind,
			Amount:       amount,
			Description:  description,
			Timestamp:    l.clock().UTC(),
			BalanceAfter: balance,
		}
		txRecord, err := model.EncodeTransaction(tx)
		if err != nil {
			return nil, err
		}

		accounts[i].Balance = balance
		accountRecords, err := model.EncodeAccounts(accounts)
		if err != nil {
			return nil, err
		}

		result = Result{Transaction: tx, NewBalance: balance}
		return map[string][]store.Record{
			model.CollectionAccounts:     accountRecords,
			model.CollectionTransactions: append(data[model.CollectionTransactions], txRecord),
		}, nil
	})
	return result, err
}

// apply computes the balance after a mutation.
func apply(kind model.Kind, balance, amount money.Amount) (money.Amount, error) {
	switch kind {
	case model.KindDeposit:
		next, err := balance.Add(amount)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		return next, nil
	case model.KindWithdrawal:
		if amount > balance {
			return 0, ErrInsufficientFunds
		}
		return balance.Sub(amount)
	default:
		return 0, fmt.Errorf("%w: kind %q", ErrInvalidAmount, kind)
	}
}

// Balance returns the owner's current balance and account number.
func (l *Ledger) Balance(ctx context.Context, ownerID string) (Balance, error) {
	account, err := l.Account(ctx, ownerID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{Balance: account.Balance, AccountNumber: account.AccountNumber}, nil
}

// Account returns the owner's account.
func (l *Ledger) Account(ctx context.Context, ownerID string) (model.Account, error) {
	const op = "balance"

	records, err := l.store.Read(ctx, model.CollectionAccounts)
	if store.IsNotFound(err) {
		return model.Account{}, &Error{Op: op, OwnerID: ownerID, Kind: ErrAccountNotFound}
	}
	if err != nil {
		l.logger.Error("Balance read failed", logging.OwnerID(ownerID), zap.Error(err))
		return model.Account{}, &Error{Op: op, OwnerID: ownerID, Kind: ErrStoreUnavailable, Err: err}
	}

	accounts, err := model.DecodeAccounts(records)
	if err != nil {
		l.logger.Error("Accounts collection is corrupt", logging.OwnerID(ownerID), zap.Error(err))
		return model.Account{}, &Error{Op: op, OwnerID: ownerID, Kind: ErrStoreUnavailable, Err: err}
	}

	i := model.FindAccount(accounts, ownerID)
	if i < 0 {
		return model.Account{}, &Error{Op: op, OwnerID: ownerID, Kind: ErrAccountNotFound}
	}
	return accounts[i], nil
}

func (l *Ledger) lock(ownerID string) (unlock func()) {
	start := time.Now()
	unlock = l.locks.lock(ownerID)
	l.metrics.RecordLockWait(time.Since(start))
	return unlock
}

// reject builds the failure outcome, logs it and records it.
func (l *Ledger) reject(op, ownerID string, amount money.Amount, kind, cause error, start time.Time) error {
	if cause == kind {
		cause = nil
	}
	err := &Error{Op: op, OwnerID: ownerID, Amount: amount, Kind: kind, Err: cause}

	fields := []zap.Field{logging.OwnerID(ownerID), zap.String("op", op), logging.Amount("amount", amount)}
	if kind == ErrStoreUnavailable {
		l.logger.Error("Ledger operation failed", append(fields, zap.Error(err))...)
	} else {
		l.logger.Warn("Ledger operation rejected", append(fields, zap.String("reason", outcome(kind)))...)
	}

	l.metrics.RecordMutation(op, outcome(kind), time.Since(start))
	return err
}

func outcome(kind error) string {
	switch kind {
	case ErrInvalidAmount:
		return metrics.OutcomeInvalidAmount
	case ErrAccountNotFound:
		return metrics.OutcomeAccountNotFound
	case ErrInsufficientFunds:
		return metrics.OutcomeInsufficientFunds
	case ErrAccountExists:
		return metrics.OutcomeAccountExists
	default:
		return metrics.OutcomeStoreUnavailable
	}
}

// publish notifies the publisher. Failures are logged; the transaction is
// already committed.
func (l *Ledger) publish(ctx context.Context, tx model.Transaction) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishTransaction(ctx, tx); err != nil {
		l.logger.Warn("Transaction event not published",
			logging.TransactionID(tx.ID),
			logging.OwnerID(tx.OwnerID),
			zap.Error(err))
	}
}
