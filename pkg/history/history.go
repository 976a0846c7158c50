// Package history is the transaction query engine: filtered listings, recent
// activity, pages and summaries over the transactions collection.
//
// Queries never take the ledger's account locks. Each one works on a snapshot
// of the collections as the store returns them.
package history

import (
	"context"
	"fmt"
	"sort"
	"time"

	"ledger-engine/pkg/ledger"
	"ledger-engine/pkg/logging"
	"ledger-engine/pkg/metrics"
	"ledger-engine/pkg/model"
	"ledger-engine/pkg/money"
	"ledger-engine/pkg/store"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// MaxPageSize bounds Page requests.
const MaxPageSize = 100

// DefaultReadTimeout bounds a shared store read.
const DefaultReadTimeout = 10 * time.Second

// Options carries optional engine dependencies.
type Options struct {
	// Location resolves filter day boundaries (default time.Local)
	Location *time.Location

	// ReadTimeout bounds a store read shared by concurrent queries
	// (default DefaultReadTimeout)
	ReadTimeout time.Duration

	Logger  *logging.Logger
	Metrics metrics.Collector
}

// Engine answers transaction queries.
type Engine struct {
	store       store.Store
	loc         *time.Location
	readTimeout time.Duration
	sf          singleflight.Group
	logger      *logging.Logger
	metrics     metrics.Collector
}

// Page is one page of a filtered listing.
type Page struct {
	Items    []model.Transaction `json:"items"`
	Total    int                 `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
}

// Summary aggregates the transactions matching a filter.
type Summary struct {
	Deposits    money.Amount `json:"totalDeposits"`
	Withdrawals money.Amount `json:"totalWithdrawals"`
	Net         money.Amount `json:"net"`
	Count       int          `json:"count"`
}

// New creates a query engine over s.
func New(s store.Store, opts Options) *Engine {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &Engine{
		store:       s,
		loc:         loc,
		readTimeout: readTimeout,
		logger:      logger.Named("history"),
		metrics:     metrics.OrNoOp(opts.Metrics),
	}
}

// All returns the owner's transactions matching f, newest first.
func (e *Engine) All(ctx context.Context, ownerID string, f Filter) ([]model.Transaction, error) {
	start := time.Now()
	if err := f.Validate(); err != nil {
		return nil, err
	}

	txs, err := e.load(ctx, "transactions", ownerID, f)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordQuery("all", len(txs), time.Since(start))
	return txs, nil
}

// Recent returns at most limit of the owner's newest transactions.
func (e *Engine) Recent(ctx context.Context, ownerID string, limit int) ([]model.Transaction, error) {
	start := time.Now()
	if limit < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}

	txs, err := e.load(ctx, "recent", ownerID, Filter{})
	if err != nil {
		return nil, err
	}
	if len(txs) > limit {
		txs = txs[:limit]
	}
	e.metrics.RecordQuery("recent", len(txs), time.Since(start))
	return txs, nil
}

// Page returns the page'th slice (1-based) of the listing All would return.
func (e *Engine) Page(ctx context.Context, ownerID string, f Filter, page, pageSize int) (Page, error) {
	start := time.Now()
	if page < 1 || pageSize < 1 || pageSize > MaxPageSize {
		return Page{}, fmt.Errorf("%w: page %d, size %d", ErrInvalidPage, page, pageSize)
	}
	if err := f.Validate(); err != nil {
		return Page{}, err
	}

	txs, err := e.load(ctx, "page", ownerID, f)
	if err != nil {
		return Page{}, err
	}

	result := Page{Items: []model.Transaction{}, Total: len(txs), Page: page, PageSize: pageSize}
	if from := (page - 1) * pageSize; from < len(txs) {
		result.Items = txs[from:min(from+pageSize, len(txs))]
	}
	e.metrics.RecordQuery("page", len(result.Items), time.Since(start))
	return result, nil
}

// Summary totals the owner's transactions matching f. The kind in f is honored,
// so a deposit-only filter yields zero withdrawals.
func (e *Engine) Summary(ctx context.Context, ownerID string, f Filter) (Summary, error) {
	start := time.Now()
	if err := f.Validate(); err != nil {
		return Summary{}, err
	}

	txs, err := e.load(ctx, "summary", ownerID, f)
	if err != nil {
		return Summary{}, err
	}

	var s Summary
	for _, tx := range txs {
		var err error
		switch tx.Kind {
		case model.KindDeposit:
			s.Deposits, err = s.Deposits.Add(tx.Amount)
		case model.KindWithdrawal:
			s.Withdrawals, err = s.Withdrawals.Add(tx.Amount)
		}
		if err != nil {
			return Summary{}, e.fail("summary", ownerID, err)
		}
	}
	net, err := s.Deposits.Sub(s.Withdrawals)
	if err != nil {
		return Summary{}, e.fail("summary", ownerID, err)
	}
	s.Net = net
	s.Count = len(txs)

	e.metrics.RecordQuery("summary", len(txs), time.Since(start))
	return s, nil
}

// load returns the owner's transactions matching f, sorted newest first.
// Unknown owners fail with ledger.ErrAccountNotFound.
func (e *Engine) load(ctx context.Context, op, ownerID string, f Filter) ([]model.Transaction, error) {
	accountRecords, err := e.read(ctx, model.CollectionAccounts)
	if store.IsNotFound(err) {
		return nil, &ledger.Error{Op: op, OwnerID: ownerID, Kind: ledger.ErrAccountNotFound}
	}
	if err != nil {
		return nil, e.fail(op, ownerID, err)
	}
	accounts, err := model.DecodeAccounts(accountRecords)
	if err != nil {
		return nil, e.fail(op, ownerID, err)
	}
	if model.FindAccount(accounts, ownerID) < 0 {
		return nil, &ledger.Error{Op: op, OwnerID: ownerID, Kind: ledger.ErrAccountNotFound}
	}

	records, err := e.read(ctx, model.CollectionTransactions)
	if err != nil && !store.IsNotFound(err) {
		return nil, e.fail(op, ownerID, err)
	}
	all, err := model.DecodeTransactions(records)
	if err != nil {
		return nil, e.fail(op, ownerID, err)
	}

	m := f.compile(e.loc)
	out := make([]model.Transaction, 0)
	for _, tx := range all {
		if tx.OwnerID == ownerID && m.match(tx) {
			out = append(out, tx)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// read collapses concurrent reads of the same collection into one store call.
// Callers only decode the shared records, never modify them.
//
// The shared call is detached from the caller that started it, so a caller
// giving up only stops its own wait.
func (e *Engine) read(ctx context.Context, collection string) ([]store.Record, error) {
	ch := e.sf.DoChan(collection, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.readTimeout)
		defer cancel()
		return e.store.Read(readCtx, collection)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]store.Record), nil
	}
}

func (e *Engine) fail(op, ownerID string, err error) error {
	e.logger.Error("Transaction query failed",
		logging.OwnerID(ownerID),
		zap.String("query", op),
		zap.Error(err))
	return &ledger.Error{Op: op, OwnerID: ownerID, Kind: ledger.ErrStoreUnavailable, Err: err}
}

// sortNewestFirst orders by timestamp descending. Equal timestamps order by
// id descending; ids are snowflakes, so a longer id is a later one.
func sortNewestFirst(txs []model.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if len(a.ID) != len(b.ID) {
			return len(a.ID) > len(b.ID)
		}
		return a.ID > b.ID
	})
}
