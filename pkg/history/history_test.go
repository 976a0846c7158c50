package history

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"ledger-engine/pkg/ledger"
	metricsmemory "ledger-engine/pkg/metrics/memory"
	"ledger-engine/pkg/model"
	"ledger-engine/pkg/money"
	"ledger-engine/pkg/store"
	"ledger-engine/pkg/store/memory"
	"ledger-engine/pkg/store/mock"
)

func day(d, h int) time.Time {
	return time.Date(2024, 3, d, h, 0, 0, 0, time.UTC)
}

// fixture writes two accounts and a transaction history for them.
func fixture(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	accounts, err := model.EncodeAccounts([]model.Account{
		{OwnerID: "alice", Balance: 0, AccountNumber: "ACC0000000001"},
		{OwnerID: "bob", Balance: 0, AccountNumber: "ACC0000000002"},
		{OwnerID: "carol", Balance: 0, AccountNumber: "ACC0000000003"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Write(ctx, model.CollectionAccounts, accounts); err != nil {
		t.Fatal(err)
	}

	txs := []model.Transaction{
		{ID: "100", OwnerID: "alice", Kind: model.KindDeposit, Amount: 10000, Timestamp: day(1, 9), BalanceAfter: 10000},
		{ID: "101", OwnerID: "bob", Kind: model.KindDeposit, Amount: 500, Timestamp: day(1, 10), BalanceAfter: 500},
		{ID: "102", OwnerID: "alice", Kind: model.KindWithdrawal, Amount: 2500, Timestamp: day(2, 0), BalanceAfter: 7500},
		{ID: "103", OwnerID: "alice", Kind: model.KindDeposit, Amount: 300, Timestamp: day(3, 23), BalanceAfter: 7800},
		{ID: "99", OwnerID: "alice", Kind: model.KindWithdrawal, Amount: 800, Timestamp: day(5, 12), BalanceAfter: 7000},
		{ID: "104", OwnerID: "alice", Kind: model.KindDeposit, Amount: 1000, Timestamp: day(5, 12), BalanceAfter: 8000},
	}
	records := make([]store.Record, 0, len(txs))
	for _, tx := range txs {
		tx.Description = tx.Kind.DefaultDescription()
		rec, err := model.EncodeTransaction(tx)
		if err != nil {
			t.Fatal(err)
		}
		records = append(records, rec)
	}
	if err := s.Write(ctx, model.CollectionTransactions, records); err != nil {
		t.Fatal(err)
	}
}

func ids(txs []model.Transaction) string {
	out := ""
	for i, tx := range txs {
		if i > 0 {
			out += ","
		}
		out += tx.ID
	}
	return out
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	s := memory.New(memory.Config{})
	fixture(t, s)
	return New(s, Options{Location: time.UTC})
}

func TestEngine_All(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{name: "no filter", filter: Filter{}, want: "104,99,103,102,100"},
		{name: "deposits", filter: Filter{Kind: model.KindDeposit}, want: "104,103,100"},
		{name: "withdrawals", filter: Filter{Kind: model.KindWithdrawal}, want: "99,102"},
		{name: "single day inclusive", filter: Filter{StartDate: day(3, 0), EndDate: day(3, 0)}, want: "103"},
		{name: "start only", filter: Filter{StartDate: day(2, 0)}, want: "104,99,103,102"},
		{name: "end only", filter: Filter{EndDate: day(2, 0)}, want: "102,100"},
		{name: "range and kind", filter: Filter{Kind: model.KindDeposit, StartDate: day(1, 0), EndDate: day(3, 0)}, want: "103,100"},
		{name: "empty range", filter: Filter{StartDate: day(20, 0), EndDate: day(21, 0)}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.All(context.Background(), "alice", tt.filter)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got == nil {
				t.Fatal("Expected a non-nil slice")
			}
			if ids(got) != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, ids(got))
			}
		})
	}
}

func TestEngine_AllReversedRange(t *testing.T) {
	e := newEngine(t)
	got, err := e.All(context.Background(), "alice", Filter{StartDate: day(5, 0), EndDate: day(1, 0)})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Expected an empty list, got %q", ids(got))
	}
}

func TestEngine_DayBoundariesUseLocation(t *testing.T) {
	s := memory.New(memory.Config{})
	fixture(t, s)
	loc := time.FixedZone("UTC-5", -5*60*60)
	e := New(s, Options{Location: loc})

	got, err := e.All(context.Background(), "alice", Filter{StartDate: day(1, 0), EndDate: day(1, 0)})
	if err != nil {
		t.Fatal(err)
	}
	// 102 at 2024-03-02T00:00Z is 2024-03-01 19:00 local.
	if ids(got) != "102,100" {
		t.Errorf("Expected \"102,100\", got %q", ids(got))
	}
}

func TestEngine_OnlyOwnTransactions(t *testing.T) {
	e := newEngine(t)
	got, err := e.All(context.Background(), "bob", Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if ids(got) != "101" {
		t.Errorf("Expected only bob's transaction, got %q", ids(got))
	}

	got, err = e.All(context.Background(), "carol", Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no transactions for carol, got %d", len(got))
	}
}

func TestEngine_Recent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		limit int
		want  string
	}{
		{limit: 0, want: ""},
		{limit: 1, want: "104"},
		{limit: 3, want: "104,99,103"},
		{limit: 50, want: "104,99,103,102,100"},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.limit), func(t *testing.T) {
			got, err := e.Recent(ctx, "alice", tt.limit)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) > tt.limit {
				t.Errorf("Expected at most %d, got %d", tt.limit, len(got))
			}
			if ids(got) != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, ids(got))
			}
		})
	}

	if _, err := e.Recent(ctx, "alice", -1); !errors.Is(err, ErrInvalidLimit) {
		t.Errorf("Expected ErrInvalidLimit, got %v", err)
	}
}

func TestEngine_AccountNotFound(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	if _, err := e.All(ctx, "mallory", Filter{}); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Errorf("All: expected ErrAccountNotFound, got %v", err)
	}
	if _, err := e.Recent(ctx, "mallory", 5); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Errorf("Recent: expected ErrAccountNotFound, got %v", err)
	}

	empty := New(memory.New(memory.Config{}), Options{})
	if _, err := empty.Recent(ctx, "alice", 5); !errors.Is(err, ledger.ErrAccountNotFound) {
		t.Errorf("Empty store: expected ErrAccountNotFound, got %v", err)
	}
}

func TestEngine_StoreUnavailable(t *testing.T) {
	e := New(mock.Failing("down", store.ErrTimeout), Options{})
	_, err := e.All(context.Background(), "alice", Filter{})
	if !errors.Is(err, ledger.ErrStoreUnavailable) {
		t.Errorf("Expected ErrStoreUnavailable, got %v", err)
	}

	s := memory.New(memory.Config{})
	fixture(t, s)
	s.Write(context.Background(), model.CollectionTransactions, []store.Record{store.Record(`{"id":"1"}`)})
	_, err = New(s, Options{}).All(context.Background(), "alice", Filter{})
	if !errors.Is(err, ledger.ErrStoreUnavailable) || !errors.Is(err, model.ErrCorruptRecord) {
		t.Errorf("Expected corrupt record as ErrStoreUnavailable, got %v", err)
	}
}

func TestEngine_CancelledCallerDoesNotFailSharedRead(t *testing.T) {
	s := mock.New("test")
	fixture(t, s.Backing)

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	s.ReadFunc = func(ctx context.Context, collection string) ([]store.Record, error) {
		if collection == model.CollectionTransactions {
			once.Do(func() { close(started) })
			<-release
		}
		return s.Backing.Read(ctx, collection)
	}
	e := New(s, Options{Location: time.UTC})

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := e.Recent(ctxA, "alice", 5)
		errA <- err
	}()
	<-started

	type result struct {
		txs []model.Transaction
		err error
	}
	resB := make(chan result, 1)
	go func() {
		txs, err := e.Recent(context.Background(), "alice", 2)
		resB <- result{txs, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected the cancelled caller to get context.Canceled, got %v", err)
	}

	close(release)
	b := <-resB
	if b.err != nil {
		t.Fatalf("Expected the other caller to succeed, got %v", b.err)
	}
	if ids(b.txs) != "104,99" {
		t.Errorf("Expected %q, got %q", "104,99", ids(b.txs))
	}
}

func TestEngine_Page(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	tests := []struct {
		page, size int
		want       string
	}{
		{page: 1, size: 2, want: "104,99"},
		{page: 2, size: 2, want: "103,102"},
		{page: 3, size: 2, want: "100"},
		{page: 4, size: 2, want: ""},
	}
	for _, tt := range tests {
		got, err := e.Page(ctx, "alice", Filter{}, tt.page, tt.size)
		if err != nil {
			t.Fatal(err)
		}
		if got.Total != 5 || got.Page != tt.page || got.PageSize != tt.size {
			t.Errorf("Unexpected page header: %+v", got)
		}
		if ids(got.Items) != tt.want {
			t.Errorf("Page %d: expected %q, got %q", tt.page, tt.want, ids(got.Items))
		}
	}

	for _, bad := range [][2]int{{0, 10}, {1, 0}, {1, MaxPageSize + 1}} {
		if _, err := e.Page(ctx, "alice", Filter{}, bad[0], bad[1]); !errors.Is(err, ErrInvalidPage) {
			t.Errorf("Page(%d, %d): expected ErrInvalidPage, got %v", bad[0], bad[1], err)
		}
	}
}

func TestEngine_Summary(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	s, err := e.Summary(ctx, "alice", Filter{})
	if err != nil {
		t.Fatal(err)
	}
	want := Summary{Deposits: 11300, Withdrawals: 3300, Net: 8000, Count: 5}
	if s != want {
		t.Errorf("Expected %+v, got %+v", want, s)
	}

	s, err = e.Summary(ctx, "alice", Filter{Kind: model.KindWithdrawal})
	if err != nil {
		t.Fatal(err)
	}
	if s.Deposits != 0 || s.Withdrawals != money.Amount(3300) || s.Net != money.Amount(-3300) {
		t.Errorf("Unexpected withdrawal summary: %+v", s)
	}
}

func TestEngine_ConcurrentReadsWhileWriting(t *testing.T) {
	s := memory.New(memory.Config{})
	fixture(t, s)
	l, err := ledger.New(s, ledger.Options{})
	if err != nil {
		t.Fatal(err)
	}
	collector := metricsmemory.NewCollector()
	e := New(s, Options{Metrics: collector})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := l.Deposit(ctx, "carol", money.FromMinor(100), ""); err != nil {
				t.Errorf("Deposit failed: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := e.Recent(ctx, "carol", 5); err != nil {
				t.Errorf("Recent failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := e.All(ctx, "carol", Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 20 {
		t.Errorf("Expected 20 transactions, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Fatalf("Transactions not sorted newest first at %d", i)
		}
	}

	if collector.Snapshot().Queries["recent"] != 20 {
		t.Errorf("Expected 20 recent queries recorded, got %d", collector.Snapshot().Queries["recent"])
	}
}
