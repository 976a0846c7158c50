package chain

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ledger-engine/pkg/metrics/memory"
	"ledger-engine/pkg/store"
	"ledger-engine/pkg/store/mock"
	"ledger-engine/pkg/store/storetest"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		layers      []store.Store
		expectError bool
		expectedLen int
	}{
		{
			name:        "empty layers",
			layers:      []store.Store{},
			expectError: true,
		},
		{
			name:        "single layer",
			layers:      []store.Store{mock.New("L1")},
			expectedLen: 1,
		},
		{
			name:        "multiple layers",
			layers:      []store.Store{mock.New("L1"), mock.New("L2"), mock.New("L3")},
			expectedLen: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := New(Config{}, tt.layers...)

			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if chain.Len() != tt.expectedLen {
				t.Errorf("Expected length %d, got %d", tt.expectedLen, chain.Len())
			}
		})
	}
}

func TestChain_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		c, err := New(Config{}, mock.New("L1"), mock.New("L2"))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { c.Close() })
		return c
	})
}

func TestChain_Read_L1Hit(t *testing.T) {
	ctx := context.Background()
	l1 := mock.New("L1")
	l2 := mock.New("L2")
	l1.Backing.Write(ctx, "accounts", []store.Record{store.Record(`"from-l1"`)})

	chain, err := New(Config{}, l1, l2)
	if err != nil {
		t.Fatal(err)
	}
	defer chain.Close()

	records, err := chain.Read(ctx, "accounts")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(records[0]) != `"from-l1"` {
		t.Errorf("Expected record from L1, got %s", records[0])
	}
	if l1.ReadCalls() != 1 {
		t.Errorf("L1 should be called once, got %d calls", l1.ReadCalls())
	}
	if l2.ReadCalls() != 0 {
		t.Errorf("L2 should not be called, got %d calls", l2.ReadCalls())
	}
}

func TestChain_Read_L2HitWarmsL1(t *testing.T) {
	ctx := context.Background()
	l1 := mock.New("L1")
	l2 := mock.New("L2")
	l2.Backing.Write(ctx, "accounts", []store.Record{store.Record(`"from-l2"`)})

	collector := memory.NewCollector()
	chain, err := New(Config{Metrics: collector}, l1, l2)
	if err != nil {
		t.Fatal(err)
	}
	defer chain.Close()

	records, err := chain.Read(ctx, "accounts")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(records[0]) != `"from-l2"` {
		t.Errorf("Expected record from L2, got %s", records[0])
	}

	warmed, err := l1.Backing.Read(ctx, "accounts")
	if err != nil {
		t.Fatalf("L1 was not warmed: %v", err)
	}
	if string(warmed[0]) != `"from-l2"` {
		t.Errorf("L1 warmed with wrong value: %s", warmed[0])
	}

	snap := collector.Snapshot()
	if snap.ChainHitsByLayer[1] != 1 {
		t.Errorf("Expected 1 hit at layer 1, got %d", snap.ChainHitsByLayer[1])
	}
}

func TestChain_Read_UpperLayerErrorFallsThrough(t *testing.T) {
	ctx := context.Background()
	l1 := mock.Failing("L1", store.ErrTimeout)
	l2 := mock.New("L2")
	l2.Backing.Write(ctx, "accounts", []store.Record{store.Record(`1`)})

	chain, _ := New(Config{}, l1, l2)
	if _, err := chain.Read(ctx, "accounts"); err != nil {
		t.Errorf("Expected fallback to L2, got %v", err)
	}
}

func TestChain_Read_AuthoritativeErrorReturned(t *testing.T) {
	chain, _ := New(Config{}, mock.New("L1"), mock.Failing("L2", store.ErrCircuitOpen))

	_, err := chain.Read(context.Background(), "accounts")
	if !errors.Is(err, store.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestChain_Read_SingleFlight(t *testing.T) {
	ctx := context.Background()
	l1 := mock.New("L1")
	l1.ReadFunc = func(context.Context, string) ([]store.Record, error) {
		return nil, store.ErrCollectionNotFound
	}
	l2 := mock.New("L2")
	release := make(chan struct{})
	l2.ReadFunc = func(context.Context, string) ([]store.Record, error) {
		<-release
		return []store.Record{store.Record(`1`)}, nil
	}

	chain, _ := New(Config{}, l1, l2)

	const readers = 10
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := chain.Read(ctx, "accounts"); err != nil {
				t.Errorf("Read failed: %v", err)
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls := l2.ReadCalls(); calls >= readers {
		t.Errorf("Expected concurrent reads to be collapsed, got %d L2 calls", calls)
	}
}

func TestChain_Read_CancelledCallerDoesNotFailSharedRead(t *testing.T) {
	l1 := mock.New("L1")
	l1.ReadFunc = func(context.Context, string) ([]store.Record, error) {
		return nil, store.ErrCollectionNotFound
	}
	l2 := mock.New("L2")
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	l2.ReadFunc = func(ctx context.Context, _ string) ([]store.Record, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []store.Record{store.Record(`1`)}, nil
	}

	chain, _ := New(Config{}, l1, l2)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := chain.Read(ctxA, "accounts")
		errA <- err
	}()
	<-started

	errB := make(chan error, 1)
	go func() {
		records, err := chain.Read(context.Background(), "accounts")
		if err == nil && len(records) != 1 {
			err = errors.New("unexpected records")
		}
		errB <- err
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	if err := <-errA; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected the cancelled caller to get context.Canceled, got %v", err)
	}

	close(release)
	if err := <-errB; err != nil {
		t.Errorf("Expected the other caller to succeed, got %v", err)
	}
}

func TestChain_Update_WritesThrough(t *testing.T) {
	ctx := context.Background()
	l1 := mock.New("L1")
	l2 := mock.New("L2")
	chain, _ := New(Config{}, l1, l2)

	err := chain.Update(ctx, []string{"accounts"}, func(data map[string][]store.Record) (map[string][]store.Record, error) {
		return map[string][]store.Record{"accounts": {store.Record(`"v1"`)}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	if l1.UpdateCalls() != 0 {
		t.Errorf("Upper layer must not run the update function, got %d calls", l1.UpdateCalls())
	}
	for _, layer := range []*mock.Store{l1, l2} {
		records, err := layer.Backing.Read(ctx, "accounts")
		if err != nil || string(records[0]) != `"v1"` {
			t.Errorf("%s: expected v1, got %v (err %v)", layer.Name(), records, err)
		}
	}
}

func TestChain_Update_FailedWriteThroughInvalidates(t *testing.T) {
	ctx := context.Background()
	l1 := mock.New("L1")
	l1.Backing.Write(ctx, "accounts", []store.Record{store.Record(`"stale"`)})
	l1.WriteFunc = func(context.Context, string, []store.Record) error { return store.ErrTimeout }
	l2 := mock.New("L2")

	chain, _ := New(Config{}, l1, l2)
	err := chain.Update(ctx, []string{"accounts"}, func(map[string][]store.Record) (map[string][]store.Record, error) {
		return map[string][]store.Record{"accounts": {store.Record(`"fresh"`)}}, nil
	})
	if err != nil {
		t.Fatalf("Update should succeed once the authoritative layer committed, got %v", err)
	}

	if _, err := l1.Backing.Read(ctx, "accounts"); !errors.Is(err, store.ErrCollectionNotFound) {
		t.Errorf("Expected stale L1 entry to be invalidated, got %v", err)
	}

	l1.WriteFunc = nil
	records, err := chain.Read(ctx, "accounts")
	if err != nil || string(records[0]) != `"fresh"` {
		t.Errorf("Expected fresh value via fallback, got %v (err %v)", records, err)
	}
}

func TestChain_Update_AbortTouchesNoLayer(t *testing.T) {
	ctx := context.Background()
	l1 := mock.New("L1")
	l2 := mock.New("L2")
	chain, _ := New(Config{}, l1, l2)

	abort := errors.New("abort")
	err := chain.Update(ctx, []string{"accounts"}, func(map[string][]store.Record) (map[string][]store.Record, error) {
		return map[string][]store.Record{"accounts": {store.Record(`1`)}}, abort
	})
	if !errors.Is(err, abort) {
		t.Fatalf("Expected abort error, got %v", err)
	}
	if l1.WriteCalls() != 0 {
		t.Errorf("Expected no write-through after abort, got %d", l1.WriteCalls())
	}
}

func TestChain_Close_CombinesErrors(t *testing.T) {
	l1 := mock.New("L1")
	l1.CloseFunc = func() error { return errors.New("l1 close") }
	l2 := mock.New("L2")
	l2.CloseFunc = func() error { return errors.New("l2 close") }

	chain, _ := New(Config{}, l1, l2)
	err := chain.Close()
	if err == nil {
		t.Fatal("Expected combined close error")
	}
	if l1.CloseCalls() != 1 || l2.CloseCalls() != 1 {
		t.Error("Expected every layer to be closed")
	}
}

func TestChain_String(t *testing.T) {
	chain, _ := New(Config{}, mock.New("memory"), mock.New("postgres"))
	if got := chain.Name(); got != "chain(memory→postgres)" {
		t.Errorf("Unexpected name %q", got)
	}
}
