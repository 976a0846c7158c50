// Package storetest holds behaviour tests shared by every store backend.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"ledger-engine/pkg/store"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.Store

// Run exercises the store.Store contract against the backend built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("ReadMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Read(context.Background(), "accounts")
		if !errors.Is(err, store.ErrCollectionNotFound) {
			t.Errorf("Expected ErrCollectionNotFound, got %v", err)
		}
	})

	t.Run("WriteRead", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		records := []store.Record{rec(1), rec(2), rec(3)}

		if err := s.Write(ctx, "accounts", records); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		got, err := s.Read(ctx, "accounts")
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		assertOrder(t, got, 1, 2, 3)
	})

	t.Run("WriteEmpty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Write(ctx, "accounts", nil); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		got, err := s.Read(ctx, "accounts")
		if err != nil {
			t.Fatalf("Expected empty collection, got error %v", err)
		}
		if len(got) != 0 {
			t.Errorf("Expected 0 records, got %d", len(got))
		}
	})

	t.Run("InvalidCollection", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if _, err := s.Read(ctx, ""); !errors.Is(err, store.ErrInvalidCollection) {
			t.Errorf("Read: expected ErrInvalidCollection, got %v", err)
		}
		if err := s.Write(ctx, "bad:name", nil); !errors.Is(err, store.ErrInvalidCollection) {
			t.Errorf("Write: expected ErrInvalidCollection, got %v", err)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Write(ctx, "accounts", []store.Record{rec(1)}); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(ctx, "accounts"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := s.Read(ctx, "accounts"); !errors.Is(err, store.ErrCollectionNotFound) {
			t.Errorf("Expected ErrCollectionNotFound after delete, got %v", err)
		}
		if err := s.Delete(ctx, "accounts"); err != nil {
			t.Errorf("Deleting a missing collection should succeed, got %v", err)
		}
	})

	t.Run("UpdateMultipleCollections", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Write(ctx, "accounts", []store.Record{rec(1)}); err != nil {
			t.Fatal(err)
		}

		err := s.Update(ctx, []string{"accounts", "transactions"}, func(data map[string][]store.Record) (map[string][]store.Record, error) {
			if len(data["accounts"]) != 1 {
				return nil, fmt.Errorf("expected 1 account, got %d", len(data["accounts"]))
			}
			if len(data["transactions"]) != 0 {
				return nil, fmt.Errorf("expected no transactions, got %d", len(data["transactions"]))
			}
			return map[string][]store.Record{
				"accounts":     {rec(10)},
				"transactions": append(data["transactions"], rec(20)),
			}, nil
		})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}

		accounts, _ := s.Read(ctx, "accounts")
		assertOrder(t, accounts, 10)
		txs, _ := s.Read(ctx, "transactions")
		assertOrder(t, txs, 20)
	})

	t.Run("UpdateAbortLeavesNoEffect", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Write(ctx, "accounts", []store.Record{rec(1)}); err != nil {
			t.Fatal(err)
		}

		abort := errors.New("insufficient funds")
		err := s.Update(ctx, []string{"accounts", "transactions"}, func(data map[string][]store.Record) (map[string][]store.Record, error) {
			data["accounts"][0] = rec(99)
			return nil, abort
		})
		if !errors.Is(err, abort) {
			t.Fatalf("Expected abort error to pass through, got %v", err)
		}

		accounts, _ := s.Read(ctx, "accounts")
		assertOrder(t, accounts, 1)
		if _, err := s.Read(ctx, "transactions"); !errors.Is(err, store.ErrCollectionNotFound) {
			t.Errorf("Expected transactions to stay unwritten, got %v", err)
		}
	})

	t.Run("UpdateRejectsUndeclaredCollection", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		err := s.Update(ctx, []string{"accounts"}, func(map[string][]store.Record) (map[string][]store.Record, error) {
			return map[string][]store.Record{"transactions": {rec(1)}}, nil
		})
		if !errors.Is(err, store.ErrInvalidCollection) {
			t.Errorf("Expected ErrInvalidCollection, got %v", err)
		}
	})

	t.Run("ConcurrentUpdatesSerialize", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		if err := s.Write(ctx, "counter", []store.Record{rec(0)}); err != nil {
			t.Fatal(err)
		}

		const workers = 8
		const perWorker = 10
		var wg sync.WaitGroup
		errs := make(chan error, workers*perWorker)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perWorker; j++ {
					errs <- s.Update(ctx, []string{"counter"}, increment)
				}
			}()
		}
		wg.Wait()
		close(errs)

		succeeded := 0
		for err := range errs {
			if err == nil {
				succeeded++
			} else if !errors.Is(err, store.ErrConflict) {
				t.Errorf("Unexpected update error: %v", err)
			}
		}

		records, err := s.Read(ctx, "counter")
		if err != nil {
			t.Fatal(err)
		}
		if got := value(t, records[0]); got != succeeded {
			t.Errorf("Lost updates: counter = %d, successful updates = %d", got, succeeded)
		}
	})
}

type item struct {
	N int `json:"n"`
}

func rec(n int) store.Record {
	data, _ := json.Marshal(item{N: n})
	return data
}

func value(t *testing.T, r store.Record) int {
	t.Helper()
	var it item
	if err := json.Unmarshal(r, &it); err != nil {
		t.Fatalf("decode record %s: %v", r, err)
	}
	return it.N
}

func increment(data map[string][]store.Record) (map[string][]store.Record, error) {
	var it item
	if err := json.Unmarshal(data["counter"][0], &it); err != nil {
		return nil, err
	}
	return map[string][]store.Record{"counter": {rec(it.N + 1)}}, nil
}

func assertOrder(t *testing.T, records []store.Record, want ...int) {
	t.Helper()
	if len(records) != len(want) {
		t.Fatalf("Expected %d records, got %d", len(want), len(records))
	}
	for i, w := range want {
		if got := value(t, records[i]); got != w {
			t.Errorf("Record %d: expected %d, got %d", i, w, got)
		}
	}
}
