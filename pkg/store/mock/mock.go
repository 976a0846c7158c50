// Package mock provides a hookable store.Store for tests.
package mock

import (
	"context"
	"sync/atomic"

	"ledger-engine/pkg/store"
	"ledger-engine/pkg/store/memory"
)

// Store is a mock implementation of store.Store for testing.
// Each hook, when set, replaces the call; unset hooks fall through to an
// in-memory backend, so a mock behaves like a real store until told otherwise.
type Store struct {
	// Function hooks - set these to customize behavior
	ReadFunc   func(ctx context.Context, collection string) ([]store.Record, error)
	WriteFunc  func(ctx context.Context, collection string, records []store.Record) error
	UpdateFunc func(ctx context.Context, collections []string, fn store.UpdateFunc) error
	DeleteFunc func(ctx context.Context, collection string) error
	CloseFunc  func() error

	// Backing is the store used when a hook is nil
	Backing *memory.Store

	name string

	// Call tracking (must use atomic operations for race-free access)
	readCalls   int64
	writeCalls  int64
	updateCalls int64
	deleteCalls int64
	closeCalls  int64
}

// New creates a mock backed by an empty memory store.
func New(name string) *Store {
	return &Store{
		name:    name,
		Backing: memory.New(memory.Config{Name: name}),
	}
}

// Read implements store.Store.
func (m *Store) Read(ctx context.Context, collection string) ([]store.Record, error) {
	atomic.AddInt64(&m.readCalls, 1)
	if m.ReadFunc != nil {
		return m.ReadFunc(ctx, collection)
	}
	return m.Backing.Read(ctx, collection)
}

// Write implements store.Store.
func (m *Store) Write(ctx context.Context, collection string, records []store.Record) error {
	atomic.AddInt64(&m.writeCalls, 1)
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, collection, records)
	}
	return m.Backing.Write(ctx, collection, records)
}

// Update implements store.Store.
func (m *Store) Update(ctx context.Context, collections []string, fn store.UpdateFunc) error {
	atomic.AddInt64(&m.updateCalls, 1)
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, collections, fn)
	}
	return m.Backing.Update(ctx, collections, fn)
}

// Delete implements store.Store.
func (m *Store) Delete(ctx context.Context, collection string) error {
	atomic.AddInt64(&m.deleteCalls, 1)
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, collection)
	}
	return m.Backing.Delete(ctx, collection)
}

// Name implements store.Store.
func (m *Store) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

// Close implements store.Store.
func (m *Store) Close() error {
	atomic.AddInt64(&m.closeCalls, 1)
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return m.Backing.Close()
}

// ReadCalls returns the number of Read calls (thread-safe).
func (m *Store) ReadCalls() int {
	return int(atomic.LoadInt64(&m.readCalls))
}

// WriteCalls returns the number of Write calls (thread-safe).
func (m *Store) WriteCalls() int {
	return int(atomic.LoadInt64(&m.writeCalls))
}

// UpdateCalls returns the number of Update calls (thread-safe).
func (m *Store) UpdateCalls() int {
	return int(atomic.LoadInt64(&m.updateCalls))
}

// DeleteCalls returns the number of Delete calls (thread-safe).
func (m *Store) DeleteCalls() int {
	return int(atomic.LoadInt64(&m.deleteCalls))
}

// CloseCalls returns the number of Close calls (thread-safe).
func (m *Store) CloseCalls() int {
	return int(atomic.LoadInt64(&m.closeCalls))
}

// Failing returns a mock whose every operation fails with err.
func Failing(name string, err error) *Store {
	m := New(name)
	m.ReadFunc = func(context.Context, string) ([]store.Record, error) { return nil, err }
	m.WriteFunc = func(context.Context, string, []store.Record) error { return err }
	m.UpdateFunc = func(context.Context, []string, store.UpdateFunc) error { return err }
	m.DeleteFunc = func(context.Context, string) error { return err }
	return m
}

// FailCommit returns an UpdateFunc hook that runs fn against the backing store's
// data, then reports err instead of committing. It simulates a backend that
// fails after the caller's checks passed.
func (m *Store) FailCommit(err error) func(ctx context.Context, collections []string, fn store.UpdateFunc) error {
	return func(ctx context.Context, collections []string, fn store.UpdateFunc) error {
		var fnErr error
		m.Backing.Update(ctx, collections, func(data map[string][]store.Record) (map[string][]store.Record, error) {
			_, fnErr = fn(data)
			return nil, err
		})
		if fnErr != nil {
			return fnErr
		}
		return err
	}
}
