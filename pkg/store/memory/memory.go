// Package memory provides an in-process store backend.
package memory

import (
	"context"
	"sync"

	"ledger-engine/pkg/store"
)

// Store is an in-memory store.Store. Records are copied on the way in and out,
// so callers never share bytes with the store.
type Store struct {
	// data maps collection names to records
	data map[string][]store.Record

	// mu protects data; Update holds it for writing across read, fn and write
	mu sync.RWMutex

	name   string
	closed bool
}

// Config holds configuration for the memory store.
type Config struct {
	// Name is the backend identifier (default "memory")
	Name string
}

// New creates an empty memory store.
func New(config Config) *Store {
	if config.Name == "" {
		config.Name = "memory"
	}
	return &Store{
		data: make(map[string][]store.Record),
		name: config.Name,
	}
}

// Read returns a copy of the collection.
func (s *Store) Read(ctx context.Context, collection string) ([]store.Record, error) {
	if err := s.check(ctx, collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, errClosed
	}
	records, ok := s.data[collection]
	if !ok {
		return nil, store.ErrCollectionNotFound
	}
	return store.CloneRecords(records), nil
}

// Write replaces the collection.
func (s *Store) Write(ctx context.Context, collection string, records []store.Record) error {
	if err := s.check(ctx, collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	s.data[collection] = cloneNonNil(records)
	return nil
}

// Update runs fn under the store's write lock, so it is atomic with respect to
// every other operation on this store.
func (s *Store) Update(ctx context.Context, collections []string, fn store.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}

	data, err := store.Snapshot(collections, func(name string) ([]store.Record, error) {
		records, ok := s.data[name]
		if !ok {
			return nil, store.ErrCollectionNotFound
		}
		return store.CloneRecords(records), nil
	})
	if err != nil {
		return err
	}

	changed, err := fn(data)
	if err != nil {
		return err
	}
	if err := store.CheckUpdate(collections, changed); err != nil {
		return err
	}

	for name, records := range changed {
		s.data[name] = cloneNonNil(records)
	}
	return nil
}

// Delete removes a collection.
func (s *Store) Delete(ctx context.Context, collection string) error {
	if err := s.check(ctx, collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	delete(s.data, collection)
	return nil
}

// Name returns the backend name.
func (s *Store) Name() string {
	return s.name
}

// Close drops all data. Later calls fail with ErrUnavailable.
func (s *Store) Close() error {
	s.mu.Lock()
	s.data = nil
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Stats returns current store statistics.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{Collections: len(s.data)}
	for _, records := range s.data {
		stats.Records += len(records)
	}
	return stats
}

// Stats holds store statistics.
type Stats struct {
	Collections int // Number of stored collections
	Records     int // Total records across collections
}

func (s *Store) check(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.ValidateCollection(collection)
}

func cloneNonNil(records []store.Record) []store.Record {
	if records == nil {
		return []store.Record{}
	}
	return store.CloneRecords(records)
}

var errClosed = store.WrapError(store.ErrUnavailable, "memory", "closed")
