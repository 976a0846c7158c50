// Package store defines the persistent collection store the ledger runs on.
//
// A store maps collection names to ordered lists of JSON records. Every backend
// offers plain reads and writes plus Update, an atomic read-modify-write across
// several collections.
package store

import (
	"context"
	"encoding/json"
)

// Record is one stored JSON document.
type Record = json.RawMessage

// UpdateFunc receives the current contents of the collections named in an Update
// call (a collection that was never written is present and empty) and returns the
// collections to replace. Collections absent from the returned map are left as they
// were. Returning an error aborts the update without writing anything; the error is
// returned from Update unchanged.
type UpdateFunc func(data map[string][]Record) (map[string][]Record, error)

// Store defines the interface that all store backends must satisfy.
type Store interface {
	// Read returns the records of a collection in insertion order.
	// Returns ErrCollectionNotFound if the collection was never written.
	Read(ctx context.Context, collection string) ([]Record, error)

	// Write replaces the whole collection.
	Write(ctx context.Context, collection string, records []Record) error

	// Update runs fn against the named collections as one atomic unit.
	// Either every collection returned by fn is replaced, or none is.
	Update(ctx context.Context, collections []string, fn UpdateFunc) error

	// Delete removes a collection.
	// Returns nil if the collection was deleted or didn't exist.
	Delete(ctx context.Context, collection string) error

	// Name returns the identifier for this backend (e.g. "memory", "redis").
	// Used for logging and metrics.
	Name() string

	// Close releases any resources held by the backend.
	Close() error
}

// CloneRecords returns a deep copy of records. Backends hand out copies so that
// callers never alias stored bytes.
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = append(Record(nil), r...)
	}
	return out
}

// Snapshot loads every named collection through read, treating ErrCollectionNotFound
// as an empty collection. It is the read half most Update implementations share.
func Snapshot(collections []string, read func(string) ([]Record, error)) (map[string][]Record, error) {
	data := make(map[string][]Record, len(collections))
	for _, name := range collections {
		if err := ValidateCollection(name); err != nil {
			return nil, err
		}
		records, err := read(name)
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		if records == nil {
			records = []Record{}
		}
		data[name] = records
	}
	return data, nil
}

// CheckUpdate verifies that fn only returned collections it was allowed to touch.
func CheckUpdate(collections []string, changed map[string][]Record) error {
	for name := range changed {
		allowed := false
		for _, c := range collections {
			if c == name {
				allowed = true
				break
			}
		}
		if !allowed {
			return WrapError(ErrInvalidCollection, "update", name)
		}
	}
	return nil
}
