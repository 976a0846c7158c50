// Package file provides a store backend persisted as a single JSON snapshot.
//
// Every mutation rewrites the snapshot atomically: the document is written to
// path+".tmp", synced, then renamed over path. A crash mid-write leaves the
// previous snapshot intact.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ledger-engine/pkg/store"
)

// FormatVersion is written into every snapshot's _meta block.
const FormatVersion = 1

// Meta describes a snapshot document.
type Meta struct {
	Storage   string    `json:"storage"`
	Version   int       `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

// Snapshot is the on-disk document.
type Snapshot struct {
	Meta        Meta                      `json:"_meta"`
	Collections map[string][]store.Record `json:"collections"`
}

// Config holds configuration for the file store.
type Config struct {
	// Path is the snapshot file location
	Path string

	// Name is the backend identifier (default "file")
	Name string
}

// Store is a store.Store backed by a JSON snapshot file.
type Store struct {
	path string
	name string

	mu     sync.RWMutex
	data   map[string][]store.Record
	closed bool
}

// Open loads the snapshot at config.Path, or starts empty if the file does not exist.
func Open(config Config) (*Store, error) {
	if config.Path == "" {
		return nil, errors.New("file store: path is required")
	}
	if config.Name == "" {
		config.Name = "file"
	}

	s := &Store{
		path: config.Path,
		name: config.Name,
		data: make(map[string][]store.Record),
	}

	snap, err := LoadSnapshot(config.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, store.Unavailable(s.name, "open", err)
	}
	if snap.Meta.Version > FormatVersion {
		return nil, fmt.Errorf("file store: snapshot version %d is newer than supported %d", snap.Meta.Version, FormatVersion)
	}
	for name, records := range snap.Collections {
		if records == nil {
			records = []store.Record{}
		}
		s.data[name] = records
	}
	return s, nil
}

// LoadSnapshot reads and decodes the snapshot at path.
func LoadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()
	err = json.NewDecoder(f).Decode(&snap)
	return snap, err
}

// SaveSnapshot writes snap to path atomically.
func SaveSnapshot(path string, snap Snapshot) error {
	snap.Meta.Storage = "json_snapshot"
	snap.Meta.Version = FormatVersion
	snap.Meta.Timestamp = time.Now().UTC()

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, path)
}

// Read returns a copy of the collection.
func (s *Store) Read(ctx context.Context, collection string) ([]store.Record, error) {
	if err := check(ctx, collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, s.errClosed()
	}
	records, ok := s.data[collection]
	if !ok {
		return nil, store.ErrCollectionNotFound
	}
	return store.CloneRecords(records), nil
}

// Write replaces the collection and persists the snapshot.
func (s *Store) Write(ctx context.Context, collection string, records []store.Record) error {
	if err := check(ctx, collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.errClosed()
	}
	return s.commit("write", map[string][]store.Record{collection: records}, nil)
}

// Update runs fn under the store lock and persists the result as one snapshot.
func (s *Store) Update(ctx context.Context, collections []string, fn store.UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.errClosed()
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
	if len(changed) == 0 {
		return nil
	}
	return s.commit("update", changed, nil)
}

// Delete removes a collection and persists the snapshot.
func (s *Store) Delete(ctx context.Context, collection string) error {
	if err := check(ctx, collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.errClosed()
	}
	if _, ok := s.data[collection]; !ok {
		return nil
	}
	return s.commit("delete", nil, []string{collection})
}

// Name returns the backend name.
func (s *Store) Name() string {
	return s.name
}

// Close marks the store closed. The snapshot on disk is already current.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.data = nil
	s.mu.Unlock()
	return nil
}

// commit builds the next state, writes it to disk and only then swaps it in.
// Must be called with s.mu held for writing.
func (s *Store) commit(op string, changed map[string][]store.Record, deleted []string) error {
	next := make(map[string][]store.Record, len(s.data)+len(changed))
	for name, records := range s.data {
		next[name] = records
	}
	for name, records := range changed {
		if records == nil {
			records = []store.Record{}
		}
		next[name] = store.CloneRecords(records)
	}
	for _, name := range deleted {
		delete(next, name)
	}

	if err := SaveSnapshot(s.path, Snapshot{Collections: next}); err != nil {
		return store.Unavailable(s.name, op, err)
	}
	s.data = next
	return nil
}

func (s *Store) errClosed() error {
	return store.WrapError(store.ErrUnavailable, s.name, "closed")
}

func check(ctx context.Context, collection string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return store.ValidateCollection(collection)
}
