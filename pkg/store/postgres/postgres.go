// Package postgres provides a store backend on PostgreSQL using lib/pq.
//
// Collections live in one table, a row per collection with its records as a
// JSONB array. Update runs in a SQL transaction: transaction-scoped advisory
// locks serialize writers per collection (including collections that have no
// row yet), the rows are read with SELECT ... FOR UPDATE and replaced with
// INSERT ... ON CONFLICT DO UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"ledger-engine/pkg/store"

	"github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Name     string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Table holds the collections (default "ledger_collections")
	Table string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns default PostgreSQL configuration.
func DefaultConfig() Config {
	return Config{
		Name:            "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "ledger",
		SSLMode:         "disable",
		Table:           "ledger_collections",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  5 * time.Second,
	}
}

// DSN returns the lib/pq connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Store is a store.Store on PostgreSQL.
type Store struct {
	db    *sql.DB
	name  string
	table string
}

// New opens the connection pool, pings the server and creates the table.
func New(cfg Config) (*Store, error) {
	defaults := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = defaults.Name
	}
	if cfg.Table == "" {
		cfg.Table = defaults.Table
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, store.Unavailable(cfg.Name, "ping", err)
	}

	s := &Store{db: db, name: cfg.Name, table: pq.QuoteIdentifier(cfg.Table)}
	if err := s.initTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init tables: %w", err)
	}

	return s, nil
}

func (s *Store) initTables(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ` + s.table + ` (
			name TEXT PRIMARY KEY,
			records JSONB NOT NULL DEFAULT '[]'::jsonb,
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

// Read returns the records of a collection.
func (s *Store) Read(ctx context.Context, collection string) ([]store.Record, error) {
	if err := store.ValidateCollection(collection); err != nil {
		return nil, err
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT records FROM `+s.table+` WHERE name = $1`, collection,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrCollectionNotFound
	}
	if err != nil {
		return nil, store.Unavailable(s.name, "read", err)
	}
	return s.decode(collection, raw)
}

// Write replaces the collection.
func (s *Store) Write(ctx context.Context, collection string, records []store.Record) error {
	if err := store.ValidateCollection(collection); err != nil {
		return err
	}
	if err := s.upsert(ctx, s.db, collection, records); err != nil {
		return store.Unavailable(s.name, "write", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) upsert(ctx context.Context, db execer, collection string, records []store.Record) error {
	if records == nil {
		records = []store.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO `+s.table+` (name, records, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET records = EXCLUDED.records, updated_at = EXCLUDED.updated_at`,
		collection, data,
	)
	return err
}

// Update runs fn inside one SQL transaction.
func (s *Store) Update(ctx context.Context, collections []string, fn store.UpdateFunc) (err error) {
	for _, name := range collections {
		if err := store.ValidateCollection(name); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Unavailable(s.name, "begin", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// Lock in sorted order so two updates over the same collections cannot deadlock.
	sorted := append([]string(nil), collections...)
	sort.Strings(sorted)
	for _, name := range sorted {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, s.table+"/"+name); err != nil {
			return store.Unavailable(s.name, "lock", err)
		}
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT name, records FROM `+s.table+` WHERE name = ANY($1) FOR UPDATE`,
		pq.Array(collections),
	)
	if err != nil {
		return store.Unavailable(s.name, "select", err)
	}

	found := make(map[string][]store.Record, len(collections))
	for rows.Next() {
		var name string
		var raw []byte
		if err := rows.Scan(&name, &raw); err != nil {
			rows.Close()
			return store.Unavailable(s.name, "scan", err)
		}
		records, err := s.decode(name, raw)
		if err != nil {
			rows.Close()
			return err
		}
		found[name] = records
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return store.Unavailable(s.name, "scan", err)
	}
	rows.Close()

	data, err := store.Snapshot(collections, func(name string) ([]store.Record, error) {
		records, ok := found[name]
		if !ok {
			return nil, store.ErrCollectionNotFound
		}
		return records, nil
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
		if err := s.upsert(ctx, tx, name, records); err != nil {
			return store.Unavailable(s.name, "update", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return store.Unavailable(s.name, "commit", err)
	}
	return nil
}

// Delete removes a collection.
func (s *Store) Delete(ctx context.Context, collection string) error {
	if err := store.ValidateCollection(collection); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM `+s.table+` WHERE name = $1`, collection); err != nil {
		return store.Unavailable(s.name, "delete", err)
	}
	return nil
}

// Name returns the backend name.
func (s *Store) Name() string {
	return s.name
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return store.Unavailable(s.name, "ping", err)
	}
	return nil
}

func (s *Store) decode(collection string, raw []byte) ([]store.Record, error) {
	var records []store.Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, store.Unavailable(s.name, "read", fmt.Errorf("collection %s: %w", collection, err))
	}
	if records == nil {
		records = []store.Record{}
	}
	return records, nil
}
