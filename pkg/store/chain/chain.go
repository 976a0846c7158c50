// Package chain provides a tiered store: fast read layers in front of an
// authoritative layer.
package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ledger-engine/pkg/logging"
	"ledger-engine/pkg/metrics"
	"ledger-engine/pkg/store"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Chain is a store.Store over multiple layers with fallback reads and warm-up.
// Layers are ordered from fastest (L1) to authoritative (LN). Mutations commit
// to the authoritative layer first and are then written through to the upper
// layers; a layer that cannot take the new value has the collection removed so
// it falls back on the next read.
type Chain struct {
	layers      []store.Store
	readTimeout time.Duration
	sf          singleflight.Group
	logger      *logging.Logger
	metrics     metrics.Collector

	// mu orders write-through against read warm-up: a warm-up never writes a
	// value older than one an update has already propagated.
	mu sync.RWMutex
}

// DefaultReadTimeout bounds a shared read traversal.
const DefaultReadTimeout = 10 * time.Second

// Config holds optional chain dependencies.
type Config struct {
	Logger  *logging.Logger
	Metrics metrics.Collector

	// ReadTimeout bounds a read traversal shared by concurrent callers
	// (default DefaultReadTimeout)
	ReadTimeout time.Duration
}

// New creates a new chain of store layers.
// Returns an error if no layers are provided.
func New(config Config, layers ...store.Store) (*Chain, error) {
	if len(layers) == 0 {
		return nil, errors.New("chain: at least one layer required")
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}
	readTimeout := config.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = DefaultReadTimeout
	}
	return &Chain{
		layers:      append([]store.Store(nil), layers...),
		readTimeout: readTimeout,
		logger:      logger.Named("chain"),
		metrics:     metrics.OrNoOp(config.Metrics),
	}, nil
}

func (c *Chain) authoritative() store.Store {
	return c.layers[len(c.layers)-1]
}

// Read walks the layers until one has the collection, then warms the layers above it.
// Concurrent reads of the same collection share one traversal, which runs
// detached from the caller that started it: a cancelled caller stops waiting
// without failing the others.
func (c *Chain) Read(ctx context.Context, collection string) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateCollection(collection); err != nil {
		return nil, err
	}

	ch := c.sf.DoChan(collection, func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.readTimeout)
		defer cancel()
		return c.readWithFallback(readCtx, collection)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// Callers sharing a flight each get their own copy.
		return store.CloneRecords(res.Val.([]store.Record)), nil
	}
}

func (c *Chain) readWithFallback(ctx context.Context, collection string) ([]store.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	start := time.Now()
	last := len(c.layers) - 1
	for i, layer := range c.layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		records, err := layer.Read(ctx, collection)
		if err != nil {
			if i == last {
				c.metrics.RecordChainRead(false, i, time.Since(start))
				return nil, err
			}
			if !store.IsNotFound(err) {
				c.logger.Debug("Layer read failed, falling through",
					zap.String("layer", layer.Name()),
					zap.String("collection", collection),
					zap.Error(err))
			}
			continue
		}

		c.metrics.RecordChainRead(true, i, time.Since(start))
		if i > 0 {
			c.warmUpperLayers(ctx, collection, records, i)
		}
		return records, nil
	}

	return nil, store.ErrCollectionNotFound
}

// warmUpperLayers copies a hit into every layer above hitIndex.
// Must be called with c.mu held.
func (c *Chain) warmUpperLayers(ctx context.Context, collection string, records []store.Record, hitIndex int) {
	for i := hitIndex - 1; i >= 0; i-- {
		if err := c.layers[i].Write(ctx, collection, records); err != nil {
			c.logger.Warn("Warm-up failed",
				zap.String("layer", c.layers[i].Name()),
				zap.String("collection", collection),
				zap.Error(err))
		}
	}
}

// Write replaces the collection in the authoritative layer, then in the upper layers.
func (c *Chain) Write(ctx context.Context, collection string, records []store.Record) error {
	if err := store.ValidateCollection(collection); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.authoritative().Write(ctx, collection, records); err != nil {
		return err
	}
	c.propagate(ctx, map[string][]store.Record{collection: records})
	return nil
}

// Update runs fn against the authoritative layer and writes the committed
// collections through to the upper layers.
func (c *Chain) Update(ctx context.Context, collections []string, fn store.UpdateFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var committed map[string][]store.Record
	err := c.authoritative().Update(ctx, collections, func(data map[string][]store.Record) (map[string][]store.Record, error) {
		changed, err := fn(data)
		committed = changed
		return changed, err
	})
	if err != nil {
		return err
	}

	c.propagate(ctx, committed)
	return nil
}

// propagate writes committed collections to every upper layer.
// Must be called with c.mu held for writing.
func (c *Chain) propagate(ctx context.Context, committed map[string][]store.Record) {
	for _, layer := range c.layers[:len(c.layers)-1] {
		for name, records := range committed {
			err := layer.Write(ctx, name, records)
			if err == nil {
				continue
			}
			if delErr := layer.Delete(ctx, name); delErr != nil {
				// The layer may now serve a stale collection until it recovers.
				c.logger.Error("Write-through and invalidation both failed",
					zap.String("layer", layer.Name()),
					zap.String("collection", name),
					zap.NamedError("write_error", err),
					zap.NamedError("delete_error", delErr))
				continue
			}
			c.logger.Warn("Write-through failed, collection invalidated",
				zap.String("layer", layer.Name()),
				zap.String("collection", name),
				zap.Error(err))
		}
	}
}

// Delete removes the collection from every layer, authoritative first.
func (c *Chain) Delete(ctx context.Context, collection string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.authoritative().Delete(ctx, collection); err != nil {
		return err
	}

	var errs error
	for _, layer := range c.layers[:len(c.layers)-1] {
		errs = multierr.Append(errs, layer.Delete(ctx, collection))
	}
	return errs
}

// Name returns the chain description, e.g. "chain(memory→postgres)".
func (c *Chain) Name() string {
	return c.String()
}

// Close closes all layers, attempting every one and combining the errors.
func (c *Chain) Close() error {
	var errs error
	for _, layer := range c.layers {
		errs = multierr.Append(errs, layer.Close())
	}
	return errs
}

// Layers returns a copy of the layers slice for inspection.
func (c *Chain) Layers() []store.Store {
	return append([]store.Store(nil), c.layers...)
}

// Len returns the number of layers in the chain.
func (c *Chain) Len() int {
	return len(c.layers)
}

// String returns a string representation of the chain.
func (c *Chain) String() string {
	names := make([]string, len(c.layers))
	for i, layer := range c.layers {
		names[i] = layer.Name()
	}
	return fmt.Sprintf("chain(%s)", strings.Join(names, "→"))
}
