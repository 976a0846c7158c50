// Package resilience wraps a store with a circuit breaker and per-operation timeouts.
//
// Every backend fault that reaches the caller wraps store.ErrUnavailable: an open
// breaker yields store.ErrCircuitOpen and an expired deadline store.ErrTimeout.
// Errors returned by an UpdateFunc are the caller's own decisions; they pass
// through unchanged and never count against the breaker.
package resilience

import (
	"context"
	"errors"
	"time"

	"ledger-engine/pkg/logging"
	"ledger-engine/pkg/metrics"
	"ledger-engine/pkg/store"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Store wraps a store.Store with resilience features.
type Store struct {
	store   store.Store
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	metrics metrics.Collector
	logger  *logging.Logger
}

// Options carries optional dependencies.
type Options struct {
	Metrics metrics.Collector
	Logger  *logging.Logger
}

// callerError marks an error produced by the caller's UpdateFunc.
type callerError struct{ err error }

func (e callerError) Error() string { return e.err.Error() }
func (e callerError) Unwrap() error { return e.err }

// New wraps s with circuit breaker protection and timeout enforcement.
func New(s store.Store, config Config, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.Named("resilience").With(zap.String("store", s.Name()))

	rs := &Store{
		store:   s,
		timeout: config.Timeout,
		metrics: metrics.OrNoOp(opts.Metrics),
		logger:  logger,
	}

	logger.Info("Resilient store initialized",
		zap.Duration("timeout", config.Timeout),
		zap.Uint32("max_requests", config.CircuitBreaker.MaxRequests),
		zap.Duration("circuit_interval", config.CircuitBreaker.Interval),
		zap.Duration("circuit_timeout", config.CircuitBreaker.Timeout),
	)

	threshold := config.CircuitBreaker.ConsecutiveFailures
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        s.Name(),
		MaxRequests: config.CircuitBreaker.MaxRequests,
		Interval:    config.CircuitBreaker.Interval,
		Timeout:     config.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if config.CircuitBreaker.ReadyToTrip != nil {
				return config.CircuitBreaker.ReadyToTrip(Counts{
					Requests:             counts.Requests,
					TotalSuccesses:       counts.TotalSuccesses,
					TotalFailures:        counts.TotalFailures,
					ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
					ConsecutiveFailures:  counts.ConsecutiveFailures,
				})
			}
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			rs.metrics.RecordCircuitState(name, toCircuitState(to))
		},
	}

	rs.cb = gobreaker.NewCircuitBreaker(settings)
	return rs
}

// isSuccessful reports whether err says nothing about backend health.
func isSuccessful(err error) bool {
	if err == nil {
		return true
	}
	var ce callerError
	switch {
	case errors.As(err, &ce):
		return true
	case errors.Is(err, store.ErrCollectionNotFound),
		errors.Is(err, store.ErrInvalidCollection),
		errors.Is(err, context.Canceled):
		return true
	}
	return false
}

func toCircuitState(s gobreaker.State) metrics.CircuitState {
	switch s {
	case gobreaker.StateOpen:
		return metrics.CircuitOpen
	case gobreaker.StateHalfOpen:
		return metrics.CircuitHalfOpen
	default:
		return metrics.CircuitClosed
	}
}

// Name returns the name of the underlying store.
func (rs *Store) Name() string {
	return rs.store.Name()
}

// State returns the current circuit breaker state.
func (rs *Store) State() metrics.CircuitState {
	return toCircuitState(rs.cb.State())
}

// Read reads a collection with timeout and circuit breaker protection.
func (rs *Store) Read(ctx context.Context, collection string) ([]store.Record, error) {
	var records []store.Record
	err := rs.execute(ctx, "read", func(ctx context.Context) error {
		var err error
		records, err = rs.store.Read(ctx, collection)
		return err
	})
	return records, err
}

// Write replaces a collection with timeout and circuit breaker protection.
func (rs *Store) Write(ctx context.Context, collection string, records []store.Record) error {
	return rs.execute(ctx, "write", func(ctx context.Context) error {
		return rs.store.Write(ctx, collection, records)
	})
}

// Update runs an atomic update with timeout and circuit breaker protection.
func (rs *Store) Update(ctx context.Context, collections []string, fn store.UpdateFunc) error {
	return rs.execute(ctx, "update", func(ctx context.Context) error {
		return rs.store.Update(ctx, collections, func(data map[string][]store.Record) (map[string][]store.Record, error) {
			changed, err := fn(data)
			if err != nil {
				return nil, callerError{err}
			}
			return changed, nil
		})
	})
}

// Delete removes a collection with timeout and circuit breaker protection.
func (rs *Store) Delete(ctx context.Context, collection string) error {
	return rs.execute(ctx, "delete", func(ctx context.Context) error {
		return rs.store.Delete(ctx, collection)
	})
}

// Close closes the underlying store.
func (rs *Store) Close() error {
	return rs.store.Close()
}

func (rs *Store) execute(parent context.Context, op string, call func(ctx context.Context) error) error {
	start := time.Now()

	ctx := parent
	if rs.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, rs.timeout)
		defer cancel()
	}

	_, err := rs.cb.Execute(func() (interface{}, error) {
		err := call(ctx)
		var ce callerError
		if err == nil || errors.As(err, &ce) {
			return nil, err
		}
		// A deadline we imposed is a backend fault even if the backend
		// reported it as a bare context error.
		if ctx.Err() == context.DeadlineExceeded && parent.Err() == nil {
			return nil, store.WrapError(store.ErrTimeout, rs.store.Name(), op)
		}
		return nil, err
	})

	duration := time.Since(start)
	rs.metrics.RecordStoreOp(rs.store.Name(), op, isSuccessful(err), duration)

	if err == nil {
		return nil
	}

	var ce callerError
	switch {
	case errors.As(err, &ce):
		return ce.err
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		rs.logger.Warn("Circuit breaker open - request rejected", zap.String("operation", op))
		return store.WrapError(store.ErrCircuitOpen, rs.store.Name(), op)
	case errors.Is(err, store.ErrTimeout):
		rs.logger.Warn("Operation timeout",
			zap.String("operation", op),
			zap.Duration("timeout", rs.timeout),
			zap.Duration("elapsed", duration),
		)
		return err
	case isSuccessful(err):
		return err
	}

	rs.logger.Error("Store operation failed",
		zap.String("operation", op),
		zap.Duration("duration", duration),
		zap.Error(err),
	)
	if !errors.Is(err, store.ErrUnavailable) {
		return store.Unavailable(rs.store.Name(), op, err)
	}
	return err
}
