// Package metrics defines the observability hooks the ledger components call.
package metrics

import (
	"time"
)

// Mutation outcomes reported through RecordMutation.
const (
	OutcomeSuccess           = "success"
	OutcomeInvalidAmount     = "invalid_amount"
	OutcomeAccountNotFound   = "account_not_found"
	OutcomeInsufficientFunds = "insufficient_funds"
	OutcomeStoreUnavailable  = "store_unavailable"
	OutcomeAccountExists     = "account_exists"
)

// Collector defines the interface for collecting ledger metrics.
// Implementations can export metrics to various backends (Prometheus, in-memory for tests).
type Collector interface {
	// Ledger operations
	RecordMutation(kind string, outcome string, duration time.Duration)
	RecordLockWait(duration time.Duration)

	// Query engine
	RecordQuery(query string, results int, duration time.Duration)

	// Store operations
	RecordStoreOp(store string, op string, success bool, duration time.Duration)
	RecordChainRead(hit bool, layerIndex int, duration time.Duration)

	// Circuit breaker
	RecordCircuitState(store string, state CircuitState)

	// Event publisher
	RecordEventQueueDepth(depth int)
	RecordEventDropped()
	RecordEventPublish(success bool, duration time.Duration)

	// HTTP surface
	RecordHTTPRequest(method, route string, status int, duration time.Duration)
}

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed means the circuit breaker is allowing requests through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the circuit breaker is blocking requests.
	CircuitOpen
	// CircuitHalfOpen means the circuit breaker is testing if the store has recovered.
	CircuitHalfOpen
)

// String returns the string representation of the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// OrNoOp returns c, or a NoOpCollector when c is nil.
func OrNoOp(c Collector) Collector {
	if c == nil {
		return NoOpCollector{}
	}
	return c
}

// NoOpCollector is a no-op implementation of Collector.
// It's used as the default collector when metrics are not needed.
type NoOpCollector struct{}

// RecordMutation does nothing.
func (NoOpCollector) RecordMutation(kind string, outcome string, duration time.Duration) {}

// RecordLockWait does nothing.
func (NoOpCollector) RecordLockWait(duration time.Duration) {}

// RecordQuery does nothing.
func (NoOpCollector) RecordQuery(query string, results int, duration time.Duration) {}

// RecordStoreOp does nothing.
func (NoOpCollector) RecordStoreOp(store string, op string, success bool, duration time.Duration) {}

// RecordChainRead does nothing.
func (NoOpCollector) RecordChainRead(hit bool, layerIndex int, duration time.Duration) {}

// RecordCircuitState does nothing.
func (NoOpCollector) RecordCircuitState(store string, state CircuitState) {}

// RecordEventQueueDepth does nothing.
func (NoOpCollector) RecordEventQueueDepth(depth int) {}

// RecordEventDropped does nothing.
func (NoOpCollector) RecordEventDropped() {}

// RecordEventPublish does nothing.
func (NoOpCollector) RecordEventPublish(success bool, duration time.Duration) {}

// RecordHTTPRequest does nothing.
func (NoOpCollector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {}
