package resilience

import (
	"time"
)

// Config configures resilience features for a store.
type Config struct {
	// Timeout bounds every store operation. Zero disables the timeout.
	Timeout time.Duration

	// CircuitBreaker configures the circuit breaker behavior
	CircuitBreaker CircuitBreakerConfig
}

// CircuitBreakerConfig configures circuit breaker behavior.
type CircuitBreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed to pass through
	// when the CircuitBreaker is half-open. Default: 1
	MaxRequests uint32

	// Interval is the cyclic period of the closed state for the CircuitBreaker
	// to clear the internal counts. If Interval is 0, it never clears.
	Interval time.Duration

	// Timeout is the period of the open state after which the state becomes half-open.
	Timeout time.Duration

	// ReadyToTrip is called with a copy of Counts whenever a request fails.
	// If ReadyToTrip returns true, the CircuitBreaker will be placed into the open state.
	// If nil, the breaker trips after ConsecutiveFailures failures in a row.
	ReadyToTrip func(counts Counts) bool

	// ConsecutiveFailures is the default trip threshold used when ReadyToTrip is nil.
	ConsecutiveFailures uint32
}

// Counts holds the numbers of requests and their successes/failures.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// DefaultConfig returns sensible defaults for resilience configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests: 5,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts Counts) bool {
				// Require at least 20 requests before considering error rate
				if counts.Requests < 20 {
					return false
				}
				// Trip if error rate >= 15%
				failureRate := float64(counts.TotalFailures) / float64(counts.Requests)
				return failureRate >= 0.15
			},
		},
	}
}

// WithTimeout returns a copy of the config with the specified timeout.
func (c Config) WithTimeout(timeout time.Duration) Config {
	c.Timeout = timeout
	return c
}

// WithCircuitBreakerTimeout returns a copy of the config with the specified circuit breaker timeout.
func (c Config) WithCircuitBreakerTimeout(timeout time.Duration) Config {
	c.CircuitBreaker.Timeout = timeout
	return c
}

// WithConsecutiveFailures returns a copy of the config that trips after n failures in a row.
func (c Config) WithConsecutiveFailures(n uint32) Config {
	c.CircuitBreaker.ReadyToTrip = nil
	c.CircuitBreaker.ConsecutiveFailures = n
	return c
}
