// Package prometheus implements metrics.Collector on client_golang.
package prometheus

import (
	"strconv"
	"time"

	"ledger-engine/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = prometheus.ExponentialBuckets(0.0001, 2, 15) // 0.1ms to ~3s

// Collector implements metrics.Collector for Prometheus.
type Collector struct {
	namespace string

	// Ledger
	mutations       *prometheus.CounterVec
	mutationLatency *prometheus.HistogramVec
	lockWait        prometheus.Histogram

	// Query engine
	queries      *prometheus.CounterVec
	queryResults *prometheus.HistogramVec
	queryLatency *prometheus.HistogramVec

	// Store
	storeOps     *prometheus.CounterVec
	storeErrors  *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
	chainHits    *prometheus.CounterVec
	chainMisses  prometheus.Counter
	chainLatency *prometheus.HistogramVec

	// Circuit breaker
	circuitOpens *prometheus.CounterVec
	circuitState *prometheus.GaugeVec

	// Events
	eventQueueDepth prometheus.Gauge
	eventsDropped   prometheus.Counter
	eventsPublished *prometheus.CounterVec
	eventLatency    prometheus.Histogram

	// HTTP
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// NewCollector creates a new Prometheus metrics collector.
func NewCollector(namespace string) *Collector {
	return &Collector{
		namespace: namespace,
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Total number of balance mutations per kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		mutationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mutation_duration_seconds",
				Help:      "Balance mutation latency including lock wait",
				Buckets:   latencyBuckets,
			},
			[]string{"kind"},
		),
		lockWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "account_lock_wait_seconds",
				Help:      "Time spent waiting for a per-account lock",
				Buckets:   latencyBuckets,
			},
		),
		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of transaction queries per query type",
			},
			[]string{"query"},
		),
		queryResults: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_results",
				Help:      "Number of transactions returned per query",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"query"},
		),
		queryLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Transaction query latency",
				Buckets:   latencyBuckets,
			},
			[]string{"query"},
		),
		storeOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Total number of store operations per store and operation",
			},
			[]string{"store", "operation"},
		),
		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total number of failed store operations per store and operation",
			},
			[]string{"store", "operation"},
		),
		storeLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "store_operation_duration_seconds",
				Help:      "Store operation latency",
				Buckets:   latencyBuckets,
			},
			[]string{"store", "operation"},
		),
		chainHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_hits_total",
				Help:      "Total number of chain reads served, per layer index",
			},
			[]string{"layer_index"},
		),
		chainMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_misses_total",
				Help:      "Total number of chain reads no layer could serve",
			},
		),
		chainLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "chain_read_duration_seconds",
				Help:      "Chain read total latency",
				Buckets:   latencyBuckets,
			},
			[]string{"hit"},
		),
		circuitOpens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_opens_total",
				Help:      "Total number of circuit breaker opens per store",
			},
			[]string{"store"},
		),
		circuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_state",
				Help:      "Current circuit breaker state per store (0=closed, 1=open, 2=half-open)",
			},
			[]string{"store"},
		),
		eventQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_queue_depth",
				Help:      "Current event publisher queue depth",
			},
		),
		eventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Total number of events dropped because the queue was full",
			},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of event publish attempts per status",
			},
			[]string{"status"},
		),
		eventLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_publish_duration_seconds",
				Help:      "Event publish latency",
				Buckets:   latencyBuckets,
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Register registers all metrics with the given Prometheus registerer.
func (c *Collector) Register(registerer prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		c.mutations,
		c.mutationLatency,
		c.lockWait,
		c.queries,
		c.queryResults,
		c.queryLatency,
		c.storeOps,
		c.storeErrors,
		c.storeLatency,
		c.chainHits,
		c.chainMisses,
		c.chainLatency,
		c.circuitOpens,
		c.circuitState,
		c.eventQueueDepth,
		c.eventsDropped,
		c.eventsPublished,
		c.eventLatency,
		c.httpRequests,
		c.httpLatency,
	}

	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return err
		}
	}

	return nil
}

// RecordMutation records a deposit or withdrawal attempt.
func (c *Collector) RecordMutation(kind string, outcome string, duration time.Duration) {
	c.mutations.WithLabelValues(kind, outcome).Inc()
	c.mutationLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordLockWait records time spent acquiring a per-account lock.
func (c *Collector) RecordLockWait(duration time.Duration) {
	c.lockWait.Observe(duration.Seconds())
}

// RecordQuery records a transaction query.
func (c *Collector) RecordQuery(query string, results int, duration time.Duration) {
	c.queries.WithLabelValues(query).Inc()
	c.queryResults.WithLabelValues(query).Observe(float64(results))
	c.queryLatency.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordStoreOp records a store operation.
func (c *Collector) RecordStoreOp(store string, op string, success bool, duration time.Duration) {
	c.storeOps.WithLabelValues(store, op).Inc()
	if !success {
		c.storeErrors.WithLabelValues(store, op).Inc()
	}
	c.storeLatency.WithLabelValues(store, op).Observe(duration.Seconds())
}

// RecordChainRead records a chain-level read.
func (c *Collector) RecordChainRead(hit bool, layerIndex int, duration time.Duration) {
	hitLabel := "false"
	if hit {
		c.chainHits.WithLabelValues(strconv.Itoa(layerIndex)).Inc()
		hitLabel = "true"
	} else {
		c.chainMisses.Inc()
	}
	c.chainLatency.WithLabelValues(hitLabel).Observe(duration.Seconds())
}

// RecordCircuitState records the current circuit breaker state.
func (c *Collector) RecordCircuitState(store string, state metrics.CircuitState) {
	c.circuitState.WithLabelValues(store).Set(float64(state))
	if state == metrics.CircuitOpen {
		c.circuitOpens.WithLabelValues(store).Inc()
	}
}

// RecordEventQueueDepth records the current publisher queue depth.
func (c *Collector) RecordEventQueueDepth(depth int) {
	c.eventQueueDepth.Set(float64(depth))
}

// RecordEventDropped records an event dropped on a full queue.
func (c *Collector) RecordEventDropped() {
	c.eventsDropped.Inc()
}

// RecordEventPublish records one publish attempt to the sink.
func (c *Collector) RecordEventPublish(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	c.eventsPublished.WithLabelValues(status).Inc()
	c.eventLatency.Observe(duration.Seconds())
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}
