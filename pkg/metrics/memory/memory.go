// Package memory implements metrics.Collector in memory for tests.
package memory

import (
	"strconv"
	"sync"
	"time"

	"ledger-engine/pkg/metrics"
)

// Collector implements metrics.Collector for in-memory testing.
type Collector struct {
	mu sync.RWMutex

	mutations map[string]map[string]int64 // kind -> outcome -> count
	lockWaits []time.Duration

	queries      map[string]int64
	queryResults map[string][]int

	stores map[string]*StoreMetrics

	chainHits        int64
	chainMisses      int64
	chainHitsByLayer map[int]int64

	eventQueueDepth int
	eventsDropped   int64
	eventsPublished int64
	eventErrors     int64

	httpRequests map[string]int64 // "METHOD route status" -> count
}

// StoreMetrics holds metrics for a single store.
type StoreMetrics struct {
	// Operation counts by op name
	Ops    map[string]int64
	Errors map[string]int64

	// Circuit breaker
	CircuitState metrics.CircuitState
	CircuitOpens int64

	Latencies []time.Duration
}

// NewCollector creates a new in-memory metrics collector.
func NewCollector() *Collector {
	c := &Collector{}
	c.reset()
	return c
}

func (c *Collector) reset() {
	c.mutations = make(map[string]map[string]int64)
	c.lockWaits = nil
	c.queries = make(map[string]int64)
	c.queryResults = make(map[string][]int)
	c.stores = make(map[string]*StoreMetrics)
	c.chainHits, c.chainMisses = 0, 0
	c.chainHitsByLayer = make(map[int]int64)
	c.eventQueueDepth = 0
	c.eventsDropped, c.eventsPublished, c.eventErrors = 0, 0, 0
	c.httpRequests = make(map[string]int64)
}

// storeLocked returns the StoreMetrics for name, creating it if needed.
// Must be called with c.mu held for writing.
func (c *Collector) storeLocked(name string) *StoreMetrics {
	sm, ok := c.stores[name]
	if !ok {
		sm = &StoreMetrics{Ops: make(map[string]int64), Errors: make(map[string]int64)}
		c.stores[name] = sm
	}
	return sm
}

// RecordMutation records a deposit or withdrawal attempt.
func (c *Collector) RecordMutation(kind string, outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mutations[kind] == nil {
		c.mutations[kind] = make(map[string]int64)
	}
	c.mutations[kind][outcome]++
}

// RecordLockWait records time spent acquiring a per-account lock.
func (c *Collector) RecordLockWait(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lockWaits = append(c.lockWaits, duration)
}

// RecordQuery records a transaction query.
func (c *Collector) RecordQuery(query string, results int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queries[query]++
	c.queryResults[query] = append(c.queryResults[query], results)
}

// RecordStoreOp records a store operation.
func (c *Collector) RecordStoreOp(store string, op string, success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sm := c.storeLocked(store)
	sm.Ops[op]++
	if !success {
		sm.Errors[op]++
	}
	sm.Latencies = append(sm.Latencies, duration)
}

// RecordChainRead records a chain-level read.
func (c *Collector) RecordChainRead(hit bool, layerIndex int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if hit {
		c.chainHits++
		c.chainHitsByLayer[layerIndex]++
	} else {
		c.chainMisses++
	}
}

// RecordCircuitState records the current circuit breaker state.
func (c *Collector) RecordCircuitState(store string, state metrics.CircuitState) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sm := c.storeLocked(store)
	oldState := sm.CircuitState
	sm.CircuitState = state

	// Count transitions to open
	if oldState != metrics.CircuitOpen && state == metrics.CircuitOpen {
		sm.CircuitOpens++
	}
}

// RecordEventQueueDepth records the current publisher queue depth.
func (c *Collector) RecordEventQueueDepth(depth int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.eventQueueDepth = depth
}

// RecordEventDropped records an event dropped on a full queue.
func (c *Collector) RecordEventDropped() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.eventsDropped++
}

// RecordEventPublish records one publish attempt to the sink.
func (c *Collector) RecordEventPublish(success bool, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.eventsPublished++
	if !success {
		c.eventErrors++
	}
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.httpRequests[HTTPKey(method, route, status)]++
}

// HTTPKey builds the Snapshot.HTTPRequests key for a request.
func HTTPKey(method, route string, status int) string {
	return method + " " + route + " " + strconv.Itoa(status)
}

// Snapshot is a copy of the collected metrics.
type Snapshot struct {
	Mutations        map[string]map[string]int64
	LockWaits        int
	Queries          map[string]int64
	QueryResults     map[string][]int
	Stores           map[string]StoreMetrics
	ChainHits        int64
	ChainMisses      int64
	ChainHitsByLayer map[int]int64
	EventQueueDepth  int
	EventsDropped    int64
	EventsPublished  int64
	EventErrors      int64
	HTTPRequests     map[string]int64
}

// Snapshot returns a copy of the current metrics state.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Mutations:        make(map[string]map[string]int64, len(c.mutations)),
		LockWaits:        len(c.lockWaits),
		Queries:          make(map[string]int64, len(c.queries)),
		QueryResults:     make(map[string][]int, len(c.queryResults)),
		Stores:           make(map[string]StoreMetrics, len(c.stores)),
		ChainHits:        c.chainHits,
		ChainMisses:      c.chainMisses,
		ChainHitsByLayer: make(map[int]int64, len(c.chainHitsByLayer)),
		EventQueueDepth:  c.eventQueueDepth,
		EventsDropped:    c.eventsDropped,
		EventsPublished:  c.eventsPublished,
		EventErrors:      c.eventErrors,
		HTTPRequests:     make(map[string]int64, len(c.httpRequests)),
	}

	for kind, outcomes := range c.mutations {
		m := make(map[string]int64, len(outcomes))
		for o, n := range outcomes {
			m[o] = n
		}
		snap.Mutations[kind] = m
	}
	for q, n := range c.queries {
		snap.Queries[q] = n
	}
	for q, r := range c.queryResults {
		snap.QueryResults[q] = append([]int(nil), r...)
	}
	for name, sm := range c.stores {
		cp := StoreMetrics{
			Ops:          make(map[string]int64, len(sm.Ops)),
			Errors:       make(map[string]int64, len(sm.Errors)),
			CircuitState: sm.CircuitState,
			CircuitOpens: sm.CircuitOpens,
			Latencies:    append([]time.Duration(nil), sm.Latencies...),
		}
		for op, n := range sm.Ops {
			cp.Ops[op] = n
		}
		for op, n := range sm.Errors {
			cp.Errors[op] = n
		}
		snap.Stores[name] = cp
	}
	for idx, hits := range c.chainHitsByLayer {
		snap.ChainHitsByLayer[idx] = hits
	}
	for k, n := range c.httpRequests {
		snap.HTTPRequests[k] = n
	}

	return snap
}

// Reset clears all collected metrics.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reset()
}
