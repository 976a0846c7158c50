// Package events publishes notifications about committed ledger transactions.
//
// Publication happens after the ledger has committed, on a bounded queue
// drained by a worker pool. A full queue drops the event rather than blocking
// the caller; events are at-most-once notifications, not the ledger of record.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ledger-engine/pkg/model"

	"github.com/google/uuid"
)

// TypeTransactionRecorded is the type of events emitted for committed transactions.
const TypeTransactionRecorded = "transaction.recorded"

// Event is one notification.
type Event struct {
	ID          string            `json:"id"`
	Type        string            `json:"type"`
	OwnerID     string            `json:"ownerId"`
	Transaction model.Transaction `json:"transaction"`
	OccurredAt  time.Time         `json:"occurredAt"`
}

// NewTransactionEvent wraps a committed transaction.
func NewTransactionEvent(tx model.Transaction) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        TypeTransactionRecorded,
		OwnerID:     tx.OwnerID,
		Transaction: tx,
		OccurredAt:  tx.Timestamp,
	}
}

// Encode returns the wire form of e.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Sink delivers events to a destination.
type Sink interface {
	Send(ctx context.Context, event Event) error
	Name() string
	Close() error
}

// Errors returned by the publisher.
var (
	// ErrQueueFull is returned when the queue stayed full for MaxWaitTime and the event was dropped
	ErrQueueFull = errors.New("events: queue full, event dropped")

	// ErrPublisherClosed is returned when publishing to a closed publisher
	ErrPublisherClosed = errors.New("events: publisher is closed")

	// ErrFlushTimeout is returned when Flush times out waiting for the queue to drain
	ErrFlushTimeout = errors.New("events: flush timeout exceeded")
)

// Stats provides statistics about publisher operations.
type Stats struct {
	// QueueDepth is the current number of events waiting in the queue
	QueueDepth int

	// Pending is the number of accepted events not yet handed to the sink
	Pending int64

	// Published is the total number of events the sink accepted
	Published int64

	// Dropped is the total number of events dropped due to backpressure
	Dropped int64

	// Failed is the total number of events the sink rejected
	Failed int64
}
