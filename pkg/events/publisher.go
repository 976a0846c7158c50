package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ledger-engine/pkg/logging"
	"ledger-engine/pkg/metrics"
	"ledger-engine/pkg/model"

	"go.uber.org/zap"
)

// Config configures the publisher behavior.
type Config struct {
	// QueueSize is the bounded queue size (default: 1000)
	QueueSize int

	// Workers is the number of concurrent workers (default: 2)
	Workers int

	// MaxWaitTime is the max time to wait if the queue is full (default: 10ms)
	MaxWaitTime time.Duration

	// SendTimeout bounds a single sink delivery (default: 10s)
	SendTimeout time.Duration

	// MetricsInterval is how often queue depth is reported (default: 5s)
	MetricsInterval time.Duration

	Logger  *logging.Logger
	Metrics metrics.Collector
}

// Publisher delivers events to a Sink from a bounded queue and a worker pool.
type Publisher struct {
	sink    Sink
	queue   chan Event
	config  Config
	logger  *logging.Logger
	metrics metrics.Collector

	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
	closeErr   error

	// Statistics (accessed atomically)
	pending   int64
	published int64
	dropped   int64
	failed    int64

	metricsTicker *time.Ticker
	metricsStop   chan struct{}
}

// NewPublisher creates a publisher and starts its workers.
// It must be closed with Close.
func NewPublisher(sink Sink, config Config) *Publisher {
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.MaxWaitTime == 0 {
		config.MaxWaitTime = 10 * time.Millisecond
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = 10 * time.Second
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 5 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Publisher{
		sink:          sink,
		queue:         make(chan Event, config.QueueSize),
		config:        config,
		logger:        logger.Named("events").With(zap.String("sink", sink.Name())),
		metrics:       metrics.OrNoOp(config.Metrics),
		ctx:           ctx,
		cancelFunc:    cancel,
		metricsTicker: time.NewTicker(config.MetricsInterval),
		metricsStop:   make(chan struct{}),
	}

	for i := 0; i < config.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go p.reportMetrics()

	return p
}

// PublishTransaction enqueues a transaction.recorded event for tx.
func (p *Publisher) PublishTransaction(ctx context.Context, tx model.Transaction) error {
	return p.Publish(ctx, NewTransactionEvent(tx))
}

// Publish enqueues an event without blocking on delivery.
// If the queue is full, it waits up to MaxWaitTime before dropping the event.
// Returns ErrQueueFull if the event was dropped due to backpressure.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	select {
	case <-p.ctx.Done():
		return ErrPublisherClosed
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	timer := time.NewTimer(p.config.MaxWaitTime)
	defer timer.Stop()

	atomic.AddInt64(&p.pending, 1)
	select {
	case p.queue <- event:
		return nil
	case <-timer.C:
		atomic.AddInt64(&p.pending, -1)
		atomic.AddInt64(&p.dropped, 1)
		p.metrics.RecordEventDropped()
		p.logger.Warn("Event dropped, queue full",
			zap.String("event_id", event.ID),
			logging.OwnerID(event.OwnerID))
		return ErrQueueFull
	case <-ctx.Done():
		atomic.AddInt64(&p.pending, -1)
		return ctx.Err()
	case <-p.ctx.Done():
		atomic.AddInt64(&p.pending, -1)
		return ErrPublisherClosed
	}
}

// worker delivers events from the queue.
func (p *Publisher) worker() {
	defer p.wg.Done()

	for {
		select {
		case event := <-p.queue:
			p.deliver(event)
		case <-p.ctx.Done():
			// Drain remaining events before exiting
			for {
				select {
				case event := <-p.queue:
					p.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) deliver(event Event) {
	defer atomic.AddInt64(&p.pending, -1)

	ctx, cancel := context.WithTimeout(context.Background(), p.config.SendTimeout)
	defer cancel()

	start := time.Now()
	err := p.sink.Send(ctx, event)
	p.metrics.RecordEventPublish(err == nil, time.Since(start))

	if err != nil {
		atomic.AddInt64(&p.failed, 1)
		p.logger.Error("Event delivery failed",
			zap.String("event_id", event.ID),
			logging.OwnerID(event.OwnerID),
			logging.TransactionID(event.Transaction.ID),
			zap.Error(err))
		return
	}
	atomic.AddInt64(&p.published, 1)
}

// Flush waits until every accepted event has been handed to the sink, or until timeout.
func (p *Publisher) Flush(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		if atomic.LoadInt64(&p.pending) == 0 {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrFlushTimeout
		}

		time.Sleep(10 * time.Millisecond)
	}
}

// Close stops accepting events, delivers the ones already queued and closes the sink.
func (p *Publisher) Close() error {
	p.closeOnce.Do(func() {
		close(p.metricsStop)
		p.metricsTicker.Stop()

		p.cancelFunc()
		p.wg.Wait()

		p.closeErr = p.sink.Close()
		p.logger.Info("Event publisher closed",
			zap.Int64("published", atomic.LoadInt64(&p.published)),
			zap.Int64("dropped", atomic.LoadInt64(&p.dropped)),
			zap.Int64("failed", atomic.LoadInt64(&p.failed)))
	})
	return p.closeErr
}

// reportMetrics periodically reports queue depth.
func (p *Publisher) reportMetrics() {
	for {
		select {
		case <-p.metricsTicker.C:
			p.metrics.RecordEventQueueDepth(len(p.queue))
		case <-p.metricsStop:
			return
		}
	}
}

// Stats returns current statistics about the publisher.
func (p *Publisher) Stats() Stats {
	return Stats{
		QueueDepth: len(p.queue),
		Pending:    atomic.LoadInt64(&p.pending),
		Published:  atomic.LoadInt64(&p.published),
		Dropped:    atomic.LoadInt64(&p.dropped),
		Failed:     atomic.LoadInt64(&p.failed),
	}
}
