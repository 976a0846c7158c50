package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ledger-engine/pkg/logging"
	metricsmemory "ledger-engine/pkg/metrics/memory"
	"ledger-engine/pkg/model"

	"go.uber.org/zap/zapcore"
)

// funcSink is a Sink driven by a function.
type funcSink struct {
	send   func(ctx context.Context, event Event) error
	closed int32
}

func (s *funcSink) Send(ctx context.Context, event Event) error {
	if s.send == nil {
		return nil
	}
	return s.send(ctx, event)
}

func (s *funcSink) Name() string { return "func" }

func (s *funcSink) Close() error {
	atomic.AddInt32(&s.closed, 1)
	return nil
}

// recordingSink keeps every event it receives.
func recordingSink() (*funcSink, func() []Event) {
	var mu sync.Mutex
	var got []Event
	sink := &funcSink{send: func(ctx context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	}}
	return sink, func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), got...)
	}
}

func testTx(id string) model.Transaction {
	return model.Transaction{
		ID:           id,
		OwnerID:      "user_1",
		Kind:         model.KindDeposit,
		Amount:       100,
		Description:  "Deposit",
		Timestamp:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		BalanceAfter: 100,
	}
}

func TestNewPublisher_Defaults(t *testing.T) {
	p := NewPublisher(&funcSink{}, Config{})
	defer p.Close()

	if cap(p.queue) != 1000 {
		t.Errorf("Expected default queue size 1000, got %d", cap(p.queue))
	}
	if p.config.Workers != 2 {
		t.Errorf("Expected default workers 2, got %d", p.config.Workers)
	}
	if p.config.MaxWaitTime != 10*time.Millisecond {
		t.Errorf("Expected default MaxWaitTime 10ms, got %v", p.config.MaxWaitTime)
	}
}

func TestPublisher_PublishTransaction(t *testing.T) {
	sink, got := recordingSink()
	p := NewPublisher(sink, Config{QueueSize: 10, Workers: 1})
	defer p.Close()

	if err := p.PublishTransaction(context.Background(), testTx("1")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := p.Flush(time.Second); err != nil {
		t.Fatal(err)
	}

	events := got()
	if len(events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Type != TypeTransactionRecorded || e.OwnerID != "user_1" || e.Transaction.ID != "1" {
		t.Errorf("Unexpected event: %+v", e)
	}
	if e.ID == "" {
		t.Error("Expected an event id")
	}
	if !e.OccurredAt.Equal(e.Transaction.Timestamp) {
		t.Errorf("Expected OccurredAt to be the transaction time, got %v", e.OccurredAt)
	}

	if p.Stats().Published != 1 {
		t.Errorf("Expected 1 published, got %d", p.Stats().Published)
	}
}

func TestPublisher_ConcurrentPublish(t *testing.T) {
	sink, got := recordingSink()
	p := NewPublisher(sink, Config{QueueSize: 100, Workers: 4, MaxWaitTime: time.Second})
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := p.PublishTransaction(context.Background(), testTx(fmt.Sprint(i))); err != nil {
				t.Errorf("Publish %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if err := p.Flush(time.Second); err != nil {
		t.Fatal(err)
	}
	if len(got()) != 50 {
		t.Errorf("Expected 50 events, got %d", len(got()))
	}
}

func TestPublisher_Backpressure(t *testing.T) {
	release := make(chan struct{})
	sink := &funcSink{send: func(ctx context.Context, e Event) error {
		<-release
		return nil
	}}
	collector := metricsmemory.NewCollector()
	p := NewPublisher(sink, Config{QueueSize: 2, Workers: 1, MaxWaitTime: 5 * time.Millisecond, Metrics: collector})
	defer p.Close()
	defer close(release)

	var dropped int
	for i := 0; i < 10; i++ {
		err := p.PublishTransaction(context.Background(), testTx(fmt.Sprint(i)))
		if errors.Is(err, ErrQueueFull) {
			dropped++
		} else if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	// One event held by the worker plus two queued.
	if dropped < 7 {
		t.Errorf("Expected at least 7 drops, got %d", dropped)
	}
	if p.Stats().Dropped != int64(dropped) {
		t.Errorf("Expected %d dropped in stats, got %d", dropped, p.Stats().Dropped)
	}
	if collector.Snapshot().EventsDropped != int64(dropped) {
		t.Errorf("Expected %d dropped in metrics, got %d", dropped, collector.Snapshot().EventsDropped)
	}
}

func TestPublisher_ContextCancellation(t *testing.T) {
	p := NewPublisher(&funcSink{}, Config{})
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.PublishTransaction(ctx, testTx("1")); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestPublisher_SinkFailure(t *testing.T) {
	sink := &funcSink{send: func(ctx context.Context, e Event) error {
		return errors.New("broker unavailable")
	}}
	logger, logs := logging.NewObserved(zapcore.ErrorLevel)
	p := NewPublisher(sink, Config{Workers: 1, Logger: logger})
	defer p.Close()

	for i := 0; i < 3; i++ {
		if err := p.PublishTransaction(context.Background(), testTx(fmt.Sprint(i))); err != nil {
			t.Fatalf("Publish must not surface sink failures: %v", err)
		}
	}
	if err := p.Flush(time.Second); err != nil {
		t.Fatal(err)
	}

	if p.Stats().Failed != 3 {
		t.Errorf("Expected 3 failures, got %d", p.Stats().Failed)
	}
	if logs.FilterMessage("Event delivery failed").Len() != 3 {
		t.Errorf("Expected 3 failure logs, got %d", logs.FilterMessage("Event delivery failed").Len())
	}
}

func TestPublisher_FlushTimeout(t *testing.T) {
	release := make(chan struct{})
	sink := &funcSink{send: func(ctx context.Context, e Event) error {
		<-release
		return nil
	}}
	p := NewPublisher(sink, Config{Workers: 1})
	defer p.Close()
	defer close(release)

	p.PublishTransaction(context.Background(), testTx("1"))

	if err := p.Flush(30 * time.Millisecond); !errors.Is(err, ErrFlushTimeout) {
		t.Errorf("Expected ErrFlushTimeout, got %v", err)
	}
}

func TestPublisher_CloseDrains(t *testing.T) {
	var delivered int64
	sink := &funcSink{send: func(ctx context.Context, e Event) error {
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&delivered, 1)
		return nil
	}}
	p := NewPublisher(sink, Config{QueueSize: 100, Workers: 2, MaxWaitTime: time.Second})

	for i := 0; i < 20; i++ {
		if err := p.PublishTransaction(context.Background(), testTx(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt64(&delivered) != 20 {
		t.Errorf("Expected 20 delivered before Close returned, got %d", delivered)
	}
	if atomic.LoadInt32(&sink.closed) != 1 {
		t.Error("Expected sink closed exactly once")
	}

	if err := p.Close(); err != nil {
		t.Errorf("Second Close returned %v", err)
	}
	if atomic.LoadInt32(&sink.closed) != 1 {
		t.Error("Second Close closed the sink again")
	}
}

func TestPublisher_PublishAfterClose(t *testing.T) {
	p := NewPublisher(&funcSink{}, Config{})
	p.Close()

	if err := p.PublishTransaction(context.Background(), testTx("1")); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Expected ErrPublisherClosed, got %v", err)
	}
}

func TestLogSink(t *testing.T) {
	logger, logs := logging.NewObserved(zapcore.InfoLevel)
	sink := NewLogSink(logger)

	if err := sink.Send(context.Background(), NewTransactionEvent(testTx("7"))); err != nil {
		t.Fatal(err)
	}
	entries := logs.FilterField(logging.TransactionID("7")).All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 log entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["type"] != TypeTransactionRecorded {
		t.Errorf("Unexpected entry fields: %v", entries[0].ContextMap())
	}
}
