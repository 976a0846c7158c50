// Package kafka provides an events.Sink backed by a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-engine/pkg/events"
	"ledger-engine/pkg/logging"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Config holds Kafka sink configuration.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
	MaxAttempts  int
	Logger       *logging.Logger
}

// DefaultConfig returns a Kafka sink configuration with default values.
func DefaultConfig() Config {
	return Config{
		Brokers:      []string{"localhost:9092"},
		Topic:        "ledger.transactions",
		WriteTimeout: 10 * time.Second,
		MaxAttempts:  3,
	}
}

// messageWriter is the subset of *kafkago.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Sink writes events to Kafka, keyed by owner so that one owner's events stay
// ordered within a partition.
type Sink struct {
	writer messageWriter
	topic  string
	logger *logging.Logger
}

// NewSink creates a Kafka sink. Connections are established lazily on first send.
func NewSink(config Config) (*Sink, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka: at least one broker required")
	}
	if config.Topic == "" {
		return nil, errors.New("kafka: topic required")
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}
	logger = logger.Named("kafka")

	writer := &kafkago.Writer{
		Addr:         kafkago.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafkago.Hash{},
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: kafkago.RequireAll,
		MaxAttempts:  config.MaxAttempts,
		Logger:       kafkago.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:  kafkago.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
	}

	return newSink(writer, config.Topic, logger), nil
}

func newSink(w messageWriter, topic string, logger *logging.Logger) *Sink {
	return &Sink{writer: w, topic: topic, logger: logger}
}

// Send implements events.Sink.
func (s *Sink) Send(ctx context.Context, event events.Event) error {
	value, err := event.Encode()
	if err != nil {
		return fmt.Errorf("kafka: encode event %s: %w", event.ID, err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.OwnerID),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: produce to %s: %w", s.topic, err)
	}
	s.logger.Debug("Event produced",
		zap.String("topic", s.topic),
		zap.String("event_id", event.ID),
		logging.OwnerID(event.OwnerID))
	return nil
}

// Name implements events.Sink.
func (s *Sink) Name() string { return "kafka" }

// Close implements events.Sink.
func (s *Sink) Close() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("kafka: close writer: %w", err)
	}
	return nil
}
