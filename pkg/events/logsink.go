package events

import (
	"context"

	"ledger-engine/pkg/logging"

	"go.uber.org/zap"
)

// LogSink writes events to a logger. It is the sink used when no broker is configured.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a sink logging through logger (the global logger when nil).
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Global()
	}
	return &LogSink{logger: logger.Named("event")}
}

// Send implements Sink.
func (s *LogSink) Send(ctx context.Context, event Event) error {
	tx := event.Transaction
	s.logger.Info("Event",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		logging.OwnerID(event.OwnerID),
		logging.TransactionID(tx.ID),
		zap.String("kind", string(tx.Kind)),
		logging.Amount("amount", tx.Amount),
		logging.Amount("balance_after", tx.BalanceAfter),
		zap.Time("occurred_at", event.OccurredAt))
	return nil
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Close implements Sink.
func (s *LogSink) Close() error { return nil }
