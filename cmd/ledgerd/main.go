// Command ledgerd serves the personal ledger over HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"ledger-engine/pkg/api"
	"ledger-engine/pkg/config"
	"ledger-engine/pkg/events"
	"ledger-engine/pkg/events/kafka"
	"ledger-engine/pkg/history"
	"ledger-engine/pkg/ledger"
	"ledger-engine/pkg/logging"
	"ledger-engine/pkg/metrics"
	promMetrics "ledger-engine/pkg/metrics/prometheus"
	"ledger-engine/pkg/resilience"
	"ledger-engine/pkg/store"
	"ledger-engine/pkg/store/chain"
	"ledger-engine/pkg/store/file"
	"ledger-engine/pkg/store/memory"
	"ledger-engine/pkg/store/postgres"
	"ledger-engine/pkg/store/redis"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logging.SetGlobal(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Ledger service failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *logging.Logger) (err error) {
	logger.Info("Starting ledger service",
		zap.String("store", cfg.Store),
		zap.Bool("store_cache", cfg.StoreCache),
		zap.Int64("node_id", cfg.NodeID))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := promMetrics.NewCollector(cfg.MetricsNamespace)
	if err := collector.Register(registry); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	st, err := openStore(cfg, logger, collector)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	publisher := events.NewPublisher(openSink(cfg, logger), events.Config{
		QueueSize: cfg.EventQueueSize,
		Workers:   cfg.EventWorkers,
		Logger:    logger,
		Metrics:   collector,
	})
	defer func() {
		if ferr := publisher.Flush(cfg.ShutdownTimeout); ferr != nil {
			logger.Warn("Events not flushed before shutdown", zap.Error(ferr))
		}
		err = multierr.Append(err, publisher.Close())
	}()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	l, err := ledger.New(st, ledger.Options{
		NodeID:    cfg.NodeID,
		Logger:    logger,
		Metrics:   collector,
		Publisher: publisher,
	})
	if err != nil {
		return err
	}
	h := history.New(st, history.Options{Location: loc, ReadTimeout: cfg.StoreTimeout, Logger: logger, Metrics: collector})

	serverConfig := api.DefaultServerConfig()
	serverConfig.Address = cfg.HTTPAddr
	serverConfig.ReadTimeout = cfg.ReadTimeout
	serverConfig.WriteTimeout = cfg.WriteTimeout
	serverConfig.MetricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	server := api.NewServer(l, h, serverConfig, api.Options{Logger: logger, Metrics: collector})
	if err := server.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down", zap.String("signal", sig.String()))
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if serr := server.Stop(ctx); serr != nil {
		err = multierr.Append(err, fmt.Errorf("stop server: %w", serr))
	}
	logger.Info("Server stopped")
	return err
}

// openStore builds the configured backend, wrapped in timeouts and a circuit
// breaker, optionally fronted by an in-process read tier.
func openStore(cfg *config.Config, logger *logging.Logger, collector metrics.Collector) (store.Store, error) {
	var backend store.Store
	switch cfg.Store {
	case config.StoreMemory:
		backend = memory.New(memory.Config{})
	case config.StoreFile:
		fs, err := file.Open(file.Config{Path: cfg.FilePath})
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}
		backend = fs
	case config.StoreRedis:
		rs, err := redis.New(cfg.RedisConfig())
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		backend = rs
	case config.StorePostgres:
		ps, err := postgres.New(cfg.PostgresConfig())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		backend = ps
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
	logger.Info("Store initialized", zap.String("backend", backend.Name()))

	protected := resilience.New(backend, cfg.ResilienceConfig(), resilience.Options{Metrics: collector, Logger: logger})
	if !cfg.StoreCache || cfg.Store == config.StoreMemory {
		return protected, nil
	}

	tiered, err := chain.New(chain.Config{Logger: logger, Metrics: collector, ReadTimeout: cfg.StoreTimeout},
		memory.New(memory.Config{Name: "cache"}), protected)
	if err != nil {
		return nil, multierr.Append(err, protected.Close())
	}
	logger.Info("Read tier enabled", zap.String("chain", tiered.Name()))
	return tiered, nil
}

func openSink(cfg *config.Config, logger *logging.Logger) events.Sink {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NewLogSink(logger)
	}
	kc := cfg.KafkaConfig()
	kc.Logger = logger
	sink, err := kafka.NewSink(kc)
	if err != nil {
		logger.Warn("Kafka sink unavailable, logging events instead", zap.Error(err))
		return events.NewLogSink(logger)
	}
	logger.Info("Publishing events to Kafka",
		zap.Strings("brokers", kc.Brokers),
		zap.String("topic", kc.Topic))
	return sink
}
