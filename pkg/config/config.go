// Package config loads the ledger service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ledger-engine/pkg/events/kafka"
	"ledger-engine/pkg/logging"
	"ledger-engine/pkg/resilience"
	"ledger-engine/pkg/store/postgres"
	"ledger-engine/pkg/store/redis"

	"github.com/joho/godotenv"
)

// Store backends selectable with LEDGER_STORE.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

// Config is the service configuration.
type Config struct {
	// HTTP server
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Store
	Store      string
	StoreCache bool
	FilePath   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	PostgresTable    string

	// Resilience
	StoreTimeout               time.Duration
	BreakerTimeout             time.Duration
	BreakerConsecutiveFailures int

	// Events
	KafkaBrokers   []string
	KafkaTopic     string
	EventQueueSize int
	EventWorkers   int

	// Ledger
	NodeID   int64
	Timezone string

	MetricsNamespace string
	Log              logging.Config
}

// Load reads the configuration. Each given .env file is loaded first if it
// exists; variables already set in the environment win over file values.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	pg := postgres.DefaultConfig()
	rd := redis.DefaultConfig()
	kf := kafka.DefaultConfig()

	cfg := &Config{
		HTTPAddr:        getEnvOrDefault("LEDGER_HTTP_ADDR", ":8080"),
		ReadTimeout:     getEnvAsDuration("LEDGER_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvAsDuration("LEDGER_HTTP_WRITE_TIMEOUT", 15*time.Second),
		ShutdownTimeout: getEnvAsDuration("LEDGER_SHUTDOWN_TIMEOUT", 10*time.Second),

		Store:      strings.ToLower(getEnvOrDefault("LEDGER_STORE", StoreMemory)),
		StoreCache: getEnvAsBool("LEDGER_STORE_CACHE", false),
		FilePath:   getEnvOrDefault("LEDGER_FILE_PATH", "data/ledger.json"),

		RedisAddr:     getEnvOrDefault("LEDGER_REDIS_ADDR", rd.Addr),
		RedisPassword: os.Getenv("LEDGER_REDIS_PASSWORD"),
		RedisDB:       getEnvAsInt("LEDGER_REDIS_DB", 0),
		RedisPrefix:   getEnvOrDefault("LEDGER_REDIS_PREFIX", rd.KeyPrefix),

		PostgresHost:     getEnvOrDefault("LEDGER_PG_HOST", pg.Host),
		PostgresPort:     getEnvAsInt("LEDGER_PG_PORT", pg.Port),
		PostgresUser:     getEnvOrDefault("LEDGER_PG_USER", pg.User),
		PostgresPassword: getEnvOrDefault("LEDGER_PG_PASSWORD", pg.Password),
		PostgresDB:       getEnvOrDefault("LEDGER_PG_DB", pg.Database),
		PostgresSSLMode:  getEnvOrDefault("LEDGER_PG_SSLMODE", pg.SSLMode),
		PostgresTable:    getEnvOrDefault("LEDGER_PG_TABLE", pg.Table),

		StoreTimeout:               getEnvAsDuration("LEDGER_STORE_TIMEOUT", 5*time.Second),
		BreakerTimeout:             getEnvAsDuration("LEDGER_BREAKER_TIMEOUT", 30*time.Second),
		BreakerConsecutiveFailures: getEnvAsInt("LEDGER_BREAKER_FAILURES", 0),

		KafkaBrokers:   getEnvAsList("LEDGER_KAFKA_BROKERS"),
		KafkaTopic:     getEnvOrDefault("LEDGER_KAFKA_TOPIC", kf.Topic),
		EventQueueSize: getEnvAsInt("LEDGER_EVENT_QUEUE_SIZE", 1000),
		EventWorkers:   getEnvAsInt("LEDGER_EVENT_WORKERS", 2),

		NodeID:   int64(getEnvAsInt("LEDGER_NODE_ID", 0)),
		Timezone: getEnvOrDefault("LEDGER_TIMEZONE", "Local"),

		MetricsNamespace: getEnvOrDefault("LEDGER_METRICS_NAMESPACE", "ledger"),
		Log:              logging.ConfigFromEnv(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StoreFile, StoreRedis, StorePostgres:
	default:
		return fmt.Errorf("config: unknown store %q (want memory, file, redis or postgres)", c.Store)
	}
	if c.Store == StoreFile && c.FilePath == "" {
		return errors.New("config: LEDGER_FILE_PATH is required for the file store")
	}
	if c.HTTPAddr == "" {
		return errors.New("config: LEDGER_HTTP_ADDR is required")
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("config: LEDGER_NODE_ID %d out of range 0-1023", c.NodeID)
	}
	if c.BreakerConsecutiveFailures < 0 {
		return fmt.Errorf("config: LEDGER_BREAKER_FAILURES %d is negative", c.BreakerConsecutiveFailures)
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == "" {
		return errors.New("config: LEDGER_KAFKA_TOPIC is required with LEDGER_KAFKA_BROKERS")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: LEDGER_TIMEZONE: %w", err)
	}
	return loc, nil
}

// RedisConfig returns the Redis store configuration.
func (c *Config) RedisConfig() redis.Config {
	rc := redis.DefaultConfig()
	rc.Addr = c.RedisAddr
	rc.Password = c.RedisPassword
	rc.DB = c.RedisDB
	rc.KeyPrefix = c.RedisPrefix
	return rc
}

// PostgresConfig returns the PostgreSQL store configuration.
func (c *Config) PostgresConfig() postgres.Config {
	pc := postgres.DefaultConfig()
	pc.Host = c.PostgresHost
	pc.Port = c.PostgresPort
	pc.User = c.PostgresUser
	pc.Password = c.PostgresPassword
	pc.Database = c.PostgresDB
	pc.SSLMode = c.PostgresSSLMode
	pc.Table = c.PostgresTable
	return pc
}

// ResilienceConfig returns the store protection configuration.
func (c *Config) ResilienceConfig() resilience.Config {
	rc := resilience.DefaultConfig().
		WithTimeout(c.StoreTimeout).
		WithCircuitBreakerTimeout(c.BreakerTimeout)
	if c.BreakerConsecutiveFailures > 0 {
		rc = rc.WithConsecutiveFailures(uint32(c.BreakerConsecutiveFailures))
	}
	return rc
}

// KafkaConfig returns the Kafka sink configuration.
func (c *Config) KafkaConfig() kafka.Config {
	kc := kafka.DefaultConfig()
	kc.Brokers = c.KafkaBrokers
	kc.Topic = c.KafkaTopic
	return kc
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
