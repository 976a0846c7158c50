package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store != StoreMemory {
		t.Errorf("Expected memory store, got %s", cfg.Store)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("Expected :8080, got %s", cfg.HTTPAddr)
	}
	if cfg.RedisPrefix != "{ledger}" {
		t.Errorf("Expected {ledger} prefix, got %s", cfg.RedisPrefix)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("Expected no brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("LEDGER_STORE", "Postgres")
	t.Setenv("LEDGER_PG_PORT", "6543")
	t.Setenv("LEDGER_STORE_TIMEOUT", "250ms")
	t.Setenv("LEDGER_STORE_CACHE", "true")
	t.Setenv("LEDGER_KAFKA_BROKERS", "k1:9092, k2:9092 ,")
	t.Setenv("LEDGER_NODE_ID", "12")
	t.Setenv("LEDGER_BREAKER_FAILURES", "3")
	t.Setenv("LEDGER_TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Store != StorePostgres {
		t.Errorf("Expected postgres, got %s", cfg.Store)
	}
	if cfg.PostgresConfig().Port != 6543 {
		t.Errorf("Expected port 6543, got %d", cfg.PostgresConfig().Port)
	}
	if cfg.StoreTimeout != 250*time.Millisecond || cfg.ResilienceConfig().Timeout != 250*time.Millisecond {
		t.Errorf("Expected 250ms timeout, got %v", cfg.StoreTimeout)
	}
	if rc := cfg.ResilienceConfig(); rc.CircuitBreaker.ReadyToTrip != nil || rc.CircuitBreaker.ConsecutiveFailures != 3 {
		t.Errorf("Expected consecutive-failure breaker, got %+v", rc.CircuitBreaker)
	}
	if !cfg.StoreCache {
		t.Error("Expected store cache enabled")
	}
	if strings.Join(cfg.KafkaConfig().Brokers, "|") != "k1:9092|k2:9092" {
		t.Errorf("Unexpected brokers: %v", cfg.KafkaBrokers)
	}
	if cfg.NodeID != 12 {
		t.Errorf("Expected node 12, got %d", cfg.NodeID)
	}
	if loc, _ := cfg.Location(); loc != time.UTC {
		t.Errorf("Expected UTC, got %v", loc)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LEDGER_FILE_PATH=/tmp/from-env-file.json\nLEDGER_HTTP_ADDR=:9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LEDGER_HTTP_ADDR", ":7000")
	// godotenv sets variables process-wide; clear them after the test.
	t.Setenv("LEDGER_FILE_PATH", "")
	os.Unsetenv("LEDGER_FILE_PATH")

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.FilePath != "/tmp/from-env-file.json" {
		t.Errorf("Expected path from .env, got %s", cfg.FilePath)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Errorf("Expected environment to win over .env, got %s", cfg.HTTPAddr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "unknown store", mutate: func(c *Config) { c.Store = "mongo" }},
		{name: "file without path", mutate: func(c *Config) { c.Store = StoreFile; c.FilePath = "" }},
		{name: "node id out of range", mutate: func(c *Config) { c.NodeID = 2048 }},
		{name: "negative breaker failures", mutate: func(c *Config) { c.BreakerConsecutiveFailures = -1 }},
		{name: "brokers without topic", mutate: func(c *Config) { c.KafkaBrokers = []string{"k:9092"}; c.KafkaTopic = "" }},
		{name: "bad timezone", mutate: func(c *Config) { c.Timezone = "Mars/Olympus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
