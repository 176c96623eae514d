package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"aquaflow/internal/logger"
)

// Config holds runtime configuration for the monitoring engine.
type Config struct {
	// HTTP API listen address
	ListenAddr string

	// Log level (trace|debug|info|warn|error)
	LogLevel string

	// Telemetry cycle interval
	TickInterval time.Duration

	// Probability [0,1] that a generated reading carries a fault signature
	FaultProbability float64

	// Offline monitor
	OfflineThreshold    time.Duration
	OfflinePollInterval time.Duration

	// Minimum window between a critical announcement and a follow-up
	// warning-level alert creation for the same sensor+metric
	ThrottleWindow time.Duration

	// Event bus subscriber buffer size
	EventBuffer int

	// Kafka event sink (disabled when Brokers is empty)
	Kafka KafkaConfig

	// InfluxDB reading store (disabled when URL is empty)
	Influx InfluxConfig

	// Seed a demo fleet of sensors into an empty store on startup
	SeedDemo bool
}

// KafkaConfig configures the outbound event sink.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// InfluxConfig configures the time-series reading store.
type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Default returns a sensible default config for local dev.
func Default() *Config {
	return &Config{
		ListenAddr:          ":8080",
		LogLevel:            "info",
		TickInterval:        15 * time.Second,
		FaultProbability:    0.03,
		OfflineThreshold:    5 * time.Minute,
		OfflinePollInterval: time.Minute,
		ThrottleWindow:      2 * time.Minute,
		EventBuffer:         256,
		Kafka: KafkaConfig{
			Topic:        "aquaflow.events",
			BatchSize:    50,
			BatchTimeout: 200 * time.Millisecond,
			WriteTimeout: 5 * time.Second,
		},
		Influx: InfluxConfig{
			Org:    "aquaflow",
			Bucket: "readings",
		},
		SeedDemo: true,
	}
}

// Load builds a Config from the environment on top of the defaults.
func Load() *Config {
	log := logger.WithComponent("config")
	cfg := Default()

	cfg.ListenAddr = gets("AQUAFLOW_LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = gets("AQUAFLOW_LOG_LEVEL", cfg.LogLevel)
	cfg.TickInterval = getd("AQUAFLOW_TICK_INTERVAL", cfg.TickInterval, log)
	cfg.FaultProbability = getf("AQUAFLOW_FAULT_PROBABILITY", cfg.FaultProbability, log)
	cfg.OfflineThreshold = getd("AQUAFLOW_OFFLINE_THRESHOLD", cfg.OfflineThreshold, log)
	cfg.OfflinePollInterval = getd("AQUAFLOW_OFFLINE_POLL_INTERVAL", cfg.OfflinePollInterval, log)
	cfg.ThrottleWindow = getd("AQUAFLOW_THROTTLE_WINDOW", cfg.ThrottleWindow, log)
	cfg.EventBuffer = geti("AQUAFLOW_EVENT_BUFFER", cfg.EventBuffer, log)
	cfg.SeedDemo = getb("AQUAFLOW_SEED_DEMO", cfg.SeedDemo, log)

	cfg.Kafka.Brokers = splitCSV(os.Getenv("AQUAFLOW_KAFKA_BROKERS"))
	cfg.Kafka.Topic = gets("AQUAFLOW_KAFKA_TOPIC", cfg.Kafka.Topic)
	cfg.Kafka.BatchSize = geti("AQUAFLOW_KAFKA_BATCH_SIZE", cfg.Kafka.BatchSize, log)
	cfg.Kafka.BatchTimeout = getd("AQUAFLOW_KAFKA_BATCH_TIMEOUT", cfg.Kafka.BatchTimeout, log)
	cfg.Kafka.WriteTimeout = getd("AQUAFLOW_KAFKA_WRITE_TIMEOUT", cfg.Kafka.WriteTimeout, log)

	cfg.Influx.URL = os.Getenv("INFLUXDB_URL")
	cfg.Influx.Token = os.Getenv("INFLUXDB_TOKEN")
	cfg.Influx.Org = gets("INFLUXDB_ORG", cfg.Influx.Org)
	cfg.Influx.Bucket = gets("INFLUXDB_BUCKET", cfg.Influx.Bucket)

	return cfg
}

func gets(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getf(key string, def float64, log zerolog.Logger) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid float in env, using default")
	}
	return def
}

func geti(key string, def int, log zerolog.Logger) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid int in env, using default")
	}
	return def
}

func getd(key string, def time.Duration, log zerolog.Logger) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid duration in env, using default")
	}
	return def
}

func getb(key string, def bool, log zerolog.Logger) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		log.Warn().Str("key", key).Str("value", v).Msg("invalid bool in env, using default")
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
