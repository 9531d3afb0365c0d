package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds tracker, storage and collector settings loaded from the
// environment (and an optional .env file).
type Config struct {
	LogLevel  string
	Tracker   Tracker
	Storage   Storage
	Collector Collector
}

type Tracker struct {
	Enabled            bool
	Endpoint           string
	Version            string
	RequestTimeout     time.Duration
	MaxBatchSize       int // queue length that triggers an immediate flush
	QueueCapacity      int // hard bound; oldest events are evicted beyond it
	FlushInterval      time.Duration
	RetryMaxAttempts   int
	RetryDelay         time.Duration
	HeartbeatEnabled   bool
	HeartbeatInterval  time.Duration
	HeartbeatTolerance time.Duration
	SessionTimeout     time.Duration
	SamplingRate       float64
	SessionKey         string
	RetryKey           string
	RetryMaxEvents     int // durable retry list bound, in events
	SuggestionCommands []string
}

type Storage struct {
	Driver         string // memory | sqlite | redis
	SQLitePath     string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string
}

type Collector struct {
	Address             string
	DatabasePath        string
	MaxEventsPerRequest int
}

// DefaultTracker mirrors the production tracking configuration.
func DefaultTracker() Tracker {
	return Tracker{
		Enabled:            true,
		Endpoint:           "http://127.0.0.1:8123/api/behavior/track",
		Version:            "1.0.0",
		RequestTimeout:     10 * time.Second,
		MaxBatchSize:       50,
		QueueCapacity:      1000,
		FlushInterval:      5 * time.Second,
		RetryMaxAttempts:   3,
		RetryDelay:         2 * time.Second,
		HeartbeatEnabled:   true,
		HeartbeatInterval:  10 * time.Second,
		HeartbeatTolerance: 100 * time.Millisecond,
		SessionTimeout:     30 * time.Minute,
		SamplingRate:       1.0,
		SessionKey:         "fin_ai_session",
		RetryKey:           "fin_ai_tracking_queue",
		RetryMaxEvents:     200,
	}
}

// Load loads configuration and performs basic validation.
func Load() (*Config, error) {
	_ = godotenv.Load()

	d := DefaultTracker()
	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Tracker: Tracker{
			Enabled:            getEnvAsBool("TRACKING_ENABLED", d.Enabled),
			Endpoint:           getEnv("TRACKING_ENDPOINT", d.Endpoint),
			Version:            getEnv("TRACKING_VERSION", d.Version),
			RequestTimeout:     getEnvAsDuration("TRACKING_REQUEST_TIMEOUT", d.RequestTimeout),
			MaxBatchSize:       getEnvAsInt("TRACKING_MAX_QUEUE_SIZE", d.MaxBatchSize),
			QueueCapacity:      getEnvAsInt("TRACKING_QUEUE_CAPACITY", d.QueueCapacity),
			FlushInterval:      getEnvAsDuration("TRACKING_UPLOAD_INTERVAL", d.FlushInterval),
			RetryMaxAttempts:   getEnvAsInt("TRACKING_RETRY_TIMES", d.RetryMaxAttempts),
			RetryDelay:         getEnvAsDuration("TRACKING_RETRY_DELAY", d.RetryDelay),
			HeartbeatEnabled:   getEnvAsBool("TRACKING_HEARTBEAT_ENABLED", d.HeartbeatEnabled),
			HeartbeatInterval:  getEnvAsDuration("TRACKING_HEARTBEAT_INTERVAL", d.HeartbeatInterval),
			HeartbeatTolerance: getEnvAsDuration("TRACKING_HEARTBEAT_TOLERANCE", d.HeartbeatTolerance),
			SessionTimeout:     getEnvAsDuration("TRACKING_SESSION_TIMEOUT", d.SessionTimeout),
			SamplingRate:       getEnvAsFloat("TRACKING_SAMPLING_RATE", d.SamplingRate),
			SessionKey:         getEnv("TRACKING_SESSION_KEY", d.SessionKey),
			RetryKey:           getEnv("TRACKING_STORAGE_KEY", d.RetryKey),
			RetryMaxEvents:     getEnvAsInt("TRACKING_STORAGE_MAX_SIZE", d.RetryMaxEvents),
			SuggestionCommands: getEnvAsList("TRACKING_SUGGESTION_COMMANDS", nil),
		},
		Storage: Storage{
			Driver:         strings.ToLower(getEnv("STORAGE_DRIVER", "memory")),
			SQLitePath:     getEnv("STORAGE_SQLITE_PATH", "tracker.db"),
			RedisAddr:      getEnv("STORAGE_REDIS_ADDR", "localhost:6379"),
			RedisPassword:  getEnv("STORAGE_REDIS_PASSWORD", ""),
			RedisDB:        getEnvAsInt("STORAGE_REDIS_DB", 0),
			RedisNamespace: getEnv("STORAGE_REDIS_NAMESPACE", "behaviortrace"),
		},
		Collector: Collector{
			Address:             getEnv("BROWSETRACE_ADDRESS", "127.0.0.1:8123"),
			DatabasePath:        getEnv("COLLECTOR_DATABASE_PATH", ""),
			MaxEventsPerRequest: getEnvAsInt("COLLECTOR_MAX_EVENTS", 100),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	if err := c.Tracker.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown STORAGE_DRIVER %q", c.Storage.Driver))
	}
	if c.Collector.MaxEventsPerRequest <= 0 {
		problems = append(problems, "COLLECTOR_MAX_EVENTS must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (t Tracker) Validate() error {
	var problems []string
	if t.Endpoint == "" {
		problems = append(problems, "endpoint is empty")
	}
	if t.MaxBatchSize <= 0 {
		problems = append(problems, "max batch size must be positive")
	}
	if t.QueueCapacity < t.MaxBatchSize {
		problems = append(problems, "queue capacity must be at least the max batch size")
	}
	if t.RetryMaxAttempts <= 0 {
		problems = append(problems, "retry max attempts must be positive")
	}
	if t.FlushInterval <= 0 || t.RetryDelay <= 0 {
		problems = append(problems, "flush interval and retry delay must be positive")
	}
	if t.HeartbeatEnabled && (t.HeartbeatInterval <= 0 || t.HeartbeatInterval >= t.SessionTimeout) {
		problems = append(problems, "heartbeat interval must be positive and shorter than the session timeout")
	}
	if t.SamplingRate < 0 || t.SamplingRate > 1 {
		problems = append(problems, "sampling rate must be within [0,1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("tracker: %s", strings.Join(problems, ", "))
	}
	return nil
}

func getEnv(key, def string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return value
}

func getEnvAsInt(key string, def int) int {
	if value, ok := os.LookupEnv(key); ok {
		i, err := strconv.Atoi(value)
		if err != nil {
			slog.Warn("invalid int in environment, using default", "key", key, "value", value, "default", def, "error", err)
			return def
		}
		return i
	}
	return def
}

func getEnvAsFloat(key string, def float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			slog.Warn("invalid float in environment, using default", "key", key, "value", value, "default", def, "error", err)
			return def
		}
		return f
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		b, err := strconv.ParseBool(value)
		if err != nil {
			slog.Warn("invalid bool in environment, using default", "key", key, "value", value, "default", def, "error", err)
			return def
		}
		return b
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			slog.Warn("invalid duration in environment, using default", "key", key, "value", value, "default", def, "error", err)
			return def
		}
		return d
	}
	return def
}

func getEnvAsList(key string, def []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
