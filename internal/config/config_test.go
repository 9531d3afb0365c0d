package config

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := DefaultTracker()
	if cfg.Tracker.MaxBatchSize != want.MaxBatchSize || cfg.Tracker.FlushInterval != want.FlushInterval {
		t.Errorf("tracker defaults not applied: %+v", cfg.Tracker)
	}
	if cfg.Storage.Driver != "memory" {
		t.Errorf("Storage.Driver = %q, want memory", cfg.Storage.Driver)
	}
	if cfg.Collector.MaxEventsPerRequest != 100 {
		t.Errorf("MaxEventsPerRequest = %d", cfg.Collector.MaxEventsPerRequest)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("TRACKING_MAX_QUEUE_SIZE", "20")
	t.Setenv("TRACKING_UPLOAD_INTERVAL", "1s")
	t.Setenv("TRACKING_SAMPLING_RATE", "0.5")
	t.Setenv("TRACKING_HEARTBEAT_ENABLED", "false")
	t.Setenv("TRACKING_SUGGESTION_COMMANDS", "show-bubble, speak-and-show")
	t.Setenv("STORAGE_DRIVER", "SQLite")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tracker.MaxBatchSize != 20 || cfg.Tracker.FlushInterval != time.Second {
		t.Errorf("overrides not applied: %+v", cfg.Tracker)
	}
	if cfg.Tracker.SamplingRate != 0.5 || cfg.Tracker.HeartbeatEnabled {
		t.Errorf("sampling/heartbeat overrides not applied: %+v", cfg.Tracker)
	}
	if got := cfg.Tracker.SuggestionCommands; len(got) != 2 || got[1] != "speak-and-show" {
		t.Errorf("SuggestionCommands = %v", got)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q", cfg.Storage.Driver)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("TRACKING_RETRY_TIMES", "many")
	t.Setenv("TRACKING_RETRY_DELAY", "soon")

	var buf bytes.Buffer
	previous := slog.Default()
	slog.SetDefault(NewLoggerTo(&buf, "warn"))
	t.Cleanup(func() { slog.SetDefault(previous) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Tracker.RetryMaxAttempts != 3 || cfg.Tracker.RetryDelay != 2*time.Second {
		t.Errorf("expected defaults on parse failure, got %+v", cfg.Tracker)
	}
	for _, key := range []string{"TRACKING_RETRY_TIMES", "TRACKING_RETRY_DELAY"} {
		if !strings.Contains(buf.String(), "key="+key) {
			t.Errorf("no warning logged for %s: %q", key, buf.String())
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad driver", func(c *Config) { c.Storage.Driver = "etcd" }, "STORAGE_DRIVER"},
		{"zero batch", func(c *Config) { c.Tracker.MaxBatchSize = 0 }, "max batch size"},
		{"capacity below batch", func(c *Config) { c.Tracker.QueueCapacity = 10 }, "queue capacity"},
		{"heartbeat too slow", func(c *Config) { c.Tracker.HeartbeatInterval = time.Hour }, "heartbeat"},
		{"no retry attempts", func(c *Config) { c.Tracker.RetryMaxAttempts = 0 }, "retry max attempts"},
		{"sampling out of range", func(c *Config) { c.Tracker.SamplingRate = 1.5 }, "sampling"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Tracker:   DefaultTracker(),
				Storage:   Storage{Driver: "memory"},
				Collector: Collector{MaxEventsPerRequest: 100},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for raw, want := range tests {
		if got := parseLevel(raw); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, "warn")
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected log output: %s", out)
	}
}
