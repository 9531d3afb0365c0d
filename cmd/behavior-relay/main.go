// Command behavior-relay hosts a tracker for a non-browser client. It reads
// one JSON interaction per line on stdin, tracks it, and writes suggestion
// notifications to stdout. Logs go to stderr.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vincentbai/behaviortrace/internal/clock"
	"github.com/vincentbai/behaviortrace/internal/config"
	"github.com/vincentbai/behaviortrace/internal/storage"
	"github.com/vincentbai/behaviortrace/internal/tracker"
	"github.com/vincentbai/behaviortrace/internal/transport"
)

const unloadTimeout = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := config.NewLoggerTo(os.Stderr, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		logger.Error("failed to open storage", "driver", cfg.Storage.Driver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	r := newRelay(os.Stdout, logger)
	t := tracker.New(cfg.Tracker,
		transport.NewHTTP(cfg.Tracker.Endpoint, cfg.Tracker.Version, cfg.Tracker.RequestTimeout, clock.Real{}),
		tracker.WithStore(store),
		tracker.WithLogger(logger),
		tracker.WithPageLocator(tracker.PageLocatorFunc(r.page)),
		tracker.WithRegisterer(prometheus.DefaultRegisterer),
	)
	r.attach(t)

	if err := r.run(ctx, os.Stdin, t); err != nil {
		logger.Error("relay stopped", "error", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()
	if err := t.Close(closeCtx); err != nil {
		logger.Warn("unload flush incomplete", "error", err)
	}
	r.logSummary(t)
}

func openStore(ctx context.Context, cfg config.Storage) (storage.Store, func() error, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := storage.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "redis":
		s, err := storage.NewRedis(ctx, storage.RedisOptions{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			Namespace: cfg.RedisNamespace,
			Timeout:   3 * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "memory":
		return storage.NewMemory(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
