package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/vincentbai/behaviortrace/internal/config"
	"github.com/vincentbai/behaviortrace/internal/database"
	"github.com/vincentbai/behaviortrace/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := config.NewLogger(cfg.LogLevel)

	databasePath := cfg.Collector.DatabasePath
	if databasePath == "" {
		databasePath, err = defaultDatabasePath()
		if err != nil {
			log.Fatal(err)
		}
	}

	db, err := database.NewDatabase(databasePath)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()
	logger.Info("database opened", "path", databasePath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(db, cfg.Collector.Address,
		server.WithLogger(logger),
		server.WithMaxEvents(cfg.Collector.MaxEventsPerRequest),
	)
	if err := srv.Start(ctx); err != nil {
		logger.Error("collector stopped", "error", err)
		os.Exit(1)
	}
}

// defaultDatabasePath picks the platform app-data directory.
func defaultDatabasePath() (string, error) {
	homeDirectory, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	var applicationDirectory string
	switch runtime.GOOS {
	case "darwin":
		applicationDirectory = filepath.Join(homeDirectory, "Library", "Application Support", "BehaviorTrace")
	case "windows":
		applicationDirectory = filepath.Join(homeDirectory, "AppData", "Roaming", "BehaviorTrace")
	default: // linux and others
		applicationDirectory = filepath.Join(homeDirectory, ".local", "share", "BehaviorTrace")
	}
	if err := os.MkdirAll(applicationDirectory, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(applicationDirectory, "behavior.db"), nil
}
