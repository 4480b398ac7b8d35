// Package cli provides common initialization shared by cmd/tally and
// cmd/tally-worker.
package cli

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tally/internal/config"
	"tally/internal/core"
	"tally/internal/log"
	"tally/internal/storage"
	"tally/internal/storage/postgres"
)

// SetupLogger initializes structured logging for a component and sets
// it as the process default. Level comes from LOG_LEVEL.
func SetupLogger(component string) *log.Logger {
	logger := log.New(log.ParseLevel(os.Getenv("LOG_LEVEL"))).WithComponent(component)
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *log.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// Stores bundles the storage ports both binaries need, backed by one
// database handle.
type Stores struct {
	Users    core.UserStore
	Sessions core.SessionStore
	Attempts core.AttemptStore
	Expenses core.ExpenseStore

	db *sql.DB
}

func (s *Stores) Close() error {
	return s.db.Close()
}

// OpenStores opens the configured backend, runs migrations, and wires
// the repositories. Exits the process on failure.
func OpenStores(logger *log.Logger, cfg *config.Config) *Stores {
	switch cfg.DataBackend {
	case "postgres":
		db, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			logger.Error("Failed to open postgres database", "error", err)
			os.Exit(1)
		}
		repo := postgres.NewRepository(db)
		return &Stores{Users: repo, Sessions: repo, Attempts: repo, Expenses: repo, db: db}
	default:
		db, err := storage.Open(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to open sqlite database", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		repo := storage.NewSQLiteRepository(db)
		return &Stores{Users: repo, Sessions: repo, Attempts: repo, Expenses: repo, db: db}
	}
}

// GracefulShutdown sets up signal handling for graceful shutdown.
// Returns a context cancelled on SIGINT/SIGTERM and a channel closed
// once cleanup has run.
func GracefulShutdown(logger *log.Logger, timeout time.Duration, cleanup func()) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
		defer shutdownCancel()

		if cleanup != nil {
			cleanup()
		}

		cancel()

		select {
		case <-shutdownCtx.Done():
			logger.Warn("Shutdown timeout reached")
		case <-time.After(2 * time.Second):
			logger.Info("Shutdown complete")
		}
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the context is cancelled and cleanup has
// finished.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
