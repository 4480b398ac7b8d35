package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tally/internal/amqp"
	"tally/internal/auth"
	"tally/internal/cli"
	apphttp "tally/internal/http"
	"tally/internal/session"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger("api")
	cfg := cli.LoadAndValidateConfig(logger)

	stores := cli.OpenStores(logger, cfg)
	defer stores.Close()

	var (
		broker *amqp.Client
		events auth.EventPublisher
		sync   apphttp.SyncPublisher
	)
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to connect to AMQP", "error", err)
			os.Exit(1)
		}
		broker = client
		events = client
		sync = client
		defer broker.Close()
		logger.Info("Connected to AMQP", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
	} else {
		logger.Warn("AMQP not configured, expense exports rely on the worker's periodic sweep")
	}

	sessions := session.NewManager(stores.Sessions, session.Config{
		Lifetime:    cfg.SessionLifetime,
		RotateAfter: cfg.SessionRotateAfter,
		RotateGrace: cfg.SessionRotateGrace,
		CookieName:  cfg.SessionCookieName,
	})
	authSvc := auth.NewService(stores.Users, stores.Attempts, sessions, events, cfg.AuthMinDuration)

	srv := apphttp.NewServer(":"+cfg.Port, stores.Users, stores.Expenses, sessions, authSvc, sync)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 15 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting tally server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
