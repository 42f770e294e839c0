package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"github.com/JonMunkholm/ledgerbridge/internal/bulk"
	"github.com/JonMunkholm/ledgerbridge/internal/config"
	"github.com/JonMunkholm/ledgerbridge/internal/core"
	"github.com/JonMunkholm/ledgerbridge/internal/logging"
	"github.com/JonMunkholm/ledgerbridge/internal/store"
	"github.com/JonMunkholm/ledgerbridge/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	// Overload lets a local .env win over the inherited environment
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	if closer := logging.Setup(cfg.Logging); closer != nil {
		defer closer.Close()
	}

	slog.Info("configuration loaded",
		"addr", cfg.Server.Addr(),
		"api", cfg.API.BaseURL,
		"max_concurrent", cfg.Import.MaxConcurrent,
		"database", cfg.Database.Enabled(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	stores, err := store.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	client := accounting.New(cfg.API, slog.Default())
	service := core.NewService(client, cfg.Import, stores.Audit, stores.Templates)
	registry := bulk.NewRegistry(client, cfg.Bulk, nil, stores.Audit)

	server := web.NewServer(cfg, service, registry)

	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	go core.RunSessionReaper(jobCtx, cfg.Sessions, service, registry)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for executions to finish", "active", status.Active)
			if err := service.Drain(shutdownCtx); err != nil {
				slog.Warn("executions did not finish in time", "error", err)
			} else {
				slog.Info("all executions finished")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	if err := server.Start(jobCtx); err != nil {
		slog.Info("server stopped", "error", err)
	}
}
