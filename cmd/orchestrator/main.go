// Command orchestrator runs the task orchestration engine: Coordinator,
// Agent Manager, Workflow Engine, Scheduler and Gateway behind one HTTP
// server, with graceful shutdown on SIGINT/SIGTERM.
//
// Grounded on original_source/services/orchestrator/main.go's logging setup,
// server lifecycle and signal handling; the gRPC surface that source stubs
// out with an empty setupGRPC is dropped since nothing in this build
// exercises it.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignatij/orchestrator/internal/config"
	"github.com/ignatij/orchestrator/internal/log"
	"github.com/ignatij/orchestrator/internal/orchestrator"
	"github.com/ignatij/orchestrator/internal/storage/postgres"
	"github.com/ignatij/orchestrator/pkg/storage"
)

func main() {
	cfg := config.Load()
	logger := log.GetLogger()

	var store storage.Store
	if cfg.StoreBackend == "postgres" {
		if cfg.PostgresDSN == "" {
			logger.Fatal("ORCH_STORE=postgres requires DB_USERNAME/DB_PASSWORD/DB_HOST/DB_PORT/DB_NAME")
		}
		pg, err := postgres.New(cfg.PostgresDSN)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to postgres")
		}
		store = pg
	}

	orch := orchestrator.New(cfg, store)
	orch.Start()

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: orch.Handler(),
	}

	go func() {
		logger.WithField("port", cfg.HTTPPort).Info("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown error")
	}
	orch.Stop()
	if store != nil {
		if err := store.Close(); err != nil {
			logger.WithError(err).Error("store close error")
		}
	}

	logger.Info("shutdown complete")
}
