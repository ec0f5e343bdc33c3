package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidstormer/fdp-app-sub000/internal/config"
	"github.com/davidstormer/fdp-app-sub000/internal/db"
	"github.com/davidstormer/fdp-app-sub000/internal/domain"
	"github.com/davidstormer/fdp-app-sub000/internal/importer"
	"github.com/davidstormer/fdp-app-sub000/internal/keystore"
	"github.com/davidstormer/fdp-app-sub000/internal/logging"
	"github.com/davidstormer/fdp-app-sub000/internal/middleware"
	"github.com/davidstormer/fdp-app-sub000/internal/repository"

	"github.com/rs/cors"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	registry, err := domain.NewRegistry(cfg.Registry)
	if err != nil {
		slog.Error("invalid schema registry", "error", err)
		os.Exit(1)
	}

	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.DB, cfg.Engine.MigrationsPath); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	records := repository.NewRecordRepository(conn.Pool)
	submissions := repository.NewSubmissionRepository(conn.Pool)
	keys := keystore.New(repository.NewExternalIDRepository(conn.Pool))
	natural := repository.NewNaturalKeyService(records, registry)

	service := importer.NewService(registry, records, submissions, keys, natural, importer.Options{
		Workers:        cfg.Engine.Workers,
		ReversalPolicy: importer.ReversalPolicy(cfg.Engine.ReversalPolicy),
	})
	runner := importer.NewRunner(service)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	router := importer.NewRouter(service, runner, middleware.Logging)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsHandler.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("starting import server", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited")
}
