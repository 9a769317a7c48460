package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/cisentry/cisentry/api"
	"github.com/cisentry/cisentry/internal/analytics"
	"github.com/cisentry/cisentry/internal/auth"
	"github.com/cisentry/cisentry/internal/config"
	"github.com/cisentry/cisentry/internal/db"
	"github.com/cisentry/cisentry/internal/idp"
	"github.com/cisentry/cisentry/internal/jobs"
	"github.com/cisentry/cisentry/internal/oauthlink"
	"github.com/cisentry/cisentry/internal/repository/sqlite"
	"github.com/cisentry/cisentry/internal/secrets"
	"github.com/cisentry/cisentry/pkg/embedder"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	api.SetLogger(logger)
	embedder.SetLogger(logger)

	logger.Info("starting cisentry server", "version", version, "built", buildTime)

	ctx := context.Background()

	database, err := db.New(ctx, cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	if err := db.Migrate(ctx, database); err != nil {
		log.Fatalf("Failed to migrate DB: %v", err)
	}

	repo := sqlite.New(database, logger)

	idpClient, err := idp.NewDefaultClient(cfg.IdP)
	if err != nil {
		log.Fatalf("Failed to create IdP client: %v", err)
	}

	box, err := secrets.NewBox(cfg.TokenKey)
	if err != nil {
		log.Fatalf("Failed to initialize token encryption: %v", err)
	}

	authenticator := auth.NewAuthenticator(idpClient, repo, cfg.IdP.CacheTTL, cfg.IdP.CacheSize, logger)
	analyticsService := analytics.New(repo, logger)
	linkService := oauthlink.New(idpClient, repo, box, logger)

	embedClient, err := embedder.NewDefaultClient(cfg.Embedder)
	if err != nil {
		log.Fatalf("Failed to create embedder client: %v", err)
	}

	handlers := jobs.NewHandlers(repo, repo, embedClient, cfg.ExportDir, logger)
	pool := jobs.NewWorkerPool(repo, handlers.Map(), logger, cfg.WorkerCount, cfg.JobRetention)
	pool.Start(ctx)

	handler := api.SetupRoutes(version, buildTime, api.Deps{
		Repo:          repo,
		Authenticator: authenticator,
		Analytics:     analyticsService,
		OAuthLink:     linkService,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	pool.Stop()
	_ = embedClient.Close()
	_ = idpClient.Close()

	if err := database.Close(); err != nil {
		logger.Error("close db", "err", err)
	}

	logger.Info("server exited")
}
