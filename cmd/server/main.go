package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/forgecommerce/storefront/internal/auth"
	"github.com/forgecommerce/storefront/internal/config"
	"github.com/forgecommerce/storefront/internal/database"
	adminhandlers "github.com/forgecommerce/storefront/internal/handlers/admin"
	apihandlers "github.com/forgecommerce/storefront/internal/handlers/api"
	"github.com/forgecommerce/storefront/internal/middleware"
	"github.com/forgecommerce/storefront/internal/purge"
	"github.com/forgecommerce/storefront/internal/registry"
	"github.com/forgecommerce/storefront/internal/services/media"
	"github.com/forgecommerce/storefront/internal/storage"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded", "config", cfg)

	// Connect to database
	pool, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	slog.Info("database connected")

	// Run migrations
	if err := database.Migrate(cfg.DatabaseURL); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	slog.Info("migrations complete")

	// Storage backend is chosen once and shared by ingestion and purge.
	store, err := storage.New(context.Background(), cfg.StorageOptions(), logger)
	if err != nil {
		slog.Error("failed to initialise storage", "error", err, "backend", cfg.MediaStorage)
		os.Exit(1)
	}

	reg := registry.New(registry.NewPGRepository(pool), logger)
	mediaSvc := media.NewService(reg, store, logger, media.WithMaxUploadBytes(cfg.MaxUploadBytes))
	purgeJob := purge.NewJob(reg, store, cfg.PurgeOptions(), logger)
	purgeScheduler := purge.NewScheduler(purgeJob, cfg.Purge.Interval, logger)
	jwtMgr := auth.NewJWTManager(cfg.AdminJWTSecret)

	// Admin server (JSON, bearer token)
	adminMux := http.NewServeMux()
	adminhandlers.RegisterHealth(adminMux)

	protectedMux := http.NewServeMux()
	adminhandlers.NewImageHandler(mediaSvc, reg, purgeJob, cfg.MaxUploadBytes, logger).RegisterRoutes(protectedMux)
	adminMux.Handle("/admin/", middleware.RequireAdmin(jwtMgr)(protectedMux))

	adminServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.AdminPort),
		Handler: middleware.Chain(adminMux,
			middleware.RequestLogger(logger),
			middleware.Recover(logger),
			middleware.SecurityHeaders,
		),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Public server (storefront JSON + uploaded files)
	apiMux := http.NewServeMux()
	apihandlers.NewPublicHandler(reg, logger).RegisterRoutes(apiMux)
	if cfg.MediaStorage == storage.BackendLocal {
		apihandlers.NewUploadsHandler(cfg.UploadsPath, cfg.FrontendOrigin, logger).
			RegisterRoutes(apiMux, cfg.UploadsURLPrefix)
	}

	apiServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: middleware.Chain(apiMux,
			middleware.RequestLogger(logger),
			middleware.Recover(logger),
			middleware.SecurityHeaders,
			middleware.CORS(cfg.FrontendOrigin),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.Purge.Enabled {
		purgeScheduler.Start(context.Background())
	}

	// Start servers
	errCh := make(chan error, 2)

	go func() {
		slog.Info("admin server starting", "port", cfg.AdminPort)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("admin server: %w", err)
		}
	}()

	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		slog.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Stop accepting uploads and deletes before the purge loop goes away.
	if err := adminServer.Shutdown(ctx); err != nil {
		slog.Error("admin server shutdown error", "error", err)
	}
	if err := apiServer.Shutdown(ctx); err != nil {
		slog.Error("api server shutdown error", "error", err)
	}

	purgeScheduler.Stop()

	slog.Info("servers stopped")
}
