// vibecode server
//
// Remote store for vibecode workspaces:
// - Project registry, file trees, knowledge base, clipboard and chat
// - PostgreSQL or SQLite metadata
// - Raw archive retention (local disk or S3)
// - Optional bearer-token auth
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/vibecode/vibecode/internal/api"
	"github.com/vibecode/vibecode/internal/auth"
	"github.com/vibecode/vibecode/internal/config"
	"github.com/vibecode/vibecode/internal/logging"
	"github.com/vibecode/vibecode/internal/metadata"
	"github.com/vibecode/vibecode/internal/metrics"
	"github.com/vibecode/vibecode/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("vibecode server starting...",
		zap.String("version", api.Version),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := metadata.Open(ctx, cfg.DatabaseURL, metadata.Options{
		LegacyClipboardNode: cfg.LegacyClipboardNode,
	})
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()
	logging.Info("metadata store ready",
		zap.String("dialect", store.Dialect()),
		zap.Bool("legacy_clipboard_node", cfg.LegacyClipboardNode))

	blobs, err := storage.NewBackend(ctx, cfg.Storage())
	if err != nil {
		logging.Fatal("storage backend init failed", zap.Error(err))
	}
	defer blobs.Close()
	logging.Info("archive storage ready", zap.String("backend", blobs.Type()))

	authHandler := auth.New(cfg.JWTSecret)
	if !authHandler.Enabled() {
		logging.Warn("JWT_SECRET not set, API is unauthenticated")
	}

	srv := api.NewServer(store, blobs, authHandler, cfg.MaxBodySize)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		metricsServer.Close()
	}()

	// Periodic connection pool metrics
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.UpdateConnectionMetrics()
			}
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}
