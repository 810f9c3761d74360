package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/mailflow/internal/api"
	"github.com/ignite/mailflow/internal/app"
	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/tracking"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %w", port, addr, err)
	}
	return ln.Close()
}

func configPath() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return "config/config.yaml"
}

func main() {
	cfg, err := config.LoadFromEnv(configPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Init(logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	logger.SetRedactPII(cfg.Log.Redact())
	defer logger.Sync()

	host, port := cfg.Server.GetHost(), cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		logger.Error("pre-flight check failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialise services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	sendCtx, stopSends := context.WithCancel(context.Background())
	defer stopSends()

	handlers := api.NewHandlers(a.Dispatcher, a.Templates, a.Campaigns, a.Stats, api.Options{
		DefaultFrom:       a.DefaultFrom(),
		TrackingBaseURL:   cfg.Tracking.BaseURL,
		BackgroundContext: sendCtx,
	})
	router := api.SetupRoutes(handlers, api.RouterConfig{
		Health:         api.NewHealthChecker(a.DB, a.Redis, a.ConfigErrors),
		Tracking:       tracking.NewHandler(a.Events, a.Contacts),
		Gatherer:       a.Registry,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// In-flight campaign sends stop at the next recipient and are marked
	// cancelled before the database closes.
	stopSends()
	if err := handlers.Drain(shutdownCtx); err != nil {
		logger.Error("campaign sends still running at exit", "error", err)
	}
	logger.Info("server stopped")
}
