package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/ignite/mailflow/internal/app"
	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/eventlog"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/repository/postgres"
	"github.com/ignite/mailflow/internal/tracking"
)

// The tracking edge serves opens, clicks and unsubscribes. With a queue
// configured it only publishes events to SQS; otherwise it writes them to
// Postgres directly.
func main() {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(path)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Init(logger.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	logger.SetRedactPII(cfg.Log.Redact())
	defer logger.Sync()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8081"
	}

	ctx := context.Background()
	var (
		events   eventlog.Recorder
		contacts tracking.ContactUnsubscriber
	)
	if cfg.Tracking.SQSQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Tracking.Region))
		if err != nil {
			logger.Error("aws config", "error", err)
			os.Exit(1)
		}
		pub := tracking.NewPublisher(sqs.NewFromConfig(awsCfg), cfg.Tracking.SQSQueueURL)
		defer pub.Close()
		events = pub
	} else {
		db, err := app.OpenDB(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		events = postgres.NewEventRepo(db)
		contacts = postgres.NewContactRepo(db)
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      tracking.NewHandler(events, contacts).Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("tracking service listening", "port", port, "queue", cfg.Tracking.SQSQueueURL != "")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down tracking service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
