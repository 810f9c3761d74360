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
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ignite/mailflow/internal/app"
	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/pkg/distlock"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/tracking"
	"github.com/ignite/mailflow/internal/worker"
)

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.Open(ctx, cfg)
	if err != nil {
		logger.Error("failed to initialise services", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	// Campaign scheduler. The lock keeps scans on one worker at a time
	// when several run side by side.
	scheduler := worker.NewCampaignScheduler(a.Campaigns,
		worker.WithPollInterval(cfg.Campaigns.Interval()),
		worker.WithLock(distlock.New(a.Redis, a.DB, "campaign-scan", cfg.Campaigns.LockTTL())),
		worker.WithRegisterer(a.Registry),
	)
	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Tracking queue consumer, when the public edge publishes to SQS.
	var consumerDone <-chan struct{}
	if cfg.Tracking.SQSQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Tracking.Region))
		if err != nil {
			logger.Error("aws config", "error", err)
			os.Exit(1)
		}
		consumer := tracking.NewConsumer(sqs.NewFromConfig(awsCfg), cfg.Tracking.SQSQueueURL,
			tracking.ApplyUnsubscribes(a.Events, a.Contacts))
		consumerDone = consumer.Start(ctx)
	}

	metricsSrv := &http.Server{
		Addr:              ":9090",
		Handler:           promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if addr := os.Getenv("METRICS_ADDR"); addr != "" {
		metricsSrv.Addr = addr
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server error", "error", err)
		}
	}()

	logger.Info("worker running", "metrics_addr", metricsSrv.Addr, "tracking_queue", cfg.Tracking.SQSQueueURL != "")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down worker")
	scheduler.Stop()
	cancel()
	if consumerDone != nil {
		<-consumerDone
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	logger.Info("worker stopped")
}
