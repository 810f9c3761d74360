// Package app wires configuration, storage and services into the object
// graph shared by the server and worker binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/dispatch"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/eventlog"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/provider"
	"github.com/ignite/mailflow/internal/repository/postgres"
	"github.com/ignite/mailflow/internal/service/campaign"
	templatesvc "github.com/ignite/mailflow/internal/service/template"
	"github.com/ignite/mailflow/internal/templating"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Redis    redis.UniversalClient // nil when Redis is not configured
	Registry *prometheus.Registry

	Events     eventlog.Store
	Contacts   *postgres.ContactRepo
	Stats      *eventlog.StatsService
	Dispatcher *dispatch.Dispatcher
	Templates  *templatesvc.Service
	Campaigns  *campaign.Service
}

// Open connects to Postgres and, when configured, Redis, then wires the
// services. Close releases both connections.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	rdb, err := OpenRedis(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return nil, err
	}

	a, err := Wire(ctx, cfg, db, rdb)
	if err != nil {
		db.Close()
		if rdb != nil {
			rdb.Close()
		}
		return nil, err
	}
	return a, nil
}

// Wire builds the services on top of already opened connections. rdb may
// be nil.
func Wire(ctx context.Context, cfg *config.Config, db *sql.DB, rdb redis.UniversalClient) (*App, error) {
	for _, problem := range cfg.Validate() {
		logger.Warn("configuration problem", "error", problem)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	providers, err := provider.Build(ctx, cfg.Mail, provider.Deps{})
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	events := postgres.NewEventRepo(db)
	contacts := postgres.NewContactRepo(db)
	templateRepo := postgres.NewTemplateRepo(db)
	engine := templating.NewEngine()

	dispatcher := dispatch.New(providers, events,
		dispatch.WithRetryPolicy(dispatch.PolicyFromConfig(cfg.Mail.Retry)),
		dispatch.WithMetrics(dispatch.NewMetrics(reg)),
	)

	a := &App{
		Config:     cfg,
		DB:         db,
		Redis:      rdb,
		Registry:   reg,
		Events:     events,
		Contacts:   contacts,
		Stats:      eventlog.NewStatsService(events, rdb),
		Dispatcher: dispatcher,
		Templates:  templatesvc.NewService(templateRepo, engine),
	}
	a.Campaigns = campaign.NewService(postgres.NewCampaignRepo(db), contacts, templateRepo, engine, dispatcher, events, campaign.Options{
		BatchSize:       cfg.Campaigns.BatchSize,
		BatchPause:      cfg.Campaigns.BatchPause(),
		MaxInFlight:     cfg.Campaigns.MaxInFlight,
		TrackingBaseURL: cfg.Tracking.BaseURL,
		DefaultFrom:     a.DefaultFrom(),
	})

	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = string(p.Name())
	}
	logger.Info("services wired", "providers", names, "redis", rdb != nil, "tracking_base_url", cfg.Tracking.BaseURL)
	return a, nil
}

// DefaultFrom is the configured sender for messages that name none.
func (a *App) DefaultFrom() domain.Address {
	return domain.Address{Email: a.Config.Mail.FromEmail, Name: a.Config.Mail.FromName}
}

// ConfigErrors re-runs configuration validation; health checks call it.
func (a *App) ConfigErrors() []error { return a.Config.Validate() }

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}

// OpenDB opens and pings the Postgres pool.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	if cfg.URL == "" {
		return nil, &config.ConfigurationError{Field: "database.url", Reason: "is required"}
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenRedis returns nil without error when no address is configured.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
