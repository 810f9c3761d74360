package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mail dispatch services.
type Config struct {
	Server    ServerConfig   `yaml:"server"`
	Database  DatabaseConfig `yaml:"database"`
	Redis     RedisConfig    `yaml:"redis"`
	Mail      MailConfig     `yaml:"mail"`
	Tracking  TrackingConfig `yaml:"tracking"`
	Campaigns CampaignConfig `yaml:"campaigns"`
	Log       LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig is optional; an empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MailConfig selects and configures the delivery providers.
type MailConfig struct {
	FromEmail string `yaml:"from_email"`
	FromName  string `yaml:"from_name"`
	// Providers is the failover order, e.g. ["graph", "smtp"].
	Providers []string     `yaml:"providers"`
	Graph     GraphConfig  `yaml:"graph"`
	SMTP      SMTPConfig   `yaml:"smtp"`
	Resend    ResendConfig `yaml:"resend"`
	SES       SESConfig    `yaml:"ses"`
	Retry     RetryConfig  `yaml:"retry"`
}

// GraphConfig holds the OAuth mail API credentials.
type GraphConfig struct {
	TenantID         string `yaml:"tenant_id"`
	ClientID         string `yaml:"client_id"`
	ClientSecret     string `yaml:"client_secret"`
	Mailbox          string `yaml:"mailbox"`
	BaseURL          string `yaml:"base_url"`
	TokenURL         string `yaml:"token_url"`
	Scope            string `yaml:"scope"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	TokenSkewSeconds int    `yaml:"token_skew_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c GraphConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TokenSkew is how long before expiry a cached token stops being used.
func (c GraphConfig) TokenSkew() time.Duration {
	return time.Duration(c.TokenSkewSeconds) * time.Second
}

// ResolvedTokenURL fills the tenant into the default token endpoint.
func (c GraphConfig) ResolvedTokenURL() string {
	if c.TokenURL != "" {
		return strings.ReplaceAll(c.TokenURL, "{tenant}", c.TenantID)
	}
	return "https://login.microsoftonline.com/" + c.TenantID + "/oauth2/v2.0/token"
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TLSPolicy      string `yaml:"tls_policy"` // "mandatory", "opportunistic", "none"
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SMTPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ResendConfig holds the transactional API credentials.
type ResendConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c ResendConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES settings. Empty keys use the default credential chain.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RetryConfig bounds how often the dispatcher retries one provider.
type RetryConfig struct {
	MaxAttempts       int `yaml:"max_attempts"`
	InitialIntervalMS int `yaml:"initial_interval_ms"`
	MaxIntervalMS     int `yaml:"max_interval_ms"`
}

// InitialInterval returns the first backoff delay.
func (c RetryConfig) InitialInterval() time.Duration {
	return time.Duration(c.InitialIntervalMS) * time.Millisecond
}

// MaxInterval returns the backoff ceiling.
func (c RetryConfig) MaxInterval() time.Duration {
	return time.Duration(c.MaxIntervalMS) * time.Millisecond
}

// TrackingConfig controls open/click tracking.
type TrackingConfig struct {
	BaseURL     string `yaml:"base_url"`
	SQSQueueURL string `yaml:"sqs_queue_url"`
	Region      string `yaml:"region"`
}

// CampaignConfig controls the scheduler and batch sender.
type CampaignConfig struct {
	ScanIntervalSeconds int `yaml:"scan_interval_seconds"`
	BatchSize           int `yaml:"batch_size"`
	BatchPauseMS        int `yaml:"batch_pause_ms"`
	MaxInFlight         int `yaml:"max_in_flight"`
	LockTTLSeconds      int `yaml:"lock_ttl_seconds"`
}

// Interval returns the scan interval as a duration
func (c CampaignConfig) Interval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// BatchPause returns the delay between batches.
func (c CampaignConfig) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseMS) * time.Millisecond
}

// LockTTL returns how long a scan lock survives a crashed holder.
func (c CampaignConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// LogConfig controls the logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether PII redaction is on (default true).
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if len(cfg.Mail.Providers) == 0 {
		cfg.Mail.Providers = []string{"graph"}
	}
	if cfg.Mail.Graph.BaseURL == "" {
		cfg.Mail.Graph.BaseURL = "https://graph.microsoft.com"
	}
	if cfg.Mail.Graph.Scope == "" {
		cfg.Mail.Graph.Scope = "https://graph.microsoft.com/.default"
	}
	if cfg.Mail.Graph.TimeoutSeconds == 0 {
		cfg.Mail.Graph.TimeoutSeconds = 30
	}
	if cfg.Mail.Graph.TokenSkewSeconds == 0 {
		cfg.Mail.Graph.TokenSkewSeconds = 60
	}
	if cfg.Mail.SMTP.Port == 0 {
		cfg.Mail.SMTP.Port = 587
	}
	if cfg.Mail.SMTP.TimeoutSeconds == 0 {
		cfg.Mail.SMTP.TimeoutSeconds = 30
	}
	if cfg.Mail.Resend.TimeoutSeconds == 0 {
		cfg.Mail.Resend.TimeoutSeconds = 30
	}
	if cfg.Mail.SES.Region == "" {
		cfg.Mail.SES.Region = "us-west-2"
	}
	if cfg.Mail.SES.TimeoutSeconds == 0 {
		cfg.Mail.SES.TimeoutSeconds = 30
	}
	if cfg.Mail.Retry.MaxAttempts == 0 {
		cfg.Mail.Retry.MaxAttempts = 3
	}
	if cfg.Mail.Retry.InitialIntervalMS == 0 {
		cfg.Mail.Retry.InitialIntervalMS = 500
	}
	if cfg.Mail.Retry.MaxIntervalMS == 0 {
		cfg.Mail.Retry.MaxIntervalMS = 10000
	}
	if cfg.Tracking.Region == "" {
		cfg.Tracking.Region = cfg.Mail.SES.Region
	}
	if cfg.Campaigns.ScanIntervalSeconds == 0 {
		cfg.Campaigns.ScanIntervalSeconds = 60
	}
	if cfg.Campaigns.BatchSize == 0 {
		cfg.Campaigns.BatchSize = 200
	}
	if cfg.Campaigns.BatchPauseMS == 0 {
		cfg.Campaigns.BatchPauseMS = 1000
	}
	if cfg.Campaigns.MaxInFlight == 0 {
		cfg.Campaigns.MaxInFlight = 20
	}
	if cfg.Campaigns.LockTTLSeconds == 0 {
		cfg.Campaigns.LockTTLSeconds = 600
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It loads a .env file (if present) first, so secrets can live in .env
// locally and in real env vars when deployed. A missing config file is
// not an error; defaults and the environment are used instead.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = &Config{}, nil
		cfg.applyDefaults()
	}
	if err != nil {
		return nil, err
	}

	setString(&cfg.Database.URL, "DATABASE_URL")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")

	setString(&cfg.Mail.FromEmail, "MAIL_FROM_EMAIL")
	setString(&cfg.Mail.FromName, "MAIL_FROM_NAME")
	if v := os.Getenv("MAIL_PROVIDERS"); v != "" {
		cfg.Mail.Providers = splitList(v)
	}

	setString(&cfg.Mail.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&cfg.Mail.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&cfg.Mail.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&cfg.Mail.Graph.Mailbox, "GRAPH_MAILBOX")

	setString(&cfg.Mail.SMTP.Host, "SMTP_HOST")
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Mail.SMTP.Port = port
		}
	}
	setString(&cfg.Mail.SMTP.Username, "SMTP_USERNAME")
	setString(&cfg.Mail.SMTP.Password, "SMTP_PASSWORD")

	setString(&cfg.Mail.Resend.APIKey, "RESEND_API_KEY")

	setString(&cfg.Mail.SES.AccessKey, "AWS_SES_ACCESS_KEY")
	setString(&cfg.Mail.SES.SecretKey, "AWS_SES_SECRET_KEY")
	setString(&cfg.Mail.SES.Region, "AWS_SES_REGION")

	setString(&cfg.Tracking.BaseURL, "TRACKING_BASE_URL")
	setString(&cfg.Tracking.SQSQueueURL, "SQS_TRACKING_QUEUE_URL")

	setString(&cfg.Log.Level, "LOG_LEVEL")

	return cfg, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
