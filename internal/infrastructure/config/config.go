package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	Platform  PlatformConfig
	Sync      SyncConfig
	Webhook   WebhookConfig
	Batch     BatchConfig
	Recovery  RecoveryConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// PlatformConfig holds remote platform API settings
type PlatformConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// SyncConfig holds sync engine settings
type SyncConfig struct {
	DefaultBatchSize int
	LockScope        string
}

// WebhookConfig holds webhook ingestion settings
type WebhookConfig struct {
	Secret           string // HMAC secret; empty disables verification
	RateLimitMax     int
	RateLimitWindow  time.Duration
	DrainInterval    time.Duration
	DrainBatchSize   int
	RetryBaseBackoff time.Duration
}

// BatchConfig holds batch scheduler settings
type BatchConfig struct {
	SweepSchedule     string // cron expression for periodic sweeps
	RetryDelay        time.Duration
	RetryBatchLimit   int
	CleanupRetention  time.Duration
	ProgressRetention time.Duration
}

// RecoveryConfig holds error recovery and breaker settings
type RecoveryConfig struct {
	MaxAttempts      int
	BaseDelay        time.Duration
	FailureThreshold int
	BreakerCooldown  time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	ServiceName       string
	Insecure          bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SYNC_ prefix (e.g., SYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Platform: PlatformConfig{
			BaseURL:        v.GetString("platform.base_url"),
			ConsumerKey:    v.GetString("platform.consumer_key"),
			ConsumerSecret: v.GetString("platform.consumer_secret"),
			RequestTimeout: v.GetDuration("platform.request_timeout"),
			MaxRetries:     v.GetInt("platform.max_retries"),
			RetryBaseDelay: v.GetDuration("platform.retry_base_delay"),
		},
		Sync: SyncConfig{
			DefaultBatchSize: v.GetInt("sync.default_batch_size"),
			LockScope:        v.GetString("sync.lock_scope"),
		},
		Webhook: WebhookConfig{
			Secret:           v.GetString("webhook.secret"),
			RateLimitMax:     v.GetInt("webhook.rate_limit_max"),
			RateLimitWindow:  v.GetDuration("webhook.rate_limit_window"),
			DrainInterval:    v.GetDuration("webhook.drain_interval"),
			DrainBatchSize:   v.GetInt("webhook.drain_batch_size"),
			RetryBaseBackoff: v.GetDuration("webhook.retry_base_backoff"),
		},
		Batch: BatchConfig{
			SweepSchedule:     v.GetString("batch.sweep_schedule"),
			RetryDelay:        v.GetDuration("batch.retry_delay"),
			RetryBatchLimit:   v.GetInt("batch.retry_batch_limit"),
			CleanupRetention:  v.GetDuration("batch.cleanup_retention"),
			ProgressRetention: v.GetDuration("batch.progress_retention"),
		},
		Recovery: RecoveryConfig{
			MaxAttempts:      v.GetInt("recovery.max_attempts"),
			BaseDelay:        v.GetDuration("recovery.base_delay"),
			FailureThreshold: v.GetInt("recovery.failure_threshold"),
			BreakerCooldown:  v.GetDuration("recovery.breaker_cooldown"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "sync-engine"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "sync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Platform.RequestTimeout == 0 {
		cfg.Platform.RequestTimeout = 30 * time.Second
	}
	if cfg.Platform.MaxRetries == 0 {
		cfg.Platform.MaxRetries = 3
	}
	if cfg.Platform.RetryBaseDelay == 0 {
		cfg.Platform.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.Sync.DefaultBatchSize == 0 {
		cfg.Sync.DefaultBatchSize = 50
	}
	if cfg.Sync.LockScope == "" {
		cfg.Sync.LockScope = "full_sync"
	}
	if cfg.Webhook.RateLimitMax == 0 {
		cfg.Webhook.RateLimitMax = 60
	}
	if cfg.Webhook.RateLimitWindow == 0 {
		cfg.Webhook.RateLimitWindow = time.Minute
	}
	if cfg.Webhook.DrainInterval == 0 {
		cfg.Webhook.DrainInterval = 2 * time.Second
	}
	if cfg.Webhook.DrainBatchSize == 0 {
		cfg.Webhook.DrainBatchSize = 20
	}
	if cfg.Webhook.RetryBaseBackoff == 0 {
		cfg.Webhook.RetryBaseBackoff = 5 * time.Second
	}
	if cfg.Batch.SweepSchedule == "" {
		cfg.Batch.SweepSchedule = "@every 30s"
	}
	if cfg.Batch.RetryDelay == 0 {
		cfg.Batch.RetryDelay = 5 * time.Minute
	}
	if cfg.Batch.RetryBatchLimit == 0 {
		cfg.Batch.RetryBatchLimit = 10
	}
	if cfg.Batch.CleanupRetention == 0 {
		cfg.Batch.CleanupRetention = 168 * time.Hour
	}
	if cfg.Batch.ProgressRetention == 0 {
		cfg.Batch.ProgressRetention = 72 * time.Hour
	}
	if cfg.Recovery.MaxAttempts == 0 {
		cfg.Recovery.MaxAttempts = 5
	}
	if cfg.Recovery.BaseDelay == 0 {
		cfg.Recovery.BaseDelay = time.Second
	}
	if cfg.Recovery.FailureThreshold == 0 {
		cfg.Recovery.FailureThreshold = 5
	}
	if cfg.Recovery.BreakerCooldown == 0 {
		cfg.Recovery.BreakerCooldown = time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "sync-engine"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Webhook.RateLimitMax < 0 {
		return fmt.Errorf("webhook.rate_limit_max cannot be negative")
	}
	if c.Recovery.FailureThreshold <= 0 {
		return fmt.Errorf("recovery.failure_threshold must be positive")
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Platform.BaseURL == "" {
			return fmt.Errorf("platform.base_url is required in production")
		}
		if c.Webhook.Secret == "" {
			return fmt.Errorf("webhook.secret is required in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
