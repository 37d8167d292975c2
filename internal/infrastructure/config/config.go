package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	Log        LogConfig
	HTTP       HTTPConfig
	Sync       SyncConfig
	Resilience ResilienceConfig
	Worker     WorkerConfig
	Scheduler  SchedulerConfig
	Preview    PreviewConfig
	Telemetry  TelemetryConfig
	Connectors []ConnectorConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
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
	ConnMaxIdleTime int // in minutes
	// AutoMigrate applies the embedded migrations at server start
	AutoMigrate bool
}

// RedisConfig holds Redis connection settings. Host empty disables Redis.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Enabled reports whether a Redis server is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret                string
	AccessTokenExpiration time.Duration
	Issuer                string
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	MaxBodySize       int64
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CORSAllowOrigins  []string
	TrustedProxies    []string
	// AllowOrgHeader accepts X-Org-ID from callers without a token. Never
	// enable in production.
	AllowOrgHeader bool
	// AuthOptional lets requests without a bearer token through
	AuthOptional bool
}

// SyncConfig holds the defaults applied to every new sync queue
type SyncConfig struct {
	BatchSize         int
	BatchDelay        time.Duration
	MaxRetries        int
	InitialBackoff    time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
	// BulkConcurrency bounds parallel starts in a bulk start
	BulkConcurrency int
	// IdempotencyTTL is how long start-sync idempotency keys are remembered
	IdempotencyTTL time.Duration
}

// ResilienceConfig holds the default per-connector rate limit and breaker policy
type ResilienceConfig struct {
	LimiterBackend   string // memory, redis
	MaxTokens        int
	RefillRate       float64 // tokens per second
	FailureThreshold int
	Cooldown         time.Duration
}

// WorkerConfig holds the durable queue worker settings
type WorkerConfig struct {
	Enabled             bool
	WorkerID            string
	PollInterval        time.Duration
	LeaseTTL            time.Duration
	MaxConcurrentQueues int
}

// SchedulerConfig holds the cron trigger settings
type SchedulerConfig struct {
	Enabled bool
	// Entries maps an entity type to a cron spec; each entry starts a sync
	// for every configured connector
	Entries    map[string]string
	JobTimeout time.Duration
}

// PreviewConfig holds delta preview settings
type PreviewConfig struct {
	TTL      time.Duration
	PageSize int
	// ComputeTimeout bounds one computation shared by concurrent requests
	ComputeTimeout time.Duration
}

// TelemetryConfig holds OpenTelemetry and metrics configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	DBTraceEnabled    bool    // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool    // Log full SQL statements (dev only)
	MetricsEnabled    bool    // Expose Prometheus /metrics
	MetricsPath       string
}

// ConnectorConfig describes one external platform connection
type ConnectorConfig struct {
	ID             string  `mapstructure:"id"`
	OrgID          string  `mapstructure:"org_id"`
	Platform       string  `mapstructure:"platform"`
	Name           string  `mapstructure:"name"`
	Default        bool    `mapstructure:"default"`
	BaseURL        string  `mapstructure:"base_url"`
	ConsumerKey    string  `mapstructure:"consumer_key"`
	ConsumerSecret string  `mapstructure:"consumer_secret"`
	Timeout        string  `mapstructure:"timeout"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	RefillRate     float64 `mapstructure:"refill_rate"`
	BreakerFails   int     `mapstructure:"breaker_failure_threshold"`
	BreakerCool    string  `mapstructure:"breaker_cooldown"`
}

// TimeoutDuration parses Timeout, defaulting to 30s
func (c ConnectorConfig) TimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(c.Timeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// CooldownDuration parses BreakerCool; zero means "use the default"
func (c ConnectorConfig) CooldownDuration() time.Duration {
	d, _ := time.ParseDuration(c.BreakerCool)
	return d
}

// Load loads configuration from an optional .env file, a TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with SYNC_ prefix (e.g., SYNC_DATABASE_PASSWORD)
// 2. .env file (does not override variables already set)
// 3. config.toml
// 4. Built-in defaults
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

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
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			AutoMigrate:     v.GetBool("database.auto_migrate"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:                v.GetString("jwt.secret"),
			AccessTokenExpiration: v.GetDuration("jwt.access_token_expiration"),
			Issuer:                v.GetString("jwt.issuer"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:       v.GetDuration("http.read_timeout"),
			WriteTimeout:      v.GetDuration("http.write_timeout"),
			IdleTimeout:       v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:    v.GetInt("http.max_header_bytes"),
			MaxBodySize:       v.GetInt64("http.max_body_size"),
			RateLimitEnabled:  v.GetBool("http.rate_limit_enabled"),
			RateLimitRequests: v.GetInt("http.rate_limit_requests"),
			RateLimitWindow:   v.GetDuration("http.rate_limit_window"),
			CORSAllowOrigins:  v.GetStringSlice("http.cors_allow_origins"),
			TrustedProxies:    v.GetStringSlice("http.trusted_proxies"),
			AllowOrgHeader:    v.GetBool("http.allow_org_header"),
			AuthOptional:      v.GetBool("http.auth_optional"),
		},
		Sync: SyncConfig{
			BatchSize:         v.GetInt("sync.batch_size"),
			BatchDelay:        v.GetDuration("sync.batch_delay"),
			MaxRetries:        v.GetInt("sync.max_retries"),
			InitialBackoff:    v.GetDuration("sync.initial_backoff"),
			BackoffMultiplier: v.GetFloat64("sync.backoff_multiplier"),
			MaxBackoff:        v.GetDuration("sync.max_backoff"),
			BulkConcurrency:   v.GetInt("sync.bulk_concurrency"),
			IdempotencyTTL:    v.GetDuration("sync.idempotency_ttl"),
		},
		Resilience: ResilienceConfig{
			LimiterBackend:   v.GetString("resilience.limiter_backend"),
			MaxTokens:        v.GetInt("resilience.max_tokens"),
			RefillRate:       v.GetFloat64("resilience.refill_rate"),
			FailureThreshold: v.GetInt("resilience.failure_threshold"),
			Cooldown:         v.GetDuration("resilience.cooldown"),
		},
		Worker: WorkerConfig{
			Enabled:             v.GetBool("worker.enabled"),
			WorkerID:            v.GetString("worker.worker_id"),
			PollInterval:        v.GetDuration("worker.poll_interval"),
			LeaseTTL:            v.GetDuration("worker.lease_ttl"),
			MaxConcurrentQueues: v.GetInt("worker.max_concurrent_queues"),
		},
		Scheduler: SchedulerConfig{
			Enabled:    v.GetBool("scheduler.enabled"),
			Entries:    v.GetStringMapString("scheduler.entries"),
			JobTimeout: v.GetDuration("scheduler.job_timeout"),
		},
		Preview: PreviewConfig{
			TTL:            v.GetDuration("preview.ttl"),
			PageSize:       v.GetInt("preview.page_size"),
			ComputeTimeout: v.GetDuration("preview.compute_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsPath:       v.GetString("telemetry.metrics_path"),
		},
	}

	if err := v.UnmarshalKey("connectors", &cfg.Connectors); err != nil {
		return nil, fmt.Errorf("error decoding connectors: %w", err)
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
		cfg.App.Name = "syncengine"
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
		cfg.Database.DBName = "syncengine"
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
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 15 * time.Minute
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "syncengine"
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
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.HTTP.RateLimitRequests == 0 {
		cfg.HTTP.RateLimitRequests = 100
	}
	if cfg.HTTP.RateLimitWindow == 0 {
		cfg.HTTP.RateLimitWindow = time.Minute
	}
	// Sync defaults mirror integration.DefaultSyncConfig
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 50
	}
	if cfg.Sync.BatchDelay == 0 {
		cfg.Sync.BatchDelay = 2 * time.Second
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = 3
	}
	if cfg.Sync.InitialBackoff == 0 {
		cfg.Sync.InitialBackoff = time.Second
	}
	if cfg.Sync.BackoffMultiplier == 0 {
		cfg.Sync.BackoffMultiplier = 2
	}
	if cfg.Sync.MaxBackoff == 0 {
		cfg.Sync.MaxBackoff = 30 * time.Second
	}
	if cfg.Sync.BulkConcurrency == 0 {
		cfg.Sync.BulkConcurrency = 4
	}
	if cfg.Sync.IdempotencyTTL == 0 {
		cfg.Sync.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.Resilience.LimiterBackend == "" {
		cfg.Resilience.LimiterBackend = "memory"
	}
	if cfg.Resilience.MaxTokens == 0 {
		cfg.Resilience.MaxTokens = 10
	}
	if cfg.Resilience.RefillRate == 0 {
		cfg.Resilience.RefillRate = 1
	}
	if cfg.Resilience.FailureThreshold == 0 {
		cfg.Resilience.FailureThreshold = 5
	}
	if cfg.Resilience.Cooldown == 0 {
		cfg.Resilience.Cooldown = 60 * time.Second
	}
	if cfg.Worker.WorkerID == "" {
		host, _ := os.Hostname()
		cfg.Worker.WorkerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = 5 * time.Second
	}
	if cfg.Worker.LeaseTTL == 0 {
		cfg.Worker.LeaseTTL = 2 * time.Minute
	}
	if cfg.Worker.MaxConcurrentQueues == 0 {
		cfg.Worker.MaxConcurrentQueues = 4
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 5 * time.Minute
	}
	if cfg.Preview.TTL == 0 {
		cfg.Preview.TTL = time.Hour
	}
	if cfg.Preview.PageSize == 0 {
		cfg.Preview.PageSize = 100
	}
	if cfg.Preview.ComputeTimeout == 0 {
		cfg.Preview.ComputeTimeout = 5 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "syncengine"
	}
	if cfg.Telemetry.MetricsPath == "" {
		cfg.Telemetry.MetricsPath = "/metrics"
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

	if c.Resilience.LimiterBackend != "memory" && c.Resilience.LimiterBackend != "redis" {
		return fmt.Errorf("resilience.limiter_backend must be memory or redis, got %q", c.Resilience.LimiterBackend)
	}
	if c.Resilience.LimiterBackend == "redis" && !c.Redis.Enabled() {
		return fmt.Errorf("resilience.limiter_backend=redis requires redis.host")
	}
	if c.Resilience.RefillRate <= 0 {
		return fmt.Errorf("resilience.refill_rate must be positive")
	}
	if c.Sync.BackoffMultiplier < 1 {
		return fmt.Errorf("sync.backoff_multiplier must be at least 1")
	}
	if c.Worker.LeaseTTL <= c.Worker.PollInterval {
		return fmt.Errorf("worker.lease_ttl (%s) must exceed worker.poll_interval (%s)",
			c.Worker.LeaseTTL, c.Worker.PollInterval)
	}

	seen := make(map[string]bool, len(c.Connectors))
	for i, conn := range c.Connectors {
		if conn.ID == "" {
			return fmt.Errorf("connectors[%d].id is required", i)
		}
		if seen[conn.ID] {
			return fmt.Errorf("connectors[%d].id %q is duplicated", i, conn.ID)
		}
		seen[conn.ID] = true
		if conn.OrgID == "" {
			return fmt.Errorf("connectors[%d].org_id is required", i)
		}
		if conn.BaseURL == "" {
			return fmt.Errorf("connectors[%d].base_url is required", i)
		}
	}

	if c.App.Env == "production" {
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.HTTP.AllowOrgHeader || c.HTTP.AuthOptional {
			return fmt.Errorf("http.allow_org_header and http.auth_optional must be false in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
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
