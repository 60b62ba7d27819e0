package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/candle-sync/pkg/models"
)

// Config represents the application configuration
type Config struct {
	MySQL     MySQLConfig     `env:", prefix=MYSQL_"`
	Redis     RedisConfig     `env:", prefix=REDIS_"`
	NATS      NATSConfig      `env:", prefix=NATS_"`
	Provider  ProviderConfig  `env:", prefix=PROVIDER_"`
	Sync      SyncConfig      `env:", prefix=SYNC_"`
	Scheduler SchedulerConfig `env:", prefix=SCHEDULER_"`
	Logging   LoggingConfig   `env:", prefix=LOG_"`
}

// MySQLConfig holds MySQL configuration
type MySQLConfig struct {
	Host            string        `env:"HOST, default=localhost"`
	Port            int           `env:"PORT, default=3306"`
	Database        string        `env:"DATABASE, default=candlesync"`
	User            string        `env:"USER, default=candlesync"`
	Password        string        `env:"PASSWORD, default=candlesync123"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS, default=25"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS, default=5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME, default=5m"`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host         string        `env:"HOST, default=localhost"`
	Port         int           `env:"PORT, default=6379"`
	Password     string        `env:"PASSWORD"`
	DB           int           `env:"DB, default=0"`
	PoolSize     int           `env:"POOL_SIZE, default=10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS, default=5"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT, default=5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=3s"`
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL           string        `env:"URL, default=nats://localhost:4222"`
	MaxReconnect  int           `env:"MAX_RECONNECT, default=10"`
	ReconnectWait time.Duration `env:"RECONNECT_WAIT, default=2s"`
	DrainTimeout  time.Duration `env:"DRAIN_TIMEOUT, default=30s"`
}

// ProviderConfig holds the price provider configuration
type ProviderConfig struct {
	BaseURL           string        `env:"BASE_URL, default=https://api.binance.com"`
	RequestsPerMinute int           `env:"REQUESTS_PER_MINUTE, default=600"`
	Timeout           time.Duration `env:"TIMEOUT, default=30s"`
	BatchLimit        int           `env:"BATCH_LIMIT, default=1000"`
}

// SyncConfig holds the synchronization engine configuration.
// FineWindowDays is how far back the provider serves hourly data;
// anything older is only reachable at daily resolution.
type SyncConfig struct {
	FineWindowDays      int               `env:"FINE_WINDOW_DAYS, default=30"`
	PreserveRecentHours int               `env:"PRESERVE_RECENT_HOURS, default=24"`
	DaysBack            int               `env:"DAYS_BACK, default=90"`
	UpdateMode          models.UpdateMode `env:"UPDATE_MODE, default=smart"`
	GapThreshold        time.Duration     `env:"GAP_THRESHOLD, default=1h"`
	MaxRetryAttempts    int               `env:"MAX_RETRY_ATTEMPTS, default=3"`
	BackoffBase         time.Duration     `env:"BACKOFF_BASE, default=500ms"`
	BackoffMax          time.Duration     `env:"BACKOFF_MAX, default=30s"`
	RateLimitCooldown   time.Duration     `env:"RATE_LIMIT_COOLDOWN, default=1m"`
}

// FineWindow returns the fine-grained retention window as a duration.
func (c *SyncConfig) FineWindow() time.Duration {
	return time.Duration(c.FineWindowDays) * 24 * time.Hour
}

// SchedulerConfig holds the periodic sync scheduler configuration
type SchedulerConfig struct {
	Interval      time.Duration `env:"INTERVAL, default=1h"`
	MaxConcurrent int           `env:"MAX_CONCURRENT, default=3"`
	RunTimeout    time.Duration `env:"RUN_TIMEOUT, default=15m"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=json"`
	Output string `env:"OUTPUT, default=stdout"`
}

// Load loads configuration from environment variables using go-envconfig
func Load() (*Config, error) {
	ctx := context.Background()
	var cfg Config

	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MySQL.Host == "" {
		return fmt.Errorf("MySQL host is required")
	}

	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider base URL is required")
	}

	if c.Provider.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid provider rate budget: %d", c.Provider.RequestsPerMinute)
	}

	if c.Sync.FineWindowDays <= 0 {
		return fmt.Errorf("invalid fine window: %d days", c.Sync.FineWindowDays)
	}

	if c.Sync.PreserveRecentHours <= 0 {
		return fmt.Errorf("invalid preserve window: %d hours", c.Sync.PreserveRecentHours)
	}

	if !c.Sync.UpdateMode.Valid() {
		return fmt.Errorf("invalid update mode: %s", c.Sync.UpdateMode)
	}

	if c.Sync.MaxRetryAttempts < 1 {
		return fmt.Errorf("invalid retry budget: %d", c.Sync.MaxRetryAttempts)
	}

	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("invalid scheduler concurrency: %d", c.Scheduler.MaxConcurrent)
	}

	return nil
}

// GetMySQLDSN returns MySQL DSN string
func (c *Config) GetMySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		c.MySQL.User,
		c.MySQL.Password,
		c.MySQL.Host,
		c.MySQL.Port,
		c.MySQL.Database,
	)
}

// GetRedisAddr returns Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
