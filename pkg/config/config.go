package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Reservation ReservationConfig
	Lock        LockConfig
	Queue       QueueConfig
	Sweeper     SweeperConfig
	WebSocket   WebSocketConfig
	OTel        OTelConfig
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string
	Environment string // development, staging, production
	Debug       bool
	Version     string
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ReservationConfig holds seat reservation settings
type ReservationConfig struct {
	// Timeout is how long a reservation holds its seats before the sweeper
	// returns them to the available pool
	Timeout time.Duration
	// MaxSeatsPerBooking bounds the seat count of a single reservation request
	MaxSeatsPerBooking int
}

// LockConfig holds distributed lock settings
type LockConfig struct {
	// TTL is the lock expiry; holders must finish well inside it or extend
	TTL time.Duration
	// RetryDelay is the base delay between acquisition attempts
	RetryDelay time.Duration
	// MaxWait bounds the total time spent waiting for a contended lock
	MaxWait time.Duration
}

// QueueConfig holds priority queue settings
type QueueConfig struct {
	// StatusTTL is how long request status records survive after their last write
	StatusTTL time.Duration
	// ReclaimIdle is the minimum idle time before a pending entry is reclaimed
	ReclaimIdle time.Duration
	// MaxDeliveries is the delivery budget before a message is dead-lettered
	MaxDeliveries int
	// ReadBlock is the blocking-read timeout for workers
	ReadBlock time.Duration
	// ConsumerPrefix names workers within the consumer group
	ConsumerPrefix string
}

// SweeperConfig holds expiration sweeper settings
type SweeperConfig struct {
	Interval  time.Duration
	BatchSize int
}

// WebSocketConfig holds live-notification socket settings
type WebSocketConfig struct {
	// IdleTimeout closes sockets that stop sending pings
	IdleTimeout time.Duration
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool
	ServiceName   string
	CollectorAddr string
}

// Load loads configuration from environment variables and an optional .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	// .env is optional; environment variables always win
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "ticketing-system")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", false)
	v.SetDefault("APP_VERSION", "1.0.0")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Database defaults
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "ticketing")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 25)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DB_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Reservation defaults
	v.SetDefault("RESERVATION_TIMEOUT_SECONDS", 600)
	v.SetDefault("MAX_SEATS_PER_BOOKING", 10)

	// Distributed lock defaults
	v.SetDefault("LOCK_TIMEOUT_SECONDS", 30)
	v.SetDefault("LOCK_RETRY_DELAY_MS", 100)
	v.SetDefault("LOCK_MAX_WAIT_MS", 5000)

	// Queue defaults
	v.SetDefault("REQUEST_STATUS_TTL", 3600)
	v.SetDefault("PEL_RECLAIM_IDLE_MS", 60000)
	v.SetDefault("MAX_DELIVERIES", 3)
	v.SetDefault("QUEUE_READ_BLOCK_MS", 5000)
	v.SetDefault("QUEUE_CONSUMER_PREFIX", "worker")

	// Sweeper defaults
	v.SetDefault("SWEEPER_INTERVAL_SECONDS", 30)
	v.SetDefault("SWEEPER_BATCH_SIZE", 100)

	// WebSocket defaults
	v.SetDefault("CONNECTION_IDLE_TIMEOUT", "60s")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "ticketing-system")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")

	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	cfg.Database.Host = v.GetString("DB_HOST")
	cfg.Database.Port = v.GetInt("DB_PORT")
	cfg.Database.User = v.GetString("DB_USER")
	cfg.Database.Password = v.GetString("DB_PASSWORD")
	cfg.Database.DBName = v.GetString("DB_NAME")
	cfg.Database.SSLMode = v.GetString("DB_SSLMODE")
	cfg.Database.MaxConns = v.GetInt32("DB_MAX_CONNS")
	cfg.Database.MinConns = v.GetInt32("DB_MIN_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DB_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DB_CONN_MAX_IDLE_TIME")

	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	cfg.Reservation.Timeout = time.Duration(v.GetInt("RESERVATION_TIMEOUT_SECONDS")) * time.Second
	cfg.Reservation.MaxSeatsPerBooking = v.GetInt("MAX_SEATS_PER_BOOKING")

	cfg.Lock.TTL = time.Duration(v.GetInt("LOCK_TIMEOUT_SECONDS")) * time.Second
	cfg.Lock.RetryDelay = time.Duration(v.GetInt("LOCK_RETRY_DELAY_MS")) * time.Millisecond
	cfg.Lock.MaxWait = time.Duration(v.GetInt("LOCK_MAX_WAIT_MS")) * time.Millisecond

	cfg.Queue.StatusTTL = time.Duration(v.GetInt("REQUEST_STATUS_TTL")) * time.Second
	cfg.Queue.ReclaimIdle = time.Duration(v.GetInt("PEL_RECLAIM_IDLE_MS")) * time.Millisecond
	cfg.Queue.MaxDeliveries = v.GetInt("MAX_DELIVERIES")
	cfg.Queue.ReadBlock = time.Duration(v.GetInt("QUEUE_READ_BLOCK_MS")) * time.Millisecond
	cfg.Queue.ConsumerPrefix = v.GetString("QUEUE_CONSUMER_PREFIX")

	cfg.Sweeper.Interval = time.Duration(v.GetInt("SWEEPER_INTERVAL_SECONDS")) * time.Second
	cfg.Sweeper.BatchSize = v.GetInt("SWEEPER_BATCH_SIZE")

	cfg.WebSocket.IdleTimeout = v.GetDuration("CONNECTION_IDLE_TIMEOUT")

	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Database.Host == "" || c.Database.DBName == "" {
		return fmt.Errorf("DB_HOST and DB_NAME are required")
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.Reservation.MaxSeatsPerBooking <= 0 {
		return fmt.Errorf("MAX_SEATS_PER_BOOKING must be positive")
	}
	if c.Lock.TTL <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT_SECONDS must be positive")
	}
	if c.Queue.MaxDeliveries <= 0 {
		return fmt.Errorf("MAX_DELIVERIES must be positive")
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
