package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/fx"
)

var Module = fx.Module("config",
	fx.Provide(NewConfig),
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort    int    `env:"SERVER_PORT" envDefault:"3002"`
	ServerAddress string `env:"SERVER_ADDRESS" envDefault:"0.0.0.0"`
	Environment   string `env:"ENVIRONMENT" envDefault:"local"`
	Debug         bool   `env:"DEBUG" envDefault:"false"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Database settings
	Database DatabaseConfig

	// Queue and worker runtime settings
	Queue QueueConfig

	// Earnings split settings
	Earnings EarningsConfig

	// Video ingest settings
	Videos VideosConfig

	// Email configuration
	Email EmailConfig

	// Storage configuration
	Storage StorageConfig

	// Realtime (SSE) configuration
	Realtime RealtimeConfig

	// Server timeouts
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"28800s"` // 8 hours for SSE
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"28800s"`  // 8 hours for SSE
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host         string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port         int           `env:"POSTGRES_PORT" envDefault:"5432"`
	User         string        `env:"POSTGRES_USER" envDefault:"coursekit"`
	Password     string        `env:"POSTGRES_PASSWORD" envDefault:""`
	Database     string        `env:"POSTGRES_DB" envDefault:"coursekit"`
	SSLMode      string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	MaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	MaxIdleTime  time.Duration `env:"DB_MAX_IDLE_TIME" envDefault:"5m"`
	QueryDebug   bool          `env:"DB_QUERY_DEBUG" envDefault:"false"`
	AutoMigrate  bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode,
	)
}

// QueueConfig holds job queue and worker runtime settings
type QueueConfig struct {
	// PollIntervalMs is the worker polling interval in milliseconds
	PollIntervalMs int `env:"QUEUE_POLL_INTERVAL_MS" envDefault:"1000"`
	// MaxAttempts is the delivery cap before a job is dead-lettered
	MaxAttempts int `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	// LeaseDuration is how long a claimed job stays invisible to other workers
	LeaseDuration time.Duration `env:"QUEUE_LEASE_DURATION" envDefault:"60s"`
	// RetryBackoffMs is the linear backoff unit between redeliveries
	RetryBackoffMs int `env:"QUEUE_RETRY_BACKOFF_MS" envDefault:"5000"`
	// SweepSchedule is the cron schedule for the expired-lease sweep
	SweepSchedule string `env:"QUEUE_SWEEP_SCHEDULE" envDefault:"*/1 * * * *"`
}

// PollInterval returns the polling interval as a Duration
func (q *QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMs) * time.Millisecond
}

// EarningsConfig holds revenue split settings in basis points
type EarningsConfig struct {
	// InstructorShareBps is the instructor share of a sale (basis points)
	InstructorShareBps int `env:"EARNINGS_INSTRUCTOR_SHARE_BPS" envDefault:"7000"`
	// AdminShareBps is the platform share of a sale (basis points)
	AdminShareBps int `env:"EARNINGS_ADMIN_SHARE_BPS" envDefault:"3000"`
}

// Validate checks the shares sum to at most 100%
func (e *EarningsConfig) Validate() error {
	if e.InstructorShareBps < 0 || e.AdminShareBps < 0 {
		return fmt.Errorf("earnings shares must be non-negative")
	}
	if e.InstructorShareBps+e.AdminShareBps > 10000 {
		return fmt.Errorf("earnings shares sum to more than 100%%")
	}
	return nil
}

// VideosConfig holds video ingest settings
type VideosConfig struct {
	// MaxUploadSizeMB caps a single source upload
	MaxUploadSizeMB int `env:"VIDEO_MAX_UPLOAD_SIZE_MB" envDefault:"2048"`
	// StagingDir holds source files between ingest and the upload worker
	StagingDir string `env:"VIDEO_STAGING_DIR" envDefault:"/tmp/coursekit-uploads"`
	// Renditions is the comma separated list of output heights
	Renditions []string `env:"VIDEO_RENDITIONS" envDefault:"1080p,720p,480p" envSeparator:","`
	// SignedURLTTL is how long playback URLs stay valid
	SignedURLTTL time.Duration `env:"VIDEO_SIGNED_URL_TTL" envDefault:"6h"`
}

// EmailConfig holds email service configuration
type EmailConfig struct {
	// Enabled determines if email sending is enabled
	Enabled bool `env:"EMAIL_ENABLED" envDefault:"false"`
	// MailgunDomain is the Mailgun domain
	MailgunDomain string `env:"MAILGUN_DOMAIN" envDefault:""`
	// MailgunAPIKey is the Mailgun API key
	MailgunAPIKey string `env:"MAILGUN_API_KEY" envDefault:""`
	// FromEmail is the default from email address
	FromEmail string `env:"EMAIL_FROM_ADDRESS" envDefault:"noreply@example.com"`
	// FromName is the default from name
	FromName string `env:"EMAIL_FROM_NAME" envDefault:"CourseKit"`
}

// IsConfigured returns true if Mailgun is configured
func (e *EmailConfig) IsConfigured() bool {
	return e.MailgunDomain != "" && e.MailgunAPIKey != ""
}

// StorageConfig holds storage (MinIO/S3) configuration
type StorageConfig struct {
	// Endpoint is the MinIO/S3 endpoint URL
	Endpoint string `env:"MINIO_ENDPOINT" envDefault:"localhost:9000"`
	// AccessKeyID is the access key ID
	AccessKeyID string `env:"MINIO_ACCESS_KEY" envDefault:""`
	// SecretAccessKey is the secret access key
	SecretAccessKey string `env:"MINIO_SECRET_KEY" envDefault:""`
	// Bucket is the bucket name
	Bucket string `env:"MINIO_BUCKET" envDefault:"coursekit"`
	// UseSSL determines if SSL should be used
	UseSSL bool `env:"MINIO_USE_SSL" envDefault:"false"`
	// Region is the bucket region (for S3 compatibility)
	Region string `env:"MINIO_REGION" envDefault:"us-east-1"`
}

// IsConfigured returns true if storage is configured
func (s *StorageConfig) IsConfigured() bool {
	return s.Endpoint != "" && s.AccessKeyID != "" && s.SecretAccessKey != ""
}

// RealtimeConfig holds SSE fan-out settings
type RealtimeConfig struct {
	// JWTSecret signs and verifies connection tokens
	JWTSecret string `env:"REALTIME_JWT_SECRET" envDefault:""`
	// HeartbeatInterval is the keepalive ping cadence
	HeartbeatInterval time.Duration `env:"REALTIME_HEARTBEAT_INTERVAL" envDefault:"30s"`
	// SendBuffer is the per-connection outbound buffer size
	SendBuffer int `env:"REALTIME_SEND_BUFFER" envDefault:"64"`
}

// NewConfig loads configuration from environment variables
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Earnings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid earnings config: %w", err)
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.Int("port", cfg.ServerPort),
		slog.String("db_host", cfg.Database.Host),
	)

	return cfg, nil
}
