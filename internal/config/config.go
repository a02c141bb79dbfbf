package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// ----------------------------
	// SMTP
	// ----------------------------
	SMTPHost     string        `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int           `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string        `envconfig:"SMTP_USER" default:""`
	SMTPPassword string        `envconfig:"SMTP_PASSWORD" default:""`
	SMTPFrom     string        `envconfig:"SMTP_FROM" default:"noreply@pacemail.local"`
	SMTPTimeout  time.Duration `envconfig:"SMTP_TIMEOUT" default:"30s"`

	// ----------------------------
	// Workers
	// ----------------------------
	WorkerCount   int           `envconfig:"WORKER_COUNT" default:"5"`
	RateLimit     int           `envconfig:"RATE_LIMIT" default:"10"`
	RetryAttempts int           `envconfig:"RETRY_ATTEMPTS" default:"3"`
	RetryBackoff  time.Duration `envconfig:"RETRY_BACKOFF" default:"1s"`
	SendThrottle  time.Duration `envconfig:"SEND_THROTTLE" default:"2s"`
	HourlyLimit   int           `envconfig:"HOURLY_LIMIT" default:"100"`

	// ----------------------------
	// Queue
	// ----------------------------
	QueuePrefix       string        `envconfig:"QUEUE_PREFIX" default:"email-queue"`
	QueuePollInterval time.Duration `envconfig:"QUEUE_POLL_INTERVAL" default:"500ms"`
	QueueLease        time.Duration `envconfig:"QUEUE_LEASE" default:"5m"`

	// ----------------------------
	// Redis
	// ----------------------------
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort    string `envconfig:"API_PORT" default:"8080"`
	CSVMaxRows int    `envconfig:"CSV_MAX_ROWS" default:"1000"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func Load() (*Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return &cfg, err
}
