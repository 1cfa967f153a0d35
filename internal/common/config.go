package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	LLM       LLMConfig
	RateLimit RateLimitConfig
	Queue     QueueConfig
	Batch     BatchConfig
	Storage   StorageConfig
	Webhook   WebhookConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr                  string
	ReadHeaderTimeout     time.Duration
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	IdleTimeout           time.Duration
	MaxConcurrentRequests int64
	MaxUploadBytes        int64
	IPRateLimitEvery      time.Duration
	IPRateLimitBurst      int
}

// DatabaseConfig holds database configuration. DSNs starting with
// "postgres://" use the pgx driver; anything else is opened as SQLite.
type DatabaseConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	DialTimeout     time.Duration
}

// LLMConfig holds extraction-provider configuration
type LLMConfig struct {
	APIKey      string
	BaseURL     string
	HighModel   string // accurate tier
	LowModel    string // fast tier
	Temperature float32
	Timeout     time.Duration
}

// RateLimitConfig holds provider-side throttling configuration
type RateLimitConfig struct {
	MaxRequestsPerMinute int
	BaseDelay            time.Duration
	MaxDelay             time.Duration
	PollInterval         time.Duration
	MaxRetries           int
}

// QueueConfig holds processing-queue configuration
type QueueConfig struct {
	Concurrency int
	MaxRetries  int
	RetryDelay  time.Duration
}

// BatchConfig holds batch-submission configuration
type BatchConfig struct {
	BatchAPIThreshold int           // above this, the half-price batch mode kicks in
	SyncWaitLimit     int           // at or below this, the response waits for queue drain
	PollInterval      time.Duration // stats poll while waiting
	WaitTimeout       time.Duration // ceiling on the synchronous wait
}

// StorageConfig holds upload storage configuration
type StorageConfig struct {
	UploadDir string
}

// WebhookConfig holds the optional status-notification target
type WebhookConfig struct {
	URL     string
	Timeout time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:                  getEnv("HTTP_ADDR", ":8080"),
			ReadHeaderTimeout:     getEnvAsDuration("READ_HEADER_TIMEOUT", 10*time.Second),
			ReadTimeout:           getEnvAsDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:          getEnvAsDuration("WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:           getEnvAsDuration("IDLE_TIMEOUT", 60*time.Second),
			MaxConcurrentRequests: int64(getEnvAsInt("MAX_CONCURRENT_REQUESTS", 15)),
			MaxUploadBytes:        int64(getEnvAsInt("MAX_UPLOAD_BYTES", 50<<20)),
			IPRateLimitEvery:      getEnvAsDuration("IP_RATE_LIMIT_EVERY", 200*time.Millisecond),
			IPRateLimitBurst:      getEnvAsInt("IP_RATE_LIMIT_BURST", 20),
		},
		Database: DatabaseConfig{
			DSN:             getEnv("DB_URL", "file:docintake.db?_pragma=busy_timeout(5000)"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_CONNS", 20),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
		},
		LLM: LLMConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			HighModel:   getEnv("OPENAI_MODEL_HIGH", "gpt-4o"),
			LowModel:    getEnv("OPENAI_MODEL_LOW", "gpt-4o-mini"),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 90*time.Second),
		},
		RateLimit: RateLimitConfig{
			MaxRequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),
			BaseDelay:            getEnvAsDuration("RATE_LIMIT_BASE_DELAY", time.Second),
			MaxDelay:             getEnvAsDuration("RATE_LIMIT_MAX_DELAY", time.Minute),
			PollInterval:         getEnvAsDuration("RATE_LIMIT_POLL_INTERVAL", time.Second),
			MaxRetries:           getEnvAsInt("RATE_LIMIT_MAX_RETRIES", 5),
		},
		Queue: QueueConfig{
			Concurrency: getEnvAsInt("QUEUE_CONCURRENCY", 5),
			MaxRetries:  getEnvAsInt("QUEUE_MAX_RETRIES", 3),
			RetryDelay:  getEnvAsDuration("QUEUE_RETRY_DELAY", 2*time.Second),
		},
		Batch: BatchConfig{
			BatchAPIThreshold: getEnvAsInt("BATCH_API_THRESHOLD", 100),
			SyncWaitLimit:     getEnvAsInt("BATCH_SYNC_LIMIT", 10),
			PollInterval:      getEnvAsDuration("BATCH_POLL_INTERVAL", 500*time.Millisecond),
			WaitTimeout:       getEnvAsDuration("BATCH_WAIT_TIMEOUT", 60*time.Second),
		},
		Storage: StorageConfig{
			UploadDir: getEnv("UPLOAD_DIR", "./uploads"),
		},
		Webhook: WebhookConfig{
			URL:     getEnv("WEBHOOK_URL", ""),
			Timeout: getEnvAsDuration("WEBHOOK_TIMEOUT", 5*time.Second),
		},
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Queue.Concurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "QUEUE_CONCURRENCY must be positive", ErrInvalidInput)
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
