package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Dispatch modes
const (
	DispatchInProcess = "inprocess"
	DispatchAMQP      = "amqp"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	RabbitMQ  RabbitMQConfig
	Ingestion IngestionConfig
	Dispatch  DispatchConfig
	Vendor    VendorConfig
	Receipts  ReceiptConfig
	LogLevel  string
	Env       string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	// PublicBaseURL is where the vendor reaches this API
	PublicBaseURL  string
	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RedisConfig holds the Redis connection used for ingestion streams
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
}

// IngestionConfig holds stream consumer settings
type IngestionConfig struct {
	ConsumerName string
	Block        time.Duration
	Count        int64
	Backoff      time.Duration
	// MaxDeliveries enables dead-lettering when greater than zero
	MaxDeliveries    int64
	DeadLetterStream string
}

// DispatchConfig holds campaign send scheduling settings
type DispatchConfig struct {
	Mode      string
	Workers   int
	Interval  time.Duration
	MaxJitter time.Duration
	QueueSize int
	QueueName string
}

// VendorConfig holds vendor gateway settings
type VendorConfig struct {
	URL string
	// Port is where cmd/vendor listens
	Port               string
	SuccessRate        float64
	ReceiptCallbackURL string
	ReceiptFallbackURL string
	ReceiptTimeout     time.Duration
}

// ReceiptConfig holds delivery receipt aggregation settings
type ReceiptConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	MaxAttempts   int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	port := getEnv("PORT", "8080")
	publicBaseURL := getEnv("PUBLIC_BASE_URL", "http://localhost:"+port)

	config := &Config{
		Server: ServerConfig{
			Port:           port,
			PublicBaseURL:  publicBaseURL,
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "minicrm"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "minicrm_db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_DEFAULT_USER", "guest"),
			Password: getEnv("RABBITMQ_DEFAULT_PASS", "guest"),
		},
		Ingestion: IngestionConfig{
			ConsumerName:     getEnv("INGEST_CONSUMER_NAME", "worker-1"),
			Block:            getEnvAsDuration("INGEST_BLOCK", time.Second),
			Count:            int64(getEnvAsInt("INGEST_COUNT", 10)),
			Backoff:          getEnvAsDuration("INGEST_BACKOFF", 5*time.Second),
			MaxDeliveries:    int64(getEnvAsInt("INGEST_MAX_DELIVERIES", 0)),
			DeadLetterStream: getEnv("INGEST_DEAD_LETTER_STREAM", ""),
		},
		Dispatch: DispatchConfig{
			Mode:      getEnv("DISPATCH_MODE", DispatchInProcess),
			Workers:   getEnvAsInt("DISPATCH_WORKERS", 10),
			Interval:  getEnvAsDuration("DISPATCH_INTERVAL", 500*time.Millisecond),
			MaxJitter: getEnvAsDuration("DISPATCH_MAX_JITTER", time.Second),
			QueueSize: getEnvAsInt("DISPATCH_QUEUE_SIZE", 1000),
			QueueName: getEnv("DISPATCH_QUEUE_NAME", "campaign_sends"),
		},
		Vendor: VendorConfig{
			URL:                getEnv("VENDOR_URL", "http://localhost:8090/api/vendor/send"),
			Port:               getEnv("VENDOR_PORT", "8090"),
			SuccessRate:        getEnvAsFloat("VENDOR_SUCCESS_RATE", 0.9),
			ReceiptCallbackURL: getEnv("RECEIPT_CALLBACK_URL", publicBaseURL+"/api/campaigns/delivery-receipt"),
			ReceiptFallbackURL: getEnv("RECEIPT_FALLBACK_URL", publicBaseURL+"/api/delivery-receipt"),
			ReceiptTimeout:     getEnvAsDuration("RECEIPT_TIMEOUT", 5*time.Second),
		},
		Receipts: ReceiptConfig{
			BatchSize:     getEnvAsInt("RECEIPT_BATCH_SIZE", 10),
			FlushInterval: getEnvAsDuration("RECEIPT_FLUSH_INTERVAL", 2*time.Second),
			QueueSize:     getEnvAsInt("RECEIPT_QUEUE_SIZE", 10000),
			MaxAttempts:   getEnvAsInt("RECEIPT_MAX_ATTEMPTS", 3),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Env:      getEnv("ENV", "development"),
	}

	// Validate required fields
	if config.Database.Password == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if config.Dispatch.Mode != DispatchInProcess && config.Dispatch.Mode != DispatchAMQP {
		return nil, fmt.Errorf("DISPATCH_MODE must be %q or %q", DispatchInProcess, DispatchAMQP)
	}
	if config.Ingestion.MaxDeliveries > 0 && config.Ingestion.DeadLetterStream == "" {
		return nil, fmt.Errorf("INGEST_DEAD_LETTER_STREAM is required when INGEST_MAX_DELIVERIES is set")
	}

	return config, nil
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// UsesAMQP reports whether campaign sends go through RabbitMQ
func (c *Config) UsesAMQP() bool {
	return c.Dispatch.Mode == DispatchAMQP
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets environment variable as float or returns default
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets environment variable as a duration ("2s", "500ms") or returns default
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList gets a comma separated environment variable or returns default
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
