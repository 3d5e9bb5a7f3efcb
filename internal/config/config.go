package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; only DATABASE_URL is required.
type Config struct {
	// Ops HTTP server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// Queue transport
	QueuePrefix       string
	Partitions        int
	VisibilityTimeout time.Duration
	IdlePollInterval  time.Duration

	// Worker pools
	DeliveryWorkers    int
	RetryWorkers       int
	DeliveryQueueLimit int
	RetryQueueLimit    int
	OverloadSleep      time.Duration

	// Subscriber cache
	UseSubscriberCache bool
	CacheTTL           time.Duration
	CacheMaxTopics     int

	// Delivery attempts
	EndpointTimeout     time.Duration
	MaxDeliveryAttempts int
	RateLimitPerProto   int

	// Retry backoff durations: index 0 = first retry delay, etc.
	// Attempts past the end of the slice use the last entry (clamped).
	RetryBackoff []time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		QueuePrefix:       getEnv("QUEUE_PREFIX", "endpoint-publish-"),
		Partitions:        getInt("QUEUE_PARTITIONS", 4),
		VisibilityTimeout: getDuration("VISIBILITY_TIMEOUT", 30*time.Second),
		IdlePollInterval:  getDuration("IDLE_POLL_INTERVAL", 500*time.Millisecond),

		DeliveryWorkers:    getInt("DELIVERY_WORKERS", 8),
		RetryWorkers:       getInt("RETRY_WORKERS", 4),
		DeliveryQueueLimit: getInt("DELIVERY_QUEUE_LIMIT", 1000),
		RetryQueueLimit:    getInt("RETRY_QUEUE_LIMIT", 1000),
		OverloadSleep:      getDuration("OVERLOAD_SLEEP", 100*time.Millisecond),

		UseSubscriberCache: getBool("USE_SUBSCRIBER_CACHE", true),
		CacheTTL:           getDuration("SUBSCRIBER_CACHE_TTL", 60*time.Second),
		CacheMaxTopics:     getInt("SUBSCRIBER_CACHE_MAX_TOPICS", 1000),

		EndpointTimeout:     getDuration("ENDPOINT_TIMEOUT", 10*time.Second),
		MaxDeliveryAttempts: getInt("MAX_DELIVERY_ATTEMPTS", 4),
		RateLimitPerProto:   getInt("RATE_LIMIT_PER_PROTOCOL", 100),

		RetryBackoff: []time.Duration{
			getDuration("RETRY_BACKOFF_1", 5*time.Second),
			getDuration("RETRY_BACKOFF_2", 30*time.Second),
			getDuration("RETRY_BACKOFF_3", 120*time.Second),
		},
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
