// Package config provides configuration loading and management for the application.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Path of the YAML provider file, empty selects the built-in providers
	ProvidersFile string

	// Default provider persistence: memory, sqlite, postgresql or mongodb
	StoreType string
	StoreDSN  string

	// Default provider cache: memory or redis
	CacheType  string
	RedisAddr  string
	DefaultTTL time.Duration

	// Per adapter request settings
	RequestTimeout   time.Duration
	RetryMax         int
	RateLimitBackoff time.Duration

	// Block range fan-out
	BlockWorkers int
	BlockHedge   int

	// How long the explorer waits when every candidate is backing off, 0 fails immediately
	MaxBackoffWait time.Duration

	// Broker consumer, disabled when AMQPURL is empty
	AMQPURL   string
	AMQPQueue string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	// Exhaustion event export, disabled when the webhook URL is empty
	ExportWebhookURL string
	ExportInterval   time.Duration

	// API keys per provider name, merged into the provider file
	APIKeys map[string][]string
}

// Load creates a new Config from environment variables
func Load() Config {
	return Config{
		Port:             GetEnvOrDefault("PORT", "8080"),
		ProvidersFile:    GetEnvOrDefault("PROVIDERS_FILE", ""),
		StoreType:        strings.ToLower(GetEnvOrDefault("STORE_TYPE", "memory")),
		StoreDSN:         GetEnvOrDefault("STORE_DSN", ""),
		CacheType:        strings.ToLower(GetEnvOrDefault("CACHE_TYPE", "memory")),
		RedisAddr:        GetEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		DefaultTTL:       GetEnvAsDuration("DEFAULT_PROVIDER_TTL", 60*time.Second),
		RequestTimeout:   GetEnvAsDuration("REQUEST_TIMEOUT", 5*time.Second),
		RetryMax:         GetEnvAsInt("RETRY_MAX", 1),
		RateLimitBackoff: GetEnvAsDuration("RATE_LIMIT_BACKOFF", 30*time.Second),
		BlockWorkers:     GetEnvAsInt("BLOCK_WORKERS", 4),
		BlockHedge:       GetEnvAsInt("BLOCK_HEDGE", 1),
		MaxBackoffWait:   GetEnvAsDuration("MAX_BACKOFF_WAIT", 0),
		AMQPURL:          GetEnvOrDefault("AMQP_URL", ""),
		AMQPQueue:        GetEnvOrDefault("AMQP_QUEUE", "explorer.balance.requests"),
		OtelEndpoint:     GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ExportWebhookURL: GetEnvOrDefault("EXPORT_WEBHOOK_URL", ""),
		ExportInterval:   GetEnvAsDuration("EXPORT_INTERVAL", time.Minute),
		APIKeys:          parseAPIKeys(os.Getenv("API_KEYS")),
	}
}

// parseAPIKeys reads a JSON object of provider name to comma separated keys
func parseAPIKeys(raw string) map[string][]string {
	keys := map[string][]string{}
	if raw == "" {
		return keys
	}
	var flat map[string]string
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		logrus.Warnf("Invalid API_KEYS: %v, ignoring", err)
		return keys
	}
	for name, list := range flat {
		for _, k := range strings.Split(list, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys[name] = append(keys[name], k)
			}
		}
	}
	return keys
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
		logrus.Warnf("Invalid integer in %s: %v, using default: %v", key, err, defaultValue)
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		floatValue, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return floatValue
		}
		logrus.Warnf("Invalid float in %s: %v, using default: %v", key, err, defaultValue)
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		duration, err := time.ParseDuration(value)
		if err == nil {
			return duration
		}
		logrus.Warnf("Invalid duration in %s: %v, using default: %v", key, err, defaultValue)
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a boolean with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
		logrus.Warnf("Invalid boolean in %s: %v, using default: %v", key, err, defaultValue)
	}
	return defaultValue
}
