// Package config provides environment-driven configuration and the typed
// agent config blocks shared across services.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nooble8/ragcore/pkg/version"
)

// Config is the top-level service configuration, loaded from the environment.
type Config struct {
	ServiceName    string
	ServiceVersion string

	HTTPPort string
	GinMode  string

	RedisURL string

	Qdrant QdrantConfig
	Worker WorkerConfig

	// ConfigCacheTTL bounds the shared (L2) agent-config cache entries.
	ConfigCacheTTL time.Duration

	// SendWaitTimeout is the default bound for synchronous bus sends.
	SendWaitTimeout time.Duration

	EmbeddingAPIKey string
	LLMAPIKey       string
}

// QdrantConfig holds vector store connection settings.
type QdrantConfig struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// WorkerConfig contains worker pool configuration.
type WorkerConfig struct {
	// WorkerCount is the number of consumer goroutines per service role.
	WorkerCount int

	// PollTimeout is how long a blocking queue pop waits before the worker
	// re-checks for shutdown.
	PollTimeout time.Duration

	// GracefulShutdownTimeout is the max time to wait for in-flight actions
	// to complete during shutdown.
	GracefulShutdownTimeout time.Duration
}

// DefaultWorkerConfig returns the built-in worker defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		WorkerCount:             2,
		PollTimeout:             2 * time.Second,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName:    getEnv("SERVICE_NAME", version.AppName),
		ServiceVersion: getEnv("SERVICE_VERSION", version.GitCommit),
		HTTPPort:       getEnv("HTTP_PORT", "8080"),
		GinMode:        getEnv("GIN_MODE", "release"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		Qdrant: QdrantConfig{
			Host:   getEnv("QDRANT_HOST", "localhost"),
			APIKey: os.Getenv("QDRANT_API_KEY"),
		},
		Worker:          DefaultWorkerConfig(),
		EmbeddingAPIKey: os.Getenv("EMBEDDING_API_KEY"),
		LLMAPIKey:       os.Getenv("LLM_API_KEY"),
	}

	var err error
	if cfg.Qdrant.Port, err = getEnvInt("QDRANT_PORT", 6334); err != nil {
		return nil, err
	}
	if cfg.Qdrant.UseTLS, err = getEnvBool("QDRANT_USE_TLS", false); err != nil {
		return nil, err
	}
	if cfg.Worker.WorkerCount, err = getEnvInt("WORKER_COUNT", 2); err != nil {
		return nil, err
	}
	if cfg.ConfigCacheTTL, err = getEnvDuration("CONFIG_CACHE_TTL", 600*time.Second); err != nil {
		return nil, err
	}
	if cfg.SendWaitTimeout, err = getEnvDuration("SEND_WAIT_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	// Accept both bare seconds ("600") and Go duration strings ("10m").
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
