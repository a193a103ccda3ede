package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting of the service. Values come from the
// environment, optionally seeded from a local .env file.
type Config struct {
	Port        int
	DatabaseDSN string
	RedisAddr   string

	JWTSecret   string
	JWTAudience string

	ModelsDir       string
	MatchThreshold  float64
	MaxImageEdge    int
	ExtractTimeout  time.Duration
	EnrollWorkers   int
	EnrollQueueSize int

	LogLevel string
}

// Load reads configuration from the environment. A missing .env file is not
// an error; in containerized deployments variables come from the runtime.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        envInt("FACEPONTO_PORT", 8080),
		DatabaseDSN: envStr("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=faceponto port=5432 sslmode=disable"),
		RedisAddr:   envStr("REDIS_ADDR", "localhost:6379"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTAudience: os.Getenv("JWT_AUDIENCE"),

		ModelsDir:       envStr("FACEPONTO_MODELS_DIR", "models"),
		MatchThreshold:  envFloat("FACEPONTO_MATCH_THRESHOLD", 0),
		MaxImageEdge:    envInt("FACEPONTO_MAX_IMAGE_EDGE", 0),
		ExtractTimeout:  envDuration("FACEPONTO_EXTRACT_TIMEOUT", 10*time.Second),
		EnrollWorkers:   envInt("FACEPONTO_ENROLL_WORKERS", 4),
		EnrollQueueSize: envInt("FACEPONTO_ENROLL_QUEUE_SIZE", 64),

		LogLevel: envStr("FACEPONTO_LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MatchThreshold < 0 {
		return fmt.Errorf("match threshold must be non-negative, got %f", c.MatchThreshold)
	}
	if c.EnrollWorkers <= 0 {
		return fmt.Errorf("enroll workers must be positive, got %d", c.EnrollWorkers)
	}
	if c.EnrollQueueSize <= 0 {
		return fmt.Errorf("enroll queue size must be positive, got %d", c.EnrollQueueSize)
	}
	if c.ExtractTimeout <= 0 {
		return fmt.Errorf("extract timeout must be positive, got %s", c.ExtractTimeout)
	}
	return nil
}

func envStr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
