package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all process configuration for the server
type Config struct {
	Server     ServerConfig
	Render     RenderConfig
	Redis      RedisConfig
	Token      TokenConfig
	Provider   ProviderConfig
	ConfigPath string // Path of the YAML app config, re-read per request
	LogLevel   string
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Listen       string
	ReadTimeout  int
	WriteTimeout int
}

// RenderConfig holds render worker configuration
type RenderConfig struct {
	Workers int
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	Addr      string // Empty disables Redis
	Password  string
	DB        int
	KeyPrefix string
}

// TokenConfig holds capability token failure tracking settings
type TokenConfig struct {
	MaxFailures   int // 0 disables blocking
	FailureWindow int // seconds
}

// ProviderConfig holds settings for the context providers
type ProviderConfig struct {
	WeatherTimeout int // seconds
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Listen:       getEnv("SERVER_LISTEN", "0.0.0.0:9080"),
			ReadTimeout:  getEnvAsInt("SERVER_READ_TIMEOUT", 10),
			WriteTimeout: getEnvAsInt("SERVER_WRITE_TIMEOUT", 30),
		},
		Render: RenderConfig{
			Workers: getEnvAsInt("RENDER_WORKERS", 4),
		},
		Redis: RedisConfig{
			Addr:      getRedisAddr(),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "trmnl"),
		},
		Token: TokenConfig{
			MaxFailures:   getEnvAsInt("TOKEN_MAX_FAILURES", 0),
			FailureWindow: getEnvAsInt("TOKEN_FAILURE_WINDOW", 300),
		},
		Provider: ProviderConfig{
			WeatherTimeout: getEnvAsInt("WEATHER_TIMEOUT", 10),
		},
		ConfigPath: getEnv("CONFIG_PATH", "config/config.yaml"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// getRedisAddr resolves the Redis address from REDIS_URL or REDIS_ADDR.
// Unlike the other settings there is no default: no address means no Redis.
func getRedisAddr() string {
	if url := os.Getenv("REDIS_URL"); url != "" {
		return strings.TrimPrefix(url, "redis://")
	}
	return os.Getenv("REDIS_ADDR")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
