// Package container provides dependency injection and lifecycle management
// for the expense approval service following Clean Architecture principles.
package container

import (
	"fmt"
	"time"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	// Database configuration
	Database DatabaseConfig

	// Currency conversion configuration
	Currency CurrencyConfig

	// Redis rate cache configuration
	Redis RedisConfig

	// OpenAI receipt extraction configuration
	OpenAI OpenAIConfig

	// Server configuration
	Server ServerConfig

	// MetricsEnabled registers Prometheus collectors and exposes /metrics
	MetricsEnabled bool

	// BacklogInterval is how often the open workflow gauge is refreshed
	BacklogInterval time.Duration
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	// MaxOpenConns is the maximum number of open connections
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections
	MaxIdleConns int

	// ConnMaxLifetime is the maximum connection lifetime
	ConnMaxLifetime time.Duration
}

// CurrencyConfig holds exchange rate API settings.
type CurrencyConfig struct {
	APIURL   string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// RedisConfig holds Redis settings. Empty Addr disables the shared cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	// APIKey is the OpenAI API key; empty disables receipt extraction
	APIKey string

	// BaseURL overrides the API endpoint
	BaseURL string

	// Model is the vision model to use (e.g., "gpt-4o")
	Model string

	// PromptsPath points at a prompts YAML replacing the built-in one
	PromptsPath string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/expenses.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Currency: CurrencyConfig{
			APIURL:   "https://api.exchangerate-api.com/v4",
			Timeout:  10 * time.Second,
			CacheTTL: time.Hour,
		},
		OpenAI: OpenAIConfig{
			Model: "gpt-4o",
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			MaxUploadBytes: 10 << 20,
		},
		MetricsEnabled:  true,
		BacklogInterval: 30 * time.Second,
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Currency.APIURL == "" {
		return fmt.Errorf("currency.api_url is required")
	}
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port is required")
	}

	return nil
}
