// Package server is the network edge of the relay: configuration, the
// WebSocket client pumps bridging sockets to the chat engine, the HTTP read
// and write endpoints, admission middleware and the process lifecycle.
package server

import (
	"fmt"
	"os"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the server configuration settings including security controls.
type Config struct {
	Port           string `env:"SERVER_PORT,default=:8080" validate:"required"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize int64  `env:"MAX_MESSAGE_SIZE,default=4096" validate:"gt=0"`

	HistoryCapacity int           `env:"HISTORY_CAPACITY,default=100" validate:"gt=0"`
	SendBufferSize  int           `env:"SEND_BUFFER_SIZE,default=256" validate:"gt=0"`
	TypingTimeout   time.Duration `env:"TYPING_TIMEOUT,default=0s" validate:"gte=0"`

	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS,default=60" validate:"gt=0"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW,default=1m" validate:"gt=0"`

	RedisAddr     string `env:"REDIS_ADDR" validate:"omitempty,hostname_port"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0" validate:"gte=0"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	LogFormat string `env:"LOG_FORMAT,default=text" validate:"oneof=text json"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
}

var configValidator = validator.New()

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	return &Config{
		Port:              ":8080",
		AllowedOrigins:    "http://localhost:8080",
		MaxMessageSize:    4096,
		HistoryCapacity:   100,
		SendBufferSize:    256,
		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,
		LogLevel:          "info",
		LogFormat:         "text",
		ShutdownTimeout:   10 * time.Second,
	}
}

// NewConfigFromEnv loads an optional .env file, then reads the environment.
// Unset variables fall back to their defaults.
func NewConfigFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Origins returns the configured allowed origins as a list.
func (c *Config) Origins() []string {
	return parseOrigins(c.AllowedOrigins)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
