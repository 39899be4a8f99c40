// Package config loads the application configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EncryptionKeySize is the required ENCRYPTION_KEY length (AES-256).
const EncryptionKeySize = 32

// Supported completion providers.
const (
	CompletionMistral = "mistral"
	CompletionOllama  = "ollama"
)

// Config holds the whole application configuration.
// It is read once at startup and treated as immutable.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`

	// Security
	EncryptionKey string `env:"ENCRYPTION_KEY,required,notEmpty"`
	CronSecret    string `env:"CRON_SECRET,required,notEmpty"`
	JWTSecret     string `env:"JWT_SECRET,required,notEmpty"`

	// Provider gateway
	ProviderBaseURL string        `env:"PROVIDER_BASE_URL,required,notEmpty"`
	ProviderToken   string        `env:"PROVIDER_TOKEN"`
	ProviderTimeout time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
	ProviderRPS     float64       `env:"PROVIDER_RPS" envDefault:"2"`

	// Session
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	LoginBackoff    time.Duration `env:"LOGIN_BACKOFF" envDefault:"2s"`
	LoginMaxRetries int           `env:"LOGIN_MAX_RETRIES" envDefault:"3"`
	LoginJitterMin  time.Duration `env:"LOGIN_JITTER_MIN" envDefault:"500ms"`
	LoginJitterMax  time.Duration `env:"LOGIN_JITTER_MAX" envDefault:"1500ms"`

	// Sync
	PageDelay    time.Duration `env:"PAGE_DELAY" envDefault:"1s"`
	AccountDelay time.Duration `env:"ACCOUNT_DELAY" envDefault:"5s"`
	SyncInterval time.Duration `env:"SYNC_INTERVAL" envDefault:"15m"`

	// Completion
	CompletionProvider string        `env:"COMPLETION_PROVIDER" envDefault:"mistral"`
	CompletionTimeout  time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"60s"`
	MistralAPIKey      string        `env:"MISTRAL_API_KEY"`
	MistralBaseURL     string        `env:"MISTRAL_BASE_URL" envDefault:"https://api.mistral.ai"`
	MistralModel       string        `env:"MISTRAL_MODEL" envDefault:"mistral-large-latest"`
	OllamaBaseURL      string        `env:"OLLAMA_BASE_URL" envDefault:"http://localhost:11434"`
	OllamaModel        string        `env:"OLLAMA_MODEL" envDefault:"llama3"`
	HistoryWindow      int           `env:"HISTORY_WINDOW" envDefault:"10"`

	// Rate Limit (req/min/user)
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`
	RateLimitSync    int `env:"RATE_LIMIT_SYNC" envDefault:"6"`

	// Retention
	SyncLogRetentionDays int `env:"SYNC_LOG_RETENTION_DAYS" envDefault:"30"`

	// Server
	ServerPort         string        `env:"SERVER_PORT" envDefault:"8080"`
	ServerWriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"10m"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"` // "json" or "text"
}

// Load reads the Config from environment variables, after loading a .env file if one exists.
// It returns an error when a required variable is missing or a value is invalid.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.EncryptionKey) != EncryptionKeySize {
		return fmt.Errorf("ENCRYPTION_KEY must be exactly %d bytes, got %d", EncryptionKeySize, len(c.EncryptionKey))
	}

	switch c.CompletionProvider {
	case CompletionMistral:
		if c.MistralAPIKey == "" {
			return fmt.Errorf("MISTRAL_API_KEY is required when COMPLETION_PROVIDER=%s", CompletionMistral)
		}
	case CompletionOllama:
	default:
		return fmt.Errorf("unsupported COMPLETION_PROVIDER %q", c.CompletionProvider)
	}

	if c.LoginJitterMax < c.LoginJitterMin {
		return fmt.Errorf("LOGIN_JITTER_MAX (%s) must not be below LOGIN_JITTER_MIN (%s)", c.LoginJitterMax, c.LoginJitterMin)
	}
	if c.LoginMaxRetries < 0 {
		return fmt.Errorf("LOGIN_MAX_RETRIES must not be negative")
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be positive")
	}

	return nil
}
