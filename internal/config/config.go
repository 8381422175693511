package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	BackendHuggingFace = "huggingface"
	BackendOpenAI      = "openai"

	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// DBConfig holds database configuration for the generation history.
// History is disabled when Host is empty.
type DBConfig struct {
	Host            string        `env:"DB_HOST"`
	Port            int           `env:"DB_PORT" env-default:"5432"`
	User            string        `env:"DB_USER"`
	Password        string        `env:"DB_PASSWORD"`
	Database        string        `env:"DB_NAME"`
	SSLMode         string        `env:"DB_SSL_MODE" env-default:"disable"`
	MaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" env-default:"25"`
	ConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"5m"`
}

// Enabled reports whether a database was configured.
func (c DBConfig) Enabled() bool {
	return c.Host != ""
}

// HuggingFaceConfig configures the Hugging Face inference backend
type HuggingFaceConfig struct {
	APIKey  string `env:"HUGGINGFACE_API_KEY"`
	BaseURL string `env:"HUGGINGFACE_API_URL" env-default:"https://api-inference.huggingface.co/models"`
}

// OpenAIConfig configures the OpenAI images backend
type OpenAIConfig struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	BaseURL string `env:"OPENAI_BASE_URL"`
}

// GenerationDefaults are applied to requests that leave a parameter unset
type GenerationDefaults struct {
	Width         int     `env:"DEFAULT_IMAGE_WIDTH" env-default:"1024"`
	Height        int     `env:"DEFAULT_IMAGE_HEIGHT" env-default:"1024"`
	GuidanceScale float64 `env:"DEFAULT_GUIDANCE_SCALE" env-default:"7.5"`
	Steps         int     `env:"DEFAULT_INFERENCE_STEPS" env-default:"50"`
	Model         string  `env:"DEFAULT_MODEL" env-default:"flux-schnell"`
}

// HistoryConfig controls retention of recorded generations
type HistoryConfig struct {
	Retention     time.Duration `env:"HISTORY_RETENTION" env-default:"720h"`
	PruneSchedule string        `env:"HISTORY_PRUNE_SCHEDULE" env-default:"0 0 * * * *"`
}

// Config holds all configuration for the application
type Config struct {
	Env     string `env:"APP_ENV" env-default:"development"`
	Port    int    `env:"PORT" env-default:"5000"`
	LogFile string `env:"LOG_FILE" env-default:"imagegate.log"`

	Backend        string        `env:"IMAGEGATE_BACKEND" env-default:"huggingface"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" env-default:"120s"`
	ModelsFile     string        `env:"MODELS_FILE"`

	HuggingFace HuggingFaceConfig
	OpenAI      OpenAIConfig
	Defaults    GenerationDefaults
	History     HistoryConfig
	DB          DBConfig
}

// Load loads the configuration from the environment, reading .env first when present
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the configuration from process environment variables only
func FromEnv() (*Config, error) {
	cfg := &Config{}
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("error reading environment: %w", err)
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))
	cfg.Env = strings.ToLower(strings.TrimSpace(cfg.Env))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendHuggingFace:
		if c.HuggingFace.APIKey == "" {
			return fmt.Errorf("HUGGINGFACE_API_KEY is required")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required")
		}
	default:
		return fmt.Errorf("IMAGEGATE_BACKEND must be %q or %q, got %q", BackendHuggingFace, BackendOpenAI, c.Backend)
	}

	if c.BackendTimeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be positive")
	}

	if c.Defaults.Width <= 0 || c.Defaults.Height <= 0 {
		return fmt.Errorf("DEFAULT_IMAGE_WIDTH and DEFAULT_IMAGE_HEIGHT must be positive")
	}

	// Database configuration is optional, but complete when present
	if c.DB.Enabled() {
		if c.DB.User == "" {
			return fmt.Errorf("DB_USER is required")
		}
		if c.DB.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
		if c.DB.Database == "" {
			return fmt.Errorf("DB_NAME is required")
		}
	}

	return nil
}

// IsProduction reports whether internal error details must be hidden from clients
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}
