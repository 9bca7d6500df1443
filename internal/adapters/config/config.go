package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config represents application configuration
type Config struct {
	Reddit   RedditConfig
	AI       AIConfig
	Analysis AnalysisConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

// RedditConfig represents Reddit API credentials
type RedditConfig struct {
	ClientID  string `envconfig:"REDDIT_CLIENT_ID" required:"true"`
	Secret    string `envconfig:"REDDIT_SECRET" required:"true"`
	UserAgent string `envconfig:"REDDIT_USER_AGENT" default:"biaslens/1.0"`
}

// AIProviderConfig represents single AI provider configuration
type AIProviderConfig struct {
	APIKey  string `envconfig:"API_KEY" required:"false"`
	Enabled bool   `envconfig:"ENABLED" default:"true"`
}

// AIConfig represents stance classification configuration
type AIConfig struct {
	DeepSeek      AIProviderConfig `envconfig:"DEEPSEEK"`
	OpenAI        AIProviderConfig `envconfig:"OPENAI"`
	PromptVersion string           `envconfig:"AI_PROMPT_VERSION" default:"v1"`
	InputCharCap  int              `envconfig:"AI_INPUT_CHAR_CAP" default:"8000"`
	ResultTTL     time.Duration    `envconfig:"AI_RESULT_TTL" default:"720h"`
}

// AnalysisConfig represents pipeline tuning parameters
type AnalysisConfig struct {
	TopLimit        int           `envconfig:"ANALYSIS_TOP_LIMIT" default:"25"`
	TopWindow       string        `envconfig:"ANALYSIS_TOP_WINDOW" default:"month"`
	DiscussionLimit int           `envconfig:"ANALYSIS_DISCUSSION_LIMIT" default:"6"`
	BatchSize       int           `envconfig:"ANALYSIS_BATCH_SIZE" default:"3"`
	CommentTimeout  time.Duration `envconfig:"ANALYSIS_COMMENT_TIMEOUT" default:"10s"`
	RunCacheTTL     time.Duration `envconfig:"ANALYSIS_RUN_CACHE_TTL" default:"10m"`
}

// DatabaseConfig represents database connection parameters
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"biaslens"`
	User     string `envconfig:"DB_USER" required:"true"`
	Password string `envconfig:"DB_PASSWORD" required:"true"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
}

// RedisConfig represents redis connection parameters.
// An empty host disables the cache layer entirely.
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:""`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// ServerConfig represents HTTP server parameters
type ServerConfig struct {
	Port string `envconfig:"SERVER_PORT" default:"8080"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
	File  string `envconfig:"LOG_FILE" default:""`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Analysis.TopLimit < 1 {
		return fmt.Errorf("top_limit must be at least 1")
	}
	if c.Analysis.DiscussionLimit < 1 {
		return fmt.Errorf("discussion_limit must be at least 1")
	}
	if c.Analysis.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	switch c.Analysis.TopWindow {
	case "hour", "day", "week", "month", "year", "all":
	default:
		return fmt.Errorf("invalid top_window: %s", c.Analysis.TopWindow)
	}
	if c.AI.InputCharCap < 1 {
		return fmt.Errorf("input_char_cap must be positive")
	}
	return nil
}

// GetDSN returns PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetEnabledAIProviders returns list of enabled AI provider names,
// in fallback order.
func (c *AIConfig) GetEnabledAIProviders() []string {
	var providers []string
	if c.DeepSeek.Enabled && c.DeepSeek.APIKey != "" {
		providers = append(providers, "deepseek")
	}
	if c.OpenAI.Enabled && c.OpenAI.APIKey != "" {
		providers = append(providers, "openai")
	}
	return providers
}
