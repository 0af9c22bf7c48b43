// Package config loads the application configuration from file and
// environment. Environment variables use the CASECHAT_ prefix with dots
// replaced by underscores, e.g. CASECHAT_SERVER_ADDRESS.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the chat service.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	JWTSecret    string        `mapstructure:"jwt_secret"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address is required")
	}
	return nil
}

// LLMConfig selects and configures the completion provider.
type LLMConfig struct {
	Provider   string        `mapstructure:"provider"` // openai, anthropic, none
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`

	// Spend estimation; zero disables cost accounting.
	CostPer1KInput  float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// CompletionCost estimates the dollar cost of one completion call.
func (l LLMConfig) CompletionCost(tokensIn, tokensOut int) float64 {
	return float64(tokensIn)/1000*l.CostPer1KInput + float64(tokensOut)/1000*l.CostPer1KOutput
}

func (l LLMConfig) Validate() error {
	switch l.Provider {
	case "openai", "anthropic", "none", "":
	default:
		return fmt.Errorf("llm.provider must be openai, anthropic or none, got %q", l.Provider)
	}
	if (l.Provider == "openai" || l.Provider == "anthropic") && strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required for provider %q", l.Provider)
	}
	return nil
}

// ChatConfig contains the pipeline knobs.
type ChatConfig struct {
	EnableCompound       bool `mapstructure:"enable_compound"`
	AggregationSampleCap int  `mapstructure:"aggregation_sample_cap"`
	PlanningMaxTokens    int  `mapstructure:"planning_max_tokens"`
	SynthesisMaxTokens   int  `mapstructure:"synthesis_max_tokens"`
}

// StorageConfig selects the case store backend.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // postgres or memory
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL     string        `mapstructure:"url"`
	Host    string        `mapstructure:"host"`
	Port    string        `mapstructure:"port"`
	User    string        `mapstructure:"user"`
	Pass    string        `mapstructure:"password"`
	DBName  string        `mapstructure:"dbname"`
	SSLMode string        `mapstructure:"sslmode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN returns the connection string, assembling one from the parts when no
// explicit URL is configured.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := p.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Pass, p.Host, port, p.DBName, sslmode)
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port for the redis client.
func (r RedisConfig) Addr() string {
	port := r.Port
	if port == "" {
		port = "6379"
	}
	return r.Host + ":" + port
}

// SessionsConfig controls conversation history retention.
type SessionsConfig struct {
	Backend      string        `mapstructure:"backend"` // redis or memory
	HistoryLimit int           `mapstructure:"history_limit"`
	TTL          time.Duration `mapstructure:"ttl"`
	SweepCron    string        `mapstructure:"sweep_cron"`
}

func (s SessionsConfig) Validate() error {
	switch s.Backend {
	case "redis", "memory", "":
	default:
		return fmt.Errorf("sessions.backend must be redis or memory, got %q", s.Backend)
	}
	return nil
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads config from file. A missing file is not an error; the
// defaults plus environment are enough to run against an in-memory store.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")

	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("chat.enable_compound", true)
	v.SetDefault("chat.aggregation_sample_cap", 5)
	v.SetDefault("chat.planning_max_tokens", 1000)
	v.SetDefault("chat.synthesis_max_tokens", 1500)
	v.SetDefault("storage.backend", "postgres")
	v.SetDefault("storage.postgres.sslmode", "disable")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("sessions.backend", "memory")
	v.SetDefault("sessions.history_limit", 10)
	v.SetDefault("sessions.ttl", 24*time.Hour)
	v.SetDefault("sessions.sweep_cron", "0 * * * *")
	v.SetDefault("telemetry.enabled", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("CASECHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.applyEnvPassthrough()

	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Sessions.Validate(); err != nil {
		return nil, err
	}
	if cfg.Storage.Backend == "postgres" {
		if err := cfg.Storage.Postgres.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// applyEnvPassthrough honors the conventional unprefixed variables that
// deployment environments already set.
func (c *Config) applyEnvPassthrough() {
	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case "anthropic":
			c.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.Storage.Postgres.URL == "" {
		c.Storage.Postgres.URL = os.Getenv("DATABASE_URL")
	}
	if c.Storage.Redis.Password == "" {
		c.Storage.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if c.Server.JWTSecret == "" {
		c.Server.JWTSecret = os.Getenv("JWT_SECRET")
	}
}
