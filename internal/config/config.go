package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/soochol/deskflow/internal/deskflow"
)

// Config holds the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Auth       AuthConfig       `yaml:"auth"`
	Engine     EngineConfig     `yaml:"engine"`
	Escalation EscalationConfig `yaml:"escalation"`
	Triage     TriageConfig     `yaml:"triage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// DatabaseConfig holds database connection settings. An empty URL selects
// the in-memory stores.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig configures the escalation dedupe ledger. An empty Addr
// keeps the ledger in the database (or in memory).
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AuthConfig holds API authentication settings. An empty JWTSecret
// disables authentication, which is only meant for local development.
type AuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	EncryptionKey string `yaml:"encryption_key"` // 64 hex chars, for connection secrets
}

// EngineConfig tunes workflow execution.
type EngineConfig struct {
	ActionTimeout     time.Duration              `yaml:"action_timeout"`
	Concurrency       deskflow.ConcurrencyLimits `yaml:"concurrency"`
	DelayPollInterval time.Duration              `yaml:"delay_poll_interval"`
	HistoryLimit      int                        `yaml:"history_limit"`
	Retry             deskflow.RetryPolicy       `yaml:"retry"`
}

// EscalationConfig tunes the escalation pass.
type EscalationConfig struct {
	HistoryLimit int           `yaml:"history_limit"` // messages of lookback
	DedupeTTL    time.Duration `yaml:"dedupe_ttl"`    // redis ledger key lifetime
}

// TriageConfig is the priority scoring policy.
type TriageConfig struct {
	BaseScore       float64 `yaml:"base_score"`
	SentimentWeight float64 `yaml:"sentiment_weight"`
	WaitPerMinute   float64 `yaml:"wait_per_minute"`
	UrgentAt        float64 `yaml:"urgent_at"`
	HighAt          float64 `yaml:"high_at"`
	NormalAt        float64 `yaml:"normal_at"`
	CacheScores     bool    `yaml:"cache_scores"`
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Engine: EngineConfig{
			ActionTimeout:     30 * time.Second,
			Concurrency:       deskflow.DefaultConcurrencyLimits(),
			DelayPollInterval: time.Second,
			HistoryLimit:      20,
			Retry:             deskflow.DefaultRetryPolicy(),
		},
		Escalation: EscalationConfig{
			HistoryLimit: 10,
			DedupeTTL:    7 * 24 * time.Hour,
		},
		Triage: TriageConfig{
			BaseScore:       5,
			SentimentWeight: 5,
			WaitPerMinute:   0.05,
			UrgentAt:        15,
			HighAt:          10,
			NormalAt:        5,
			CacheScores:     true,
		},
	}
}

// Load reads a YAML configuration file at path and returns a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads ".env" when present, then "config.yaml" from the
// current directory (defaults when it does not exist), then applies
// DESKFLOW_* environment overrides.
func LoadDefault() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg, err := Load("config.yaml")
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = defaults()
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("DESKFLOW_DATABASE_URL"); ok {
		c.Database.URL = v
	}
	if v, ok := lookup("DESKFLOW_REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := lookup("DESKFLOW_JWT_SECRET"); ok {
		c.Auth.JWTSecret = v
	}
	if v, ok := lookup("DESKFLOW_ENCRYPTION_KEY"); ok {
		c.Auth.EncryptionKey = v
	}
	if v, ok := lookup("DESKFLOW_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("DESKFLOW_PORT: invalid port %q", v)
		}
		c.Server.Port = port
	}
	return nil
}
