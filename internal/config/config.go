package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/parkerhale/engram/internal/eviction"
	"github.com/parkerhale/engram/internal/priority"
)

// Config holds all configuration for engram.
type Config struct {
	Storage  StorageConfig   `mapstructure:"storage"`
	Priority PriorityConfig  `mapstructure:"priority"`
	Eviction eviction.Config `mapstructure:"eviction"`
	Session  SessionConfig   `mapstructure:"session"`
	Tags     TagsConfig      `mapstructure:"tags"`
	Logging  LoggingConfig   `mapstructure:"logging"`
	API      APIConfig       `mapstructure:"api"`
}

// StorageConfig selects and locates the persistence backend.
type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `mapstructure:"backend"`
	// Path is the storage root. The file backend lays out its files under
	// it; the sqlite backend keeps engram.db inside it.
	Path string `mapstructure:"path"`
}

// PriorityConfig holds scoring weights and normalization caps.
type PriorityConfig struct {
	Weights      priority.Weights `mapstructure:"weights"`
	FrequencyCap int              `mapstructure:"frequency_cap"`
	TokenCap     int              `mapstructure:"token_cap"`
}

// SessionConfig holds session boundary behavior.
type SessionConfig struct {
	// MemoriesToLoad is how many top-priority memories the session-start
	// hook surfaces.
	MemoriesToLoad int `mapstructure:"memories_to_load"`
	// TokenBudget bounds the formatted memory context at session start.
	TokenBudget int `mapstructure:"token_budget"`
	// CountTokens enables accumulating estimated tool-output tokens into
	// the difficulty signals.
	CountTokens bool `mapstructure:"count_tokens"`
	// StatePath locates state.json. Empty means <storage.path>/state.json.
	StatePath string `mapstructure:"state_path"`
}

// TagsConfig controls auto-tagging.
type TagsConfig struct {
	// Auto extracts tags from topic and content when a store call passes
	// none.
	Auto bool `mapstructure:"auto"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AuthToken  string `mapstructure:"auth_token"`
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.path", filepath.Join(homeDir(), ".engram"))

	def := priority.DefaultWeights()
	v.SetDefault("priority.weights.difficulty", def.Difficulty)
	v.SetDefault("priority.weights.recency", def.Recency)
	v.SetDefault("priority.weights.frequency", def.Frequency)
	v.SetDefault("priority.frequency_cap", priority.FrequencyCap)
	v.SetDefault("priority.token_cap", priority.DefaultTokenCap)

	evict := eviction.DefaultConfig()
	v.SetDefault("eviction.threshold", evict.Threshold)
	v.SetDefault("eviction.batch_size", evict.BatchSize)
	v.SetDefault("eviction.hint_max_chars", evict.HintMaxChars)
	v.SetDefault("eviction.abstract_max_chars", evict.AbstractMaxChars)

	v.SetDefault("session.memories_to_load", 5)
	v.SetDefault("session.token_budget", 2000)
	v.SetDefault("session.count_tokens", true)
	v.SetDefault("session.state_path", "")

	v.SetDefault("tags.auto", true)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("api.listen_addr", ":8163")
	v.SetDefault("api.auth_token", "")

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(filepath.Join(homeDir(), ".engram"))
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("ENGRAM")
	v.AutomaticEnv()

	_ = v.BindEnv("storage.backend", "ENGRAM_STORAGE_BACKEND")
	_ = v.BindEnv("storage.path", "ENGRAM_STORAGE_PATH")
	_ = v.BindEnv("eviction.threshold", "ENGRAM_EVICTION_THRESHOLD")
	_ = v.BindEnv("api.listen_addr", "ENGRAM_API_LISTEN_ADDR")
	_ = v.BindEnv("api.auth_token", "ENGRAM_API_AUTH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is OK — use defaults + env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are set and consistent.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be \"file\" or \"sqlite\", got %q", c.Storage.Backend)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path must not be empty")
	}
	if err := c.Priority.Weights.Validate(); err != nil {
		return fmt.Errorf("priority.weights: %w", err)
	}
	if c.Priority.FrequencyCap <= 0 {
		return fmt.Errorf("priority.frequency_cap must be greater than 0")
	}
	if c.Priority.TokenCap <= 0 {
		return fmt.Errorf("priority.token_cap must be greater than 0")
	}
	if c.Eviction.Threshold <= 0 {
		return fmt.Errorf("eviction.threshold must be greater than 0")
	}
	if c.Eviction.BatchSize <= 0 {
		return fmt.Errorf("eviction.batch_size must be greater than 0")
	}
	if c.Session.MemoriesToLoad <= 0 {
		return fmt.Errorf("session.memories_to_load must be greater than 0")
	}
	if c.Session.TokenBudget <= 0 {
		return fmt.Errorf("session.token_budget must be greater than 0")
	}
	return nil
}

// DatabasePath returns the sqlite database file location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Storage.Path, "engram.db")
}

// StatePath returns the resolved session state file location.
func (c *Config) StatePath() string {
	if c.Session.StatePath != "" {
		return c.Session.StatePath
	}
	return filepath.Join(c.Storage.Path, "state.json")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
