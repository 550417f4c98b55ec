// Package config loads porkchop's TOML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/porkchop/internal/generate"
	"github.com/hochfrequenz/porkchop/internal/schedule"
	"github.com/hochfrequenz/porkchop/internal/validation"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Generation    GenerationConfig    `toml:"generation"`
	Limits        LimitsConfig        `toml:"limits"`
	Web           WebConfig           `toml:"web"`
	Logging       LoggingConfig       `toml:"logging"`
	Notifications NotificationsConfig `toml:"notifications"`
	Schedules     []schedule.Entry    `toml:"schedule"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	DatabasePath string `toml:"database_path"`
	// PromptsDir overrides the embedded prompt catalog when set
	PromptsDir               string `toml:"prompts_dir"`
	MaxConcurrentGenerations int    `toml:"max_concurrent_generations"`
}

// GenerationConfig selects and tunes the text-generation backend
type GenerationConfig struct {
	Provider       string  `toml:"provider"`
	Host           string  `toml:"host"`
	Model          string  `toml:"model"`
	Seed           int     `toml:"seed"`
	Temperature    float64 `toml:"temperature"`
	FormatPath     string  `toml:"format_path"`
	RequestTimeout string  `toml:"request_timeout"`
	APIKey         string  `toml:"api_key"`
}

// LimitsConfig bounds submissions
type LimitsConfig struct {
	MaxFiles    int   `toml:"max_files"`
	MaxFileSize int64 `toml:"max_file_size"`
}

// WebConfig holds HTTP server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	File  string `toml:"file"`
	Level string `toml:"level"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath:             filepath.Join(home, ".porkchop", "porkchop.db"),
			MaxConcurrentGenerations: 3,
		},
		Generation: GenerationConfig{
			Provider:       generate.ProviderOllama,
			Host:           generate.DefaultOllamaHost,
			Model:          "gemma3n:e4b",
			Seed:           0,
			Temperature:    0.8,
			RequestTimeout: "10m",
		},
		Limits: LimitsConfig{
			MaxFiles:    validation.DefaultMaxFiles,
			MaxFileSize: validation.DefaultMaxFileSize,
		},
		Web: WebConfig{
			Port: 8000,
			Host: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults,
// then applies environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.Getenv)

	// Expand paths
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.PromptsDir = ExpandPath(cfg.General.PromptsDir)
	cfg.Generation.FormatPath = ExpandPath(cfg.Generation.FormatPath)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)

	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("OLLAMA_HOST"); v != "" {
		c.Generation.Host = v
	}
	if v := getenv("OLLAMA_MODEL"); v != "" {
		c.Generation.Model = v
	}
	if v := getenv("PORKCHOP_DATABASE_PATH"); v != "" {
		c.General.DatabasePath = v
	}
	if v := getenv("PORKCHOP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.General.MaxConcurrentGenerations < 1 {
		return fmt.Errorf("general.max_concurrent_generations must be positive, got %d", c.General.MaxConcurrentGenerations)
	}
	switch c.Generation.Provider {
	case generate.ProviderOllama, generate.ProviderOpenAI, generate.ProviderAnthropic:
	default:
		return fmt.Errorf("generation.provider %q is not one of ollama, openai, anthropic", c.Generation.Provider)
	}
	if c.Generation.Model == "" {
		return fmt.Errorf("generation.model is required")
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature must be within [0, 2], got %g", c.Generation.Temperature)
	}
	if _, err := c.RequestTimeout(); err != nil {
		return err
	}
	if c.Limits.MaxFiles < 1 || c.Limits.MaxFileSize < 1 {
		return fmt.Errorf("limits must be positive")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	for i := range c.Schedules {
		if err := c.Schedules[i].Validate(); err != nil {
			return fmt.Errorf("schedule %d: %w", i, err)
		}
	}
	return nil
}

// RequestTimeout parses generation.request_timeout; empty or "0" disables it
func (c *Config) RequestTimeout() (time.Duration, error) {
	s := c.Generation.RequestTimeout
	if s == "" || s == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("generation.request_timeout: %w", err)
	}
	return d, nil
}

// GenerateSettings maps the generation section to client settings
func (c *Config) GenerateSettings() generate.Settings {
	timeout, _ := c.RequestTimeout()
	return generate.Settings{
		Provider:   c.Generation.Provider,
		Host:       c.Generation.Host,
		Model:      c.Generation.Model,
		APIKey:     c.Generation.APIKey,
		FormatPath: c.Generation.FormatPath,
		Timeout:    timeout,
	}
}

// GenerateOptions returns the sampling options
func (c *Config) GenerateOptions() generate.Options {
	return generate.Options{Seed: c.Generation.Seed, Temperature: c.Generation.Temperature}
}

// ValidationLimits returns the submission limits
func (c *Config) ValidationLimits() validation.Limits {
	return validation.Limits{MaxFiles: c.Limits.MaxFiles, MaxFileSize: c.Limits.MaxFileSize}
}

// Addr returns the listen address of the web server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// ParseLevel maps a level name to a slog level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "porkchop", "config.toml")
}
