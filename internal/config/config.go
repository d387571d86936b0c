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

// EnvPrefix namespaces environment overrides, e.g. GITDECK_GIT_BIN.
const EnvPrefix = "GITDECK"

type Config struct {
	GitBin           string        `mapstructure:"git_bin"`
	RegistryFile     string        `mapstructure:"registry_file"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	StatusMaxAge     time.Duration `mapstructure:"status_max_age"`
	HandlerTimeout   time.Duration `mapstructure:"handler_timeout"`
	WatchDebounce    time.Duration `mapstructure:"watch_debounce"`
	LogLevel         string        `mapstructure:"log_level"`
	LogFormat        string        `mapstructure:"log_format"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		GitBin:           "git",
		RegistryFile:     filepath.Join(configDir(), "repos.json"),
		OperationTimeout: 2 * time.Minute,
		StatusMaxAge:     30 * time.Second,
		HandlerTimeout:   5 * time.Second,
		WatchDebounce:    300 * time.Millisecond,
		LogLevel:         "info",
		LogFormat:        "console",
	}
}

// configDir is $HOME/.config/gitdeck, or a relative .gitdeck when no home is known.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".gitdeck"
	}
	return filepath.Join(home, ".config", "gitdeck")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GitBin) == "" {
		return fmt.Errorf("git_bin cannot be empty")
	}
	if strings.TrimSpace(c.RegistryFile) == "" {
		return fmt.Errorf("registry_file cannot be empty")
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation_timeout must be positive, got %s", c.OperationTimeout)
	}
	if c.StatusMaxAge < 0 {
		return fmt.Errorf("status_max_age cannot be negative, got %s", c.StatusMaxAge)
	}
	if c.HandlerTimeout <= 0 {
		return fmt.Errorf("handler_timeout must be positive, got %s", c.HandlerTimeout)
	}
	if c.WatchDebounce < 0 {
		return fmt.Errorf("watch_debounce cannot be negative, got %s", c.WatchDebounce)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level: %s", c.LogLevel)
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %s (expected console or json)", c.LogFormat)
	}
	return nil
}

// LoadConfig reads .gitdeck.yaml from the working directory or the user config
// directory, unless configFile names a file explicitly. Environment variables
// prefixed with GITDECK_ override file values.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(".gitdeck")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(configDir())
	}
	// Configure environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("git_bin", EnvPrefix+"_GIT_BIN", "GIT_BIN"); err != nil {
		return nil, fmt.Errorf("failed to bind git_bin env: %w", err)
	}
	// Set defaults
	defaults := DefaultConfig()
	v.SetDefault("git_bin", defaults.GitBin)
	v.SetDefault("registry_file", defaults.RegistryFile)
	v.SetDefault("operation_timeout", defaults.OperationTimeout)
	v.SetDefault("status_max_age", defaults.StatusMaxAge)
	v.SetDefault("handler_timeout", defaults.HandlerTimeout)
	v.SetDefault("watch_debounce", defaults.WatchDebounce)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("log_format", defaults.LogFormat)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	config.RegistryFile = expandHome(config.RegistryFile)
	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &config, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
