// Package config provides configuration management for Nolan.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for Nolan.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Data      DataConfig      `mapstructure:"data"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Events    EventsConfig    `mapstructure:"events"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// APIConfig holds HTTP server configuration.
type APIConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DataConfig holds filesystem root configuration.
type DataConfig struct {
	Root     string `mapstructure:"root"`     // data root, default ~/.nolan
	AppRoot  string `mapstructure:"appRoot"`  // optional override for the application root
	WorkRoot string `mapstructure:"workRoot"` // default working directory for agent runs
}

// ProviderConfig selects the coding-assistant CLI used for agent runs.
type ProviderConfig struct {
	Name            string `mapstructure:"name"`            // claude, opencode
	FallbackEnabled bool   `mapstructure:"fallbackEnabled"` // fall back to claude when unavailable
}

// SchedulerConfig holds scheduler tuning knobs.
type SchedulerConfig struct {
	DefaultTimeout   int `mapstructure:"defaultTimeout"`   // per-run wall clock, seconds
	HistoryLimit     int `mapstructure:"historyLimit"`     // default list_runs page size
	HealthWindow     int `mapstructure:"healthWindow"`     // last-N runs considered for health
	RecoveryPollSecs int `mapstructure:"recoveryPollSecs"` // monitor poll for recovered runs
}

// EventsConfig holds event-bus and file-watcher configuration.
type EventsConfig struct {
	WatchDirs []string `mapstructure:"watchDirs"` // directories published as file-changed events
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-process event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// OllamaConfig holds the optional local-LLM endpoint. The client itself
// lives outside this process; the values are only passed through to agents.
type OllamaConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (a *APIConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(a.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (a *APIConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(a.WriteTimeout) * time.Second
}

// Addr returns the host:port bind address.
func (a *APIConfig) Addr() string {
	return net.JoinHostPort(a.Host, fmt.Sprintf("%d", a.Port))
}

// Loopback reports whether the bind host is a loopback address.
func (a *APIConfig) Loopback() bool {
	switch a.Host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	if ip := net.ParseIP(a.Host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("NOLAN_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// API defaults
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 3030)
	v.SetDefault("api.readTimeout", 30)
	v.SetDefault("api.writeTimeout", 30)

	// Data defaults - empty root resolves to ~/.nolan at startup
	v.SetDefault("data.root", "")
	v.SetDefault("data.appRoot", "")
	v.SetDefault("data.workRoot", "")

	// Provider defaults
	v.SetDefault("provider.name", "claude")
	v.SetDefault("provider.fallbackEnabled", true)

	// Scheduler defaults
	v.SetDefault("scheduler.defaultTimeout", 900)
	v.SetDefault("scheduler.historyLimit", 50)
	v.SetDefault("scheduler.healthWindow", 20)
	v.SetDefault("scheduler.recoveryPollSecs", 5)

	// Events defaults
	v.SetDefault("events.watchDirs", []string{})

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "nolan")
	v.SetDefault("nats.maxReconnects", 10)

	// Ollama defaults
	v.SetDefault("ollama.url", "")
	v.SetDefault("ollama.model", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix NOLAN_ with snake_case naming.
// Config file should be named config.yaml and placed in the data root or /etc/nolan/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("NOLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the documented environment variables whose
	// names do not follow the section.key convention.
	_ = v.BindEnv("api.host", "NOLAN_API_HOST")
	_ = v.BindEnv("api.port", "NOLAN_API_PORT")
	_ = v.BindEnv("data.root", "NOLAN_DATA_ROOT")
	_ = v.BindEnv("data.appRoot", "NOLAN_APP_ROOT")
	_ = v.BindEnv("data.workRoot", "AGENT_WORK_ROOT")
	_ = v.BindEnv("ollama.url", "OLLAMA_URL")
	_ = v.BindEnv("ollama.model", "OLLAMA_MODEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/nolan/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	switch cfg.Provider.Name {
	case "claude", "opencode":
	default:
		errs = append(errs, "provider.name must be one of: claude, opencode")
	}

	if cfg.Scheduler.DefaultTimeout <= 0 {
		errs = append(errs, "scheduler.defaultTimeout must be positive")
	}
	if cfg.Scheduler.HistoryLimit <= 0 {
		errs = append(errs, "scheduler.historyLimit must be positive")
	}
	if cfg.Scheduler.HealthWindow <= 0 {
		errs = append(errs, "scheduler.healthWindow must be positive")
	}
	if cfg.Scheduler.RecoveryPollSecs <= 0 {
		errs = append(errs, "scheduler.recoveryPollSecs must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
