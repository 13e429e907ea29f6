// Package config loads and validates the agent configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIConfig points the agent at the remote ingestion platform.
type APIConfig struct {
	BaseURL       string   `mapstructure:"base_url"`
	ConfigIDs     []string `mapstructure:"config_ids"`
	TransportMode string   `mapstructure:"transport_mode"`
	Key           string   `mapstructure:"key"`
}

// AgentConfig tunes the pipeline itself.
type AgentConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	DebounceWindow  time.Duration `mapstructure:"debounce_window"`
	Workers         int           `mapstructure:"workers"`
	QueueSize       int           `mapstructure:"queue_size"`
	Extensions      []string      `mapstructure:"extensions"`
	AuditDir        string        `mapstructure:"audit_dir"`
	ShutdownGrace   time.Duration `mapstructure:"shutdown_grace"`
	Hostname        string        `mapstructure:"hostname"`
}

// EmailConfig configures the SMTP notifier. Optional: a nil section
// disables email delivery entirely.
type EmailConfig struct {
	SMTPServer  string   `mapstructure:"smtp_server"`
	Port        int      `mapstructure:"port"`
	Username    string   `mapstructure:"username"`
	Password    string   `mapstructure:"password"`
	SenderEmail string   `mapstructure:"sender_email"`
	SenderName  string   `mapstructure:"sender_name"`
	Recipients  []string `mapstructure:"recipients"`
	EnableSSL   bool     `mapstructure:"enable_ssl"`
}

// LogConfig controls the log sink.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Config is the root agent configuration.
type Config struct {
	API   APIConfig    `mapstructure:"api"`
	Agent AgentConfig  `mapstructure:"agent"`
	Email *EmailConfig `mapstructure:"email"`
	Log   LogConfig    `mapstructure:"log"`
}

// Load materializes the configuration from an already-initialized viper
// instance, applies defaults and validates eagerly. Missing required
// fields are startup errors, not runtime faults.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.API.TransportMode == "" {
		cfg.API.TransportMode = "GPRS"
	}
	cfg.API.BaseURL = strings.TrimRight(cfg.API.BaseURL, "/")

	if cfg.Agent.RefreshInterval == 0 {
		cfg.Agent.RefreshInterval = 5 * time.Minute
	}
	if cfg.Agent.DebounceWindow == 0 {
		cfg.Agent.DebounceWindow = 2 * time.Second
	}
	if cfg.Agent.Workers <= 0 {
		cfg.Agent.Workers = 5
	}
	if cfg.Agent.QueueSize <= 0 {
		cfg.Agent.QueueSize = 256
	}
	if len(cfg.Agent.Extensions) == 0 {
		cfg.Agent.Extensions = []string{".csv", ".txt", ".dat"}
	}
	if cfg.Agent.ShutdownGrace == 0 {
		cfg.Agent.ShutdownGrace = 10 * time.Second
	}
	if cfg.Agent.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			cfg.Agent.Hostname = h
		} else {
			cfg.Agent.Hostname = "unknown"
		}
	}

	if cfg.Email != nil {
		if cfg.Email.Port == 0 {
			cfg.Email.Port = 587
		}
		if cfg.Email.SenderName == "" {
			cfg.Email.SenderName = "Ferry Agent"
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// Validate checks the loaded configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if len(cfg.API.ConfigIDs) == 0 {
		return fmt.Errorf("api.config_ids must list at least one identifier")
	}
	for _, ext := range cfg.Agent.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("agent.extensions entry %q must start with a dot", ext)
		}
	}
	if cfg.Email != nil {
		if cfg.Email.SMTPServer == "" {
			return fmt.Errorf("email.smtp_server is required when email is configured")
		}
		if cfg.Email.SenderEmail == "" {
			return fmt.Errorf("email.sender_email is required when email is configured")
		}
		if cfg.Email.Username == "" || cfg.Email.Password == "" {
			return fmt.Errorf("email.username and email.password are required when email is configured")
		}
		if len(cfg.Email.Recipients) == 0 {
			return fmt.Errorf("email.recipients must list at least one address")
		}
	}
	return nil
}
