// ABOUTME: Configuration loading and parsing for the agentforce chat client
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chat client configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Stream  StreamConfig  `yaml:"stream"`
	Session SessionConfig `yaml:"session"`
	Voice   VoiceConfig   `yaml:"voice"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds backend instance configuration
type ServerConfig struct {
	InstanceURL string `yaml:"instance_url"`
}

// AuthConfig holds credential configuration. Kind selects the variant:
// "oauth" (token + org/user identity), "org_jwt" (signed org token), or
// "guest" (unauthenticated).
type AuthConfig struct {
	Kind   string `yaml:"kind"`
	Token  string `yaml:"token"`
	OrgID  string `yaml:"org_id"`
	UserID string `yaml:"user_id"`
}

// StreamConfig bounds the server-push reconnect loop
type StreamConfig struct {
	Path        string        `yaml:"path"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"-"`
	MaxDelay    time.Duration `yaml:"-"`
	IdleTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	BaseDelayRaw   string `yaml:"base_delay"`
	MaxDelayRaw    string `yaml:"max_delay"`
	IdleTimeoutRaw string `yaml:"idle_timeout"`
}

// SessionConfig holds session and dispatch configuration
type SessionConfig struct {
	Capabilities   []string      `yaml:"capabilities"`
	BufferSize     int           `yaml:"buffer_size"`
	CommandTimeout time.Duration `yaml:"-"`

	CommandTimeoutRaw string `yaml:"command_timeout"`
}

// VoiceConfig holds the optional media provider relay configuration
type VoiceConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.InstanceURL == "" {
		return fmt.Errorf("server.instance_url is required")
	}

	switch c.Auth.Kind {
	case "", "oauth", "org_jwt", "guest":
	default:
		return fmt.Errorf("auth.kind %q is not one of oauth, org_jwt, guest", c.Auth.Kind)
	}
	if c.Auth.Kind != "guest" && c.Auth.Token == "" {
		return fmt.Errorf("auth.token is required (or set auth.kind to guest)")
	}

	if c.Voice.Enabled && c.Voice.URL == "" {
		return fmt.Errorf("voice.url is required when voice is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Stream.BaseDelayRaw != "" {
		cfg.Stream.BaseDelay, err = time.ParseDuration(cfg.Stream.BaseDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing base_delay %q: %w", cfg.Stream.BaseDelayRaw, err)
		}
	}

	if cfg.Stream.MaxDelayRaw != "" {
		cfg.Stream.MaxDelay, err = time.ParseDuration(cfg.Stream.MaxDelayRaw)
		if err != nil {
			return fmt.Errorf("parsing max_delay %q: %w", cfg.Stream.MaxDelayRaw, err)
		}
	}

	if cfg.Stream.IdleTimeoutRaw != "" {
		cfg.Stream.IdleTimeout, err = time.ParseDuration(cfg.Stream.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Stream.IdleTimeoutRaw, err)
		}
	}

	if cfg.Session.CommandTimeoutRaw != "" {
		cfg.Session.CommandTimeout, err = time.ParseDuration(cfg.Session.CommandTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing command_timeout %q: %w", cfg.Session.CommandTimeoutRaw, err)
		}
	}

	return nil
}
