// Package config provides configuration parsing and validation for tssh.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level tssh configuration: client-wide defaults
// plus a list of named host shortcuts.
type Config struct {
	DefaultUser      string        `yaml:"default_user"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	TerminalType     string        `yaml:"terminal_type"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	Hosts            []HostConfig  `yaml:"hosts"`
}

// HostConfig is one named connection shortcut (the `tssh <alias>`
// form). cmd/tssh applies its Hostname, Port and User; its
// ConnectTimeout, HandshakeTimeout and TerminalType are parsed but not
// applied to the connection.
type HostConfig struct {
	Alias            string        `yaml:"alias"`
	Hostname         string        `yaml:"hostname"`
	Port             int           `yaml:"port"`
	User             string        `yaml:"user"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	TerminalType     string        `yaml:"terminal_type"`
}

// Default returns the built-in configuration applied before a config
// file is parsed over it.
func Default() *Config {
	return &Config{
		ConnectTimeout:   15 * time.Second,
		HandshakeTimeout: 15 * time.Second,
		TerminalType:     "xterm-256color",
		LogLevel:         "info",
		LogFormat:        "text",
		Hosts:            []HostConfig{},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults first
// and environment-variable expansion before unmarshalling.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their
// values, supporting ${VAR:-default} fallbacks.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			varName := name[:idx]
			defaultVal := name[idx+2:]
			if val, ok := os.LookupEnv(varName); ok {
				return val
			}
			return defaultVal
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.LogLevel) {
		errs = append(errs, fmt.Sprintf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel))
	}
	if !isValidLogFormat(c.LogFormat) {
		errs = append(errs, fmt.Sprintf("invalid log_format: %s (must be text or json)", c.LogFormat))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, "connect_timeout must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		errs = append(errs, "handshake_timeout must be positive")
	}

	seen := make(map[string]bool, len(c.Hosts))
	for i, h := range c.Hosts {
		if err := validateHost(h); err != nil {
			errs = append(errs, fmt.Sprintf("hosts[%d]: %v", i, err))
			continue
		}
		if seen[h.Alias] {
			errs = append(errs, fmt.Sprintf("hosts[%d]: duplicate alias %q", i, h.Alias))
		}
		seen[h.Alias] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateHost(h HostConfig) error {
	if h.Alias == "" {
		return fmt.Errorf("alias is required")
	}
	if h.Hostname == "" {
		return fmt.Errorf("hostname is required")
	}
	if h.Port < 0 || h.Port > 65535 {
		return fmt.Errorf("port %d out of range", h.Port)
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	default:
		return false
	}
}

// Lookup finds a host by alias, returning the host and true if found.
func (c *Config) Lookup(alias string) (HostConfig, bool) {
	for _, h := range c.Hosts {
		if h.Alias == alias {
			return h, true
		}
	}
	return HostConfig{}, false
}

// Addr formats the host's dial target, applying port 22 as the
// default when unset.
func (h HostConfig) Addr() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(h.Hostname, strconv.Itoa(port))
}
