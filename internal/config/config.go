package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultReservedCEOEmail is the account address provisioned with the
// ceo role when no config file overrides it.
const DefaultReservedCEOEmail = "ceo@company.com"

// Config models sectorboard.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret        string `yaml:"jwt_secret"`
		ReservedCEOEmail string `yaml:"reserved_ceo_email"`
		SessionTTL       string `yaml:"session_ttl"`
	} `yaml:"auth"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run sb init or create it by hand", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Auth.ReservedCEOEmail == "" {
		return fmt.Errorf("config.auth.reserved_ceo_email is required")
	}
	if !strings.Contains(c.Auth.ReservedCEOEmail, "@") {
		return fmt.Errorf("config.auth.reserved_ceo_email must be an email address")
	}
	if c.Auth.SessionTTL != "" {
		if _, err := time.ParseDuration(c.Auth.SessionTTL); err != nil {
			return fmt.Errorf("config.auth.session_ttl: %w", err)
		}
	}
	return nil
}

// SessionTTL returns the configured session lifetime, defaulting to 24h.
func (c *Config) SessionTTL() time.Duration {
	if c.Auth.SessionTTL == "" {
		return 24 * time.Hour
	}
	d, err := time.ParseDuration(c.Auth.SessionTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "sectorboard.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Server.BasePath = "/v0"
	cfg.Auth.ReservedCEOEmail = DefaultReservedCEOEmail
	cfg.Auth.SessionTTL = "24h"
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

auth:
  # jwt_secret may also come from SECTORBOARD_JWT_SECRET.
  jwt_secret: ""
  reserved_ceo_email: ceo@company.com
  session_ttl: 24h
`
