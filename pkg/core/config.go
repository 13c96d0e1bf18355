package core

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the gateway configuration.
type Config struct {
	// Server holds HTTP server configuration.
	Server ServerConfig `yaml:"server"`
	// Storage holds database configuration shared by all stores.
	Storage StorageConfig `yaml:"storage"`
	// Secrets configures encryption-at-rest for credential material.
	Secrets SecretsConfig `yaml:"secrets"`
	// OAuth2 holds flow-manager defaults.
	OAuth2 OAuth2Config `yaml:"oauth2"`
	// Auth configures authentication for the gateway's own API surface.
	Auth InboundAuthConfig `yaml:"auth"`
	// Audit configures the audit pipeline and retention.
	Audit AuditConfig `yaml:"audit"`
	// Cache configures materialized auth caching.
	Cache CacheConfig `yaml:"cache"`
	// Endpoint is the public base URL used to build OAuth2 redirect URIs.
	Endpoint string `yaml:"endpoint"`
}

// ServerConfig holds server-specific configuration.
type ServerConfig struct {
	Port           int   `yaml:"port"`
	ReadTimeoutMS  int64 `yaml:"read_timeout_ms"`
	WriteTimeoutMS int64 `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int64 `yaml:"idle_timeout_ms"`
	ReadHeaderMS   int64 `yaml:"read_header_timeout_ms"`
	MaxBodyBytes   int64 `yaml:"max_body_bytes"`
}

// StorageConfig holds configuration for the backing database.
type StorageConfig struct {
	Driver            string `yaml:"driver"`
	DSN               string `yaml:"dsn"`
	Dialect           string `yaml:"dialect"`
	AutoMigrate       bool   `yaml:"auto_migrate"`
	MaxOpenConns      int    `yaml:"max_open_conns"`
	MaxIdleConns      int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMS int64  `yaml:"conn_max_lifetime_ms"`
	ConnMaxIdleTimeMS int64  `yaml:"conn_max_idle_time_ms"`
}

// SecretsConfig holds the master key material for encryption at rest.
type SecretsConfig struct {
	MasterKey string `yaml:"master_key"`
	KeySalt   string `yaml:"key_salt"`
}

// OAuth2Config holds flow-manager defaults.
type OAuth2Config struct {
	StateTTLMinutes int    `yaml:"state_ttl_minutes"`
	DefaultScope    string `yaml:"default_scope"`
	SweepIntervalMS int64  `yaml:"sweep_interval_ms"`
}

// InboundAuthConfig configures OIDC verification of callers of the
// gateway API. Empty issuer disables verification.
type InboundAuthConfig struct {
	Issuer         string   `yaml:"issuer"`
	Audience       string   `yaml:"audience"`
	JWKSURL        string   `yaml:"jwks_url"`
	RequiredScopes []string `yaml:"required_scopes"`
}

// AuditConfig configures the audit pipeline.
type AuditConfig struct {
	RetentionDays   int   `yaml:"retention_days"`
	SweepIntervalMS int64 `yaml:"sweep_interval_ms"`
	BufferSize      int64 `yaml:"buffer_size"`
}

// CacheConfig configures the materialized auth cache.
type CacheConfig struct {
	GracePeriodMS int64 `yaml:"grace_period_ms"`
	DefaultTTLMS  int64 `yaml:"default_ttl_ms"`
}

// LoadConfig reads a YAML config file, expanding ${ENV_VAR} references.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	expanded := os.Expand(string(raw), func(name string) string {
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return "${" + name + "}"
	})
	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	config.applyDefaults()
	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 10 << 20
	}
	if c.OAuth2.StateTTLMinutes == 0 {
		c.OAuth2.StateTTLMinutes = 10
	}
	if c.OAuth2.SweepIntervalMS == 0 {
		c.OAuth2.SweepIntervalMS = 60_000
	}
	if c.Audit.RetentionDays == 0 {
		c.Audit.RetentionDays = 30
	}
	if c.Audit.SweepIntervalMS == 0 {
		c.Audit.SweepIntervalMS = 3_600_000
	}
	if c.Audit.BufferSize == 0 {
		c.Audit.BufferSize = 1024
	}
	if c.Cache.GracePeriodMS == 0 {
		c.Cache.GracePeriodMS = 30_000
	}
	if c.Cache.DefaultTTLMS == 0 {
		c.Cache.DefaultTTLMS = 300_000
	}
	c.Endpoint = strings.TrimRight(strings.TrimSpace(c.Endpoint), "/")
}
