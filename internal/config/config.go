// Package config loads daemon configuration from YAML with QMAIL_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the merged configuration of qmail-proxy and qmailctl.
type Config struct {
	Proxy     ProxyConfig
	Oracle    OracleConfig
	Database  DatabaseConfig
	Retention RetentionConfig
	Log       LogConfig
}

// ProxyConfig configures the same-origin oracle proxy.
type ProxyConfig struct {
	Listen          string
	PathPrefix      string
	UpstreamURL     string
	UpstreamTimeout time.Duration
	MaxBodyBytes    int64
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit float64
	Burst     int
	// DevOracle serves a local ML-KEM oracle as the upstream when no
	// UpstreamURL is set.
	DevOracle bool
}

// OracleConfig is how qmailctl reaches the oracle.
type OracleConfig struct {
	URL         string
	Retries     int
	RetryDelay  time.Duration
	IdleTimeout time.Duration
}

// DatabaseConfig locates the Postgres store.
type DatabaseConfig struct {
	DSN     string
	Migrate bool
}

// RetentionConfig controls purging of revoked identity secrets.
type RetentionConfig struct {
	// RevokedKeys is how long a revoked identity keeps its sealed secret.
	// Zero keeps it forever.
	RevokedKeys time.Duration
	Interval    time.Duration
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string
	Format string
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Proxy: ProxyConfig{
			Listen:          ":8080",
			PathPrefix:      "/api/ring-lwe",
			UpstreamTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit:       10,
			Burst:           20,
		},
		Oracle: OracleConfig{
			URL:        "http://localhost:8080/api/ring-lwe",
			Retries:     3,
			RetryDelay:  time.Second,
			IdleTimeout: 15 * time.Minute,
		},
		Database: DatabaseConfig{
			Migrate: true,
		},
		Retention: RetentionConfig{
			Interval: time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

type fileConfig struct {
	Proxy struct {
		Listen          string        `yaml:"listen"`
		PathPrefix      string        `yaml:"pathPrefix"`
		UpstreamURL     string        `yaml:"upstreamURL"`
		UpstreamTimeout time.Duration `yaml:"upstreamTimeout"`
		MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
		RateLimit       *float64      `yaml:"rateLimit"`
		Burst           int           `yaml:"burst"`
		DevOracle       *bool         `yaml:"devOracle"`
	} `yaml:"proxy"`
	Oracle struct {
		URL         string        `yaml:"url"`
		Retries     *int          `yaml:"retries"`
		RetryDelay  time.Duration `yaml:"retryDelay"`
		IdleTimeout time.Duration `yaml:"idleTimeout"`
	} `yaml:"oracle"`
	Database struct {
		DSN     string `yaml:"dsn"`
		Migrate *bool  `yaml:"migrate"`
	} `yaml:"database"`
	Retention struct {
		RevokedKeys time.Duration `yaml:"revokedKeys"`
		Interval    time.Duration `yaml:"interval"`
	} `yaml:"retention"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultPaths are tried in order when Load is given no path.
var DefaultPaths = []string{"configs/qmail.yaml", "qmail.yaml"}

// Load reads configPath, or the first of DefaultPaths that exists, merges
// it over Default and applies environment overrides. A missing default
// file is not an error; a missing explicit path is.
func Load(configPath string) (Config, error) {
	cfg := Default()

	candidates := DefaultPaths
	if configPath != "" {
		candidates = []string{configPath}
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) && configPath == "" {
			continue
		}
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		merge(&cfg, parsed)
		break
	}

	if err := ApplyEnvOverrides(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func merge(dst *Config, src fileConfig) {
	if src.Proxy.Listen != "" {
		dst.Proxy.Listen = src.Proxy.Listen
	}
	if src.Proxy.PathPrefix != "" {
		dst.Proxy.PathPrefix = src.Proxy.PathPrefix
	}
	if src.Proxy.UpstreamURL != "" {
		dst.Proxy.UpstreamURL = src.Proxy.UpstreamURL
	}
	if src.Proxy.UpstreamTimeout != 0 {
		dst.Proxy.UpstreamTimeout = src.Proxy.UpstreamTimeout
	}
	if src.Proxy.MaxBodyBytes != 0 {
		dst.Proxy.MaxBodyBytes = src.Proxy.MaxBodyBytes
	}
	if src.Proxy.RateLimit != nil {
		dst.Proxy.RateLimit = *src.Proxy.RateLimit
	}
	if src.Proxy.Burst != 0 {
		dst.Proxy.Burst = src.Proxy.Burst
	}
	if src.Proxy.DevOracle != nil {
		dst.Proxy.DevOracle = *src.Proxy.DevOracle
	}
	if src.Oracle.URL != "" {
		dst.Oracle.URL = src.Oracle.URL
	}
	if src.Oracle.Retries != nil {
		dst.Oracle.Retries = *src.Oracle.Retries
	}
	if src.Oracle.RetryDelay != 0 {
		dst.Oracle.RetryDelay = src.Oracle.RetryDelay
	}
	if src.Oracle.IdleTimeout != 0 {
		dst.Oracle.IdleTimeout = src.Oracle.IdleTimeout
	}
	if src.Database.DSN != "" {
		dst.Database.DSN = src.Database.DSN
	}
	if src.Database.Migrate != nil {
		dst.Database.Migrate = *src.Database.Migrate
	}
	if src.Retention.RevokedKeys != 0 {
		dst.Retention.RevokedKeys = src.Retention.RevokedKeys
	}
	if src.Retention.Interval != 0 {
		dst.Retention.Interval = src.Retention.Interval
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Format != "" {
		dst.Log.Format = src.Log.Format
	}
}

// ApplyEnvOverrides applies QMAIL_* variables to cfg.
func ApplyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	str("QMAIL_LISTEN", &cfg.Proxy.Listen)
	str("QMAIL_PATH_PREFIX", &cfg.Proxy.PathPrefix)
	str("QMAIL_UPSTREAM_URL", &cfg.Proxy.UpstreamURL)
	str("QMAIL_ORACLE_URL", &cfg.Oracle.URL)
	str("QMAIL_DATABASE_DSN", &cfg.Database.DSN)
	str("QMAIL_LOG_LEVEL", &cfg.Log.Level)
	str("QMAIL_LOG_FORMAT", &cfg.Log.Format)

	if raw := strings.TrimSpace(os.Getenv("QMAIL_DEV_ORACLE")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("QMAIL_DEV_ORACLE: %w", err)
		}
		cfg.Proxy.DevOracle = v
	}
	if raw := strings.TrimSpace(os.Getenv("QMAIL_RATE_LIMIT")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("QMAIL_RATE_LIMIT: %w", err)
		}
		cfg.Proxy.RateLimit = v
	}
	if raw := strings.TrimSpace(os.Getenv("QMAIL_REVOKED_KEY_RETENTION")); raw != "" {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("QMAIL_REVOKED_KEY_RETENTION: %w", err)
		}
		cfg.Retention.RevokedKeys = v
	}
	return nil
}

// Validate reports settings no daemon can run with.
func (c Config) Validate() error {
	var problems []string
	if !strings.HasPrefix(c.Proxy.PathPrefix, "/") {
		problems = append(problems, "proxy.pathPrefix must start with /")
	}
	if c.Proxy.MaxBodyBytes <= 0 {
		problems = append(problems, "proxy.maxBodyBytes must be positive")
	}
	if c.Proxy.RateLimit < 0 {
		problems = append(problems, "proxy.rateLimit must not be negative")
	}
	if c.Proxy.RateLimit > 0 && c.Proxy.Burst <= 0 {
		problems = append(problems, "proxy.burst must be positive when rate limiting")
	}
	if c.Retention.RevokedKeys < 0 {
		problems = append(problems, "retention.revokedKeys must not be negative")
	}
	if c.Retention.RevokedKeys > 0 && c.Retention.Interval <= 0 {
		problems = append(problems, "retention.interval must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
