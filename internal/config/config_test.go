package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qmail.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
proxy:
  listen: ":9090"
  upstreamURL: "https://oracle.internal/ring-lwe"
  upstreamTimeout: 5s
  rateLimit: 0
oracle:
  retries: 0
database:
  dsn: "postgres://qmail@localhost/qmail?sslmode=disable"
  migrate: false
retention:
  revokedKeys: 720h
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Proxy.Listen != ":9090" {
		t.Errorf("Listen = %s", cfg.Proxy.Listen)
	}
	if cfg.Proxy.UpstreamTimeout != 5*time.Second {
		t.Errorf("UpstreamTimeout = %s", cfg.Proxy.UpstreamTimeout)
	}
	if cfg.Proxy.RateLimit != 0 {
		t.Errorf("RateLimit = %v, want explicit 0", cfg.Proxy.RateLimit)
	}
	if cfg.Oracle.Retries != 0 {
		t.Errorf("Retries = %d, want explicit 0", cfg.Oracle.Retries)
	}
	if cfg.Database.Migrate {
		t.Error("Migrate should be false")
	}
	if cfg.Retention.RevokedKeys != 720*time.Hour {
		t.Errorf("RevokedKeys = %s", cfg.Retention.RevokedKeys)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log = %+v", cfg.Log)
	}
	// Untouched defaults survive.
	if cfg.Proxy.PathPrefix != "/api/ring-lwe" || cfg.Proxy.MaxBodyBytes != 1<<20 {
		t.Errorf("defaults lost: %+v", cfg.Proxy)
	}
}

func TestLoadMissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit path")
	}
}

func TestLoadNoFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Proxy.Listen != Default().Proxy.Listen {
		t.Errorf("Listen = %s", cfg.Proxy.Listen)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "proxy: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("QMAIL_LISTEN", ":7000")
	t.Setenv("QMAIL_UPSTREAM_URL", "http://upstream")
	t.Setenv("QMAIL_DATABASE_DSN", "postgres://env")
	t.Setenv("QMAIL_DEV_ORACLE", "true")
	t.Setenv("QMAIL_RATE_LIMIT", "2.5")
	t.Setenv("QMAIL_REVOKED_KEY_RETENTION", "48h")

	path := writeConfig(t, "proxy:\n  listen: \":9090\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Proxy.Listen != ":7000" {
		t.Errorf("env should beat file, Listen = %s", cfg.Proxy.Listen)
	}
	if cfg.Proxy.UpstreamURL != "http://upstream" || cfg.Database.DSN != "postgres://env" {
		t.Errorf("string overrides not applied: %+v", cfg)
	}
	if !cfg.Proxy.DevOracle || cfg.Proxy.RateLimit != 2.5 {
		t.Errorf("DevOracle=%v RateLimit=%v", cfg.Proxy.DevOracle, cfg.Proxy.RateLimit)
	}
	if cfg.Retention.RevokedKeys != 48*time.Hour {
		t.Errorf("RevokedKeys = %s", cfg.Retention.RevokedKeys)
	}
}

func TestEnvOverridesInvalid(t *testing.T) {
	for _, name := range []string{"QMAIL_DEV_ORACLE", "QMAIL_RATE_LIMIT", "QMAIL_REVOKED_KEY_RETENTION"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, "not-a-value")
			cfg := Default()
			err := ApplyEnvOverrides(&cfg)
			if err == nil || !strings.Contains(err.Error(), name) {
				t.Errorf("ApplyEnvOverrides() error = %v", err)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"defaults", func(*Config) {}, ""},
		{"prefix", func(c *Config) { c.Proxy.PathPrefix = "api" }, "pathPrefix"},
		{"body", func(c *Config) { c.Proxy.MaxBodyBytes = 0 }, "maxBodyBytes"},
		{"burst", func(c *Config) { c.Proxy.Burst = 0 }, "burst"},
		{"no limit no burst", func(c *Config) { c.Proxy.RateLimit, c.Proxy.Burst = 0, 0 }, ""},
		{"retention", func(c *Config) { c.Retention.RevokedKeys = -time.Hour }, "revokedKeys"},
		{"interval", func(c *Config) { c.Retention.RevokedKeys, c.Retention.Interval = time.Hour, 0 }, "interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
