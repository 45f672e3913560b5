package config

import (
	"os"
	"testing"
	"time"
)

func withRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FLEETHUB_ADMIN_API_KEY", "test-admin-key")
	t.Setenv("FLEETHUB_VAULT_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd")
}

func TestLoadDefaults(t *testing.T) {
	withRequiredEnv(t)

	tests := []struct {
		name   string
		check  func(*Config) bool
		expect string
	}{
		{"default mode is api", func(c *Config) bool { return c.Mode == "api" }, "api"},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }, "0.0.0.0"},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }, "8080"},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }, "info"},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }, "json"},
		{"default stale-after is 180s", func(c *Config) bool { return c.StaleAfter == 180*time.Second }, "180s"},
		{"default SSH command timeout is 30s", func(c *Config) bool { return c.SSHCommandTimeout == 30*time.Second }, "30s"},
		{"default rate limit is 10/min", func(c *Config) bool { return c.CommandRateLimitPerMin == 10 }, "10"},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }, "0.0.0.0:8080"},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("expected %s", tt.expect)
			}
		})
	}
}

func TestLoadRequiresAdminKey(t *testing.T) {
	os.Unsetenv("FLEETHUB_ADMIN_API_KEY")
	t.Setenv("FLEETHUB_VAULT_KEY", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when FLEETHUB_ADMIN_API_KEY is unset")
	}
}
