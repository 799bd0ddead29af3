package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/faithtrack-bot-go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
bot:
  enabled: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, 0.7, cfg.Moderation.ReviewThreshold)
	assert.Equal(t, 5*time.Minute, cfg.RateLimit.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.Notifications.Tolerance)
	assert.Equal(t, "/metrics", cfg.Monitoring.Metrics.Path)

	limits := cfg.RateLimit.ActionLimits()
	assert.Equal(t, models.RateLimitConfig{MaxRequests: 5, Window: 5 * time.Minute}, limits[models.ActionLogin])
	assert.Len(t, limits, len(models.AllActions))
}

func TestLoadConfig_ActionOverrides(t *testing.T) {
	path := writeConfig(t, `
rate_limit:
  actions:
    prayer:
      max_requests: 3
      window: 10m
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	limits := cfg.RateLimit.ActionLimits()
	assert.Equal(t, models.RateLimitConfig{MaxRequests: 3, Window: 10 * time.Minute}, limits[models.ActionPrayer])
	assert.Equal(t, 10, limits[models.ActionPostCreation].MaxRequests)
}

func TestLoadConfig_AdminTokenFromEnv(t *testing.T) {
	t.Setenv("ADMIN_TOKEN", "from-env")
	path := writeConfig(t, `
bot:
  enabled: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.AdminToken)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Storage:       StorageConfig{Type: "memory"},
			RateLimit:     RateLimitConfig{Store: "none"},
			Moderation:    ModerationConfig{ReviewThreshold: 0.7, LogStore: "memory"},
			Notifications: NotificationsConfig{DefaultTimezone: "UTC"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "bot enabled without token", mutate: func(c *Config) { c.Bot.Enabled = true }, wantErr: true},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Type = "etcd" }, wantErr: true},
		{name: "supabase store without credentials", mutate: func(c *Config) { c.RateLimit.Store = "supabase" }, wantErr: true},
		{name: "redis store without address", mutate: func(c *Config) { c.RateLimit.Store = "redis" }, wantErr: true},
		{
			name: "unknown action",
			mutate: func(c *Config) {
				c.RateLimit.Actions = map[string]models.RateLimitConfig{"dancing": {MaxRequests: 1, Window: time.Second}}
			},
			wantErr: true,
		},
		{
			name: "zero budget",
			mutate: func(c *Config) {
				c.RateLimit.Actions = map[string]models.RateLimitConfig{"login": {MaxRequests: 0, Window: time.Second}}
			},
			wantErr: true,
		},
		{name: "threshold above one", mutate: func(c *Config) { c.Moderation.ReviewThreshold = 1.5 }, wantErr: true},
		{name: "bad failure policy", mutate: func(c *Config) { c.FailurePolicy = map[string]string{"moderation": "maybe"} }, wantErr: true},
		{name: "unknown failure policy operation", mutate: func(c *Config) { c.FailurePolicy = map[string]string{"ratelimit_check": "deny"} }, wantErr: true},
		{name: "known failure policy operation", mutate: func(c *Config) { c.FailurePolicy = map[string]string{"search": "deny"} }},
		{name: "bad timezone", mutate: func(c *Config) { c.Notifications.DefaultTimezone = "Mars/Olympus" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
