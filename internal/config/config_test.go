package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "creatorhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/creatorhub.db", cfg.Database.Path)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "http://localhost:8080/auth/google/callback", cfg.Auth.GoogleCallbackURL)
	assert.False(t, cfg.GoogleEnabled())
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeYAML(t, `
server:
  port: 9090
backend:
  url: https://scraper.internal
  timeout: 3s
  poll_interval: 500ms
outreach:
  max_per_day: 10
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://scraper.internal", cfg.Backend.URL)
	assert.Equal(t, 3*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Backend.PollInterval)
	assert.Equal(t, 10, cfg.Outreach.MaxPerDay)
	assert.Equal(t, "json", cfg.Logging.Format)
	// untouched values keep their defaults
	assert.Equal(t, 30, cfg.Outreach.SendsPerMinute)
}

func TestLoad_EnvBeatsYAML(t *testing.T) {
	path := writeYAML(t, "server:\n  port: 9090\nbackend:\n  url: https://from-yaml\n")
	t.Setenv("PORT", "7070")
	t.Setenv("BACKEND_URL", "https://from-env")
	t.Setenv("JWT_SECRET", "env-secret-at-least-16")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "https://from-env", cfg.Backend.URL)
	assert.Equal(t, "env-secret-at-least-16", cfg.Auth.JWTSecret)
}

func TestLoad_LegacyBackendVariable(t *testing.T) {
	t.Setenv("NEXT_PUBLIC_BACKEND_URL", "https://legacy")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "https://legacy", cfg.Backend.URL)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "bad PORT", env: map[string]string{"PORT": "eighty"}},
		{name: "port out of range", yaml: "server:\n  port: 70000\n"},
		{name: "empty backend url", yaml: "backend:\n  url: \"\"\n"},
		{name: "zero outreach interval", yaml: "outreach:\n  enabled: true\n  interval: 0s\n"},
		{name: "malformed yaml", yaml: "server: [port"},
		{name: "bad OUTREACH_ENABLED", env: map[string]string{"OUTREACH_ENABLED": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.yaml != "" {
				path = writeYAML(t, tt.yaml)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_DisabledOutreachSkipsItsValidation(t *testing.T) {
	path := writeYAML(t, "outreach:\n  enabled: false\n  interval: 0s\n  max_per_day: 0\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Outreach.Enabled)
}
