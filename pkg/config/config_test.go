package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/hostpulse/pkg/logger"
	"github.com/carverauto/hostpulse/pkg/models"
)

func writeConfigFile(t *testing.T, cfg interface{}) string {
	t.Helper()

	data, err := json.Marshal(cfg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestLoadAndValidateFromFile(t *testing.T) {
	path := writeConfigFile(t, map[string]interface{}{
		"listen_addr": ":9090",
		"agents": map[string]interface{}{
			"web-1": map[string]interface{}{
				"host": "10.0.0.5",
				"port": 8001,
			},
		},
		"poll_interval": "2s",
		"database": map[string]interface{}{
			"host":     "localhost",
			"database": "metrics",
		},
		"nats": map[string]interface{}{
			"url": "nats://127.0.0.1:4222",
		},
	})

	var cfg models.ServerConfig

	loader := NewConfig(logger.NewTestLogger())
	require.NoError(t, loader.LoadAndValidate(context.Background(), path, &cfg))

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, models.Duration(2*time.Second), cfg.PollInterval)

	require.Contains(t, cfg.Agents, "web-1")
	assert.Equal(t, "10.0.0.5", cfg.Agents["web-1"].Host)
	assert.Equal(t, 8001, cfg.Agents["web-1"].Port)

	// Defaults filled in by validation.
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 16, cfg.QueueSize)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, "/graphql", cfg.Agents["web-1"].QueryPath)
}

func TestLoadAndValidateMissingFile(t *testing.T) {
	var cfg models.ServerConfig

	loader := NewConfig(logger.NewTestLogger())
	err := loader.LoadAndValidate(context.Background(), "/nonexistent/config.json", &cfg)
	require.Error(t, err)
}

func TestLoadAndValidateRejectsInvalidConfig(t *testing.T) {
	// No agents and no database configured.
	path := writeConfigFile(t, map[string]interface{}{
		"listen_addr": ":9090",
	})

	var cfg models.ServerConfig

	loader := NewConfig(logger.NewTestLogger())
	err := loader.LoadAndValidate(context.Background(), path, &cfg)
	require.Error(t, err)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("AGENT_HOST", "10.1.2.3")
	t.Setenv("AGENT_PORT", "8000")
	t.Setenv("AGENT_POLL_INTERVAL", "1.0")
	t.Setenv("AGENT_TIMEOUT", "5s")
	t.Setenv("DATABASE_HOST", "localhost")
	t.Setenv("DATABASE_DATABASE", "metrics")
	t.Setenv("NATS_URL", "nats://127.0.0.1:4222")

	var cfg models.ServerConfig

	loader := NewConfig(logger.NewTestLogger())
	require.NoError(t, loader.LoadAndValidate(context.Background(), "", &cfg))

	// The single agent surface is folded into the agents map.
	require.Contains(t, cfg.Agents, "10.1.2.3")
	assert.Equal(t, 8000, cfg.Agents["10.1.2.3"].Port)

	// Bare numbers are read as seconds, duration strings as-is.
	assert.Equal(t, models.Duration(time.Second), cfg.PollInterval)
	assert.Equal(t, models.Duration(5*time.Second), cfg.PollTimeout)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
}

func TestLoadFromEnvironmentWithPrefix(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_ENV_PREFIX", "HOSTPULSE_")
	t.Setenv("HOSTPULSE_LISTEN_ADDR", ":7070")
	t.Setenv("HOSTPULSE_AGENT_HOST", "10.9.9.9")
	t.Setenv("HOSTPULSE_DATABASE_HOST", "db.internal")
	t.Setenv("HOSTPULSE_DATABASE_DATABASE", "metrics")
	t.Setenv("HOSTPULSE_NATS_URL", "nats://broker:4222")

	var cfg models.ServerConfig

	loader := NewConfig(logger.NewTestLogger())
	require.NoError(t, loader.LoadAndValidate(context.Background(), "", &cfg))

	assert.Equal(t, ":7070", cfg.ListenAddr)
	require.Contains(t, cfg.Agents, "10.9.9.9")
	assert.Equal(t, "db.internal", cfg.Database.Host)
}

func TestLoadFromConfigJSON(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("CONFIG_JSON", `{
		"agents": {"web-1": {"host": "10.0.0.5"}},
		"database": {"host": "localhost", "database": "metrics"},
		"nats": {"url": "nats://127.0.0.1:4222"}
	}`)

	var cfg models.ServerConfig

	loader := NewConfig(logger.NewTestLogger())
	require.NoError(t, loader.LoadAndValidate(context.Background(), "", &cfg))

	require.Contains(t, cfg.Agents, "web-1")
	assert.Equal(t, "10.0.0.5", cfg.Agents["web-1"].Host)
}

func TestInvalidConfigSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "consul")

	var cfg models.ServerConfig

	loader := NewConfig(logger.NewTestLogger())
	err := loader.LoadAndValidate(context.Background(), "", &cfg)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestParseDurationValue(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{name: "duration string", input: "5s", expected: 5 * time.Second},
		{name: "fractional seconds", input: "1.5", expected: 1500 * time.Millisecond},
		{name: "whole seconds", input: "30", expected: 30 * time.Second},
		{name: "complex duration", input: "1m30s", expected: 90 * time.Second},
		{name: "garbage", input: "soon", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := parseDurationValue(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestNormalizeTLSPaths(t *testing.T) {
	path := writeConfigFile(t, map[string]interface{}{
		"agents": map[string]interface{}{
			"web-1": map[string]interface{}{"host": "10.0.0.5"},
		},
		"database": map[string]interface{}{
			"host":     "localhost",
			"database": "metrics",
			"cert_dir": "/etc/hostpulse/certs",
			"tls": map[string]interface{}{
				"cert_file": "client.pem",
				"key_file":  "client-key.pem",
				"ca_file":   "/abs/root.pem",
			},
		},
		"nats": map[string]interface{}{
			"url": "nats://127.0.0.1:4222",
		},
	})

	var cfg models.ServerConfig

	loader := NewConfig(logger.NewTestLogger())
	require.NoError(t, loader.LoadAndValidate(context.Background(), path, &cfg))

	require.NotNil(t, cfg.Database.TLS)
	assert.Equal(t, "/etc/hostpulse/certs/client.pem", cfg.Database.TLS.CertFile)
	assert.Equal(t, "/etc/hostpulse/certs/client-key.pem", cfg.Database.TLS.KeyFile)
	assert.Equal(t, "/abs/root.pem", cfg.Database.TLS.CAFile)
}
