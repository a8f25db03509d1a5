package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr)
	assert.Equal(t, 256, cfg.BusBufferSize)
	assert.Equal(t, time.Second, cfg.RateLimit.RefillInterval.Std())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(afero.NewMemMapFs(), "chatrelay.json")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/chatrelay.json", []byte(`{
		"listen_addr": "0.0.0.0:9000",
		"http_addr": "",
		"bus_buffer_size": 32,
		"rate_limit": {"burst": 3, "refill_interval": "250ms"},
		"shutdown_timeout": 2,
		"log": {"level": "debug", "log_to_json": true}
	}`), 0o644))

	cfg, err := Load(fs, "/etc/chatrelay.json")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, 32, cfg.BusBufferSize)
	assert.Equal(t, 3, cfg.RateLimit.Burst)
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.RefillInterval.Std())
	assert.Equal(t, 2*time.Second, cfg.ShutdownTimeout.Std())
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.LogToJSON)
	// untouched fields keep their defaults
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "c.json", []byte(`{"listen":"x"}`), 0o644))

	_, err := Load(fs, "c.json")
	assert.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "c.json", []byte(`{"shutdown_timeout":"soon"}`), 0o644))

	_, err := Load(fs, "c.json")
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"CHAT_LISTEN_ADDR":                ":7000",
		"CHAT_HTTP_ADDR":                  "",
		"NATS_URL":                        "nats://127.0.0.1:4222",
		"CHAT_BUS_BUFFER":                 "64",
		"CHAT_MAX_MESSAGE_SIZE":           "not-a-number",
		"CHAT_RATE_LIMIT_BURST":           "2",
		"CHAT_RATE_LIMIT_REFILL_INTERVAL": "5",
		"CHAT_ALLOWED_ORIGINS":            "http://a.example, http://b.example ,",
		"LOG_FORMAT":                      "json",
		"LOG_FILE":                        "/var/log/chat.log",
		"LOG_LEVEL":                       "warn",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	ApplyEnv(&cfg, lookup)

	assert.Equal(t, ":7000", cfg.ListenAddr)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NatsURL)
	assert.Equal(t, 64, cfg.BusBufferSize)
	assert.Equal(t, int64(4096), cfg.MaxMessageSize)
	assert.Equal(t, 2, cfg.RateLimit.Burst)
	assert.Equal(t, 5*time.Second, cfg.RateLimit.RefillInterval.Std())
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.Log.LogToJSON)
	assert.True(t, cfg.Log.LogToFile)
	assert.Equal(t, "/var/log/chat.log", cfg.Log.FilePath)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("CHAT_BUS_BUFFER=17\n"), 0o600))
	t.Setenv("CHAT_BUS_BUFFER", "")
	os.Unsetenv("CHAT_BUS_BUFFER")

	cfg := Default()
	require.NoError(t, LoadEnv(&cfg, path))
	assert.Equal(t, 17, cfg.BusBufferSize)
}

func TestLoadEnvMissingFileIsFine(t *testing.T) {
	cfg := Default()
	assert.NoError(t, LoadEnv(&cfg, filepath.Join(t.TempDir(), "absent.env")))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listeners", func(c *Config) { c.ListenAddr, c.HTTPAddr = "", "" }},
		{"zero buffer", func(c *Config) { c.BusBufferSize = 0 }},
		{"zero message size", func(c *Config) { c.MaxMessageSize = 0 }},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }},
		{"zero refill", func(c *Config) { c.RateLimit.RefillInterval = 0 }},
		{"negative shutdown", func(c *Config) { c.ShutdownTimeout = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
