// Package config provides the runtime defaults, file and environment
// loading, and validation for the chatrelay server.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"github.com/erilali/chatrelay/internal/logger"
)

// Duration is a time.Duration that reads "10s" style strings or plain
// seconds from JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration: expected string or number, got %s", b)
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// RateLimitConfig defines per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int      `json:"burst"`
	RefillInterval Duration `json:"refill_interval"`
}

// Config holds the server configuration settings.
type Config struct {
	// ListenAddr is the TCP line-protocol address; empty disables it.
	ListenAddr string `json:"listen_addr"`
	// HTTPAddr serves /ws, /health and /metrics; empty disables it.
	HTTPAddr string `json:"http_addr"`

	NatsURL     string `json:"nats_url"`
	NatsSubject string `json:"nats_subject"`

	BusBufferSize   int             `json:"bus_buffer_size"`
	MaxMessageSize  int64           `json:"max_message_size"`
	RateLimit       RateLimitConfig `json:"rate_limit"`
	ShutdownTimeout Duration        `json:"shutdown_timeout"`
	AllowedOrigins  []string        `json:"allowed_origins"`

	Log logger.LogConfig `json:"log"`
}

// Default returns a Config populated with default values for all settings.
func Default() Config {
	return Config{
		ListenAddr:      "127.0.0.1:8080",
		HTTPAddr:        ":8081",
		NatsSubject:     "chat.events",
		BusBufferSize:   256,
		MaxMessageSize:  4096,
		RateLimit:       RateLimitConfig{Burst: 10, RefillInterval: Duration(time.Second)},
		ShutdownTimeout: Duration(10 * time.Second),
		AllowedOrigins:  []string{"*"},
		Log:             logger.DefaultLogConfig(),
	}
}

// Load reads a JSON config file from fs over the defaults. A missing file
// is not an error.
func Load(fs afero.Fs, path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	file, err := fs.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadEnv loads a .env file into the process environment when present and
// then applies environment overrides to cfg.
func LoadEnv(cfg *Config, envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load env file: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	return nil
}

// ApplyEnv overrides cfg from lookup. Values that fail to parse are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}

	str("CHAT_LISTEN_ADDR", &cfg.ListenAddr)
	str("CHAT_HTTP_ADDR", &cfg.HTTPAddr)
	str("NATS_URL", &cfg.NatsURL)
	str("CHAT_NATS_SUBJECT", &cfg.NatsSubject)
	str("LOG_LEVEL", &cfg.Log.Level)

	if v, ok := lookup("CHAT_BUS_BUFFER"); ok {
		cfg.BusBufferSize = parseIntValue(v, cfg.BusBufferSize)
	}
	if v, ok := lookup("CHAT_MAX_MESSAGE_SIZE"); ok {
		if size, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && size > 0 {
			cfg.MaxMessageSize = size
		}
	}
	if v, ok := lookup("CHAT_RATE_LIMIT_BURST"); ok {
		cfg.RateLimit.Burst = parseIntValue(v, cfg.RateLimit.Burst)
	}
	if v, ok := lookup("CHAT_RATE_LIMIT_REFILL_INTERVAL"); ok {
		cfg.RateLimit.RefillInterval = parseDuration(v, cfg.RateLimit.RefillInterval)
	}
	if v, ok := lookup("CHAT_SHUTDOWN_TIMEOUT"); ok {
		cfg.ShutdownTimeout = parseDuration(v, cfg.ShutdownTimeout)
	}
	if v, ok := lookup("CHAT_ALLOWED_ORIGINS"); ok {
		cfg.AllowedOrigins = parseOrigins(v)
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		cfg.Log.LogToJSON = strings.EqualFold(strings.TrimSpace(v), "json")
	}
	if v, ok := lookup("LOG_FILE"); ok && strings.TrimSpace(v) != "" {
		cfg.Log.LogToFile = true
		cfg.Log.FilePath = strings.TrimSpace(v)
	}
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	switch {
	case c.ListenAddr == "" && c.HTTPAddr == "":
		return errors.New("config: at least one of listen_addr or http_addr must be set")
	case c.BusBufferSize <= 0:
		return fmt.Errorf("config: bus_buffer_size must be positive, got %d", c.BusBufferSize)
	case c.MaxMessageSize <= 0:
		return fmt.Errorf("config: max_message_size must be positive, got %d", c.MaxMessageSize)
	case c.RateLimit.Burst <= 0:
		return fmt.Errorf("config: rate_limit.burst must be positive, got %d", c.RateLimit.Burst)
	case c.RateLimit.RefillInterval <= 0:
		return errors.New("config: rate_limit.refill_interval must be positive")
	case c.ShutdownTimeout < 0:
		return errors.New("config: shutdown_timeout cannot be negative")
	}
	return nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts "500ms" style values or a bare number of seconds.
func parseDuration(value string, defaultValue Duration) Duration {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return Duration(d)
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return Duration(time.Duration(seconds) * time.Second)
	}
	return defaultValue
}
