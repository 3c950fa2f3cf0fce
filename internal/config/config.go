// Package config loads service configuration from YAML and applies
// environment overrides on top.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/fractal-lba/adaptive/internal/auth"
	"github.com/fractal-lba/adaptive/internal/engine"
	"github.com/fractal-lba/adaptive/internal/snapshot"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// Config is the full service configuration.
type Config struct {
	Engine  engine.Config   `yaml:"engine"`
	Server  ServerConfig    `yaml:"server"`
	Store   snapshot.Config `yaml:"store"`
	Journal JournalConfig   `yaml:"journal"`
	Tracing TracingConfig   `yaml:"tracing"`
	Log     LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port             string        `yaml:"port"`
	TokenRate        int           `yaml:"token_rate"`
	MaxBodyBytes     int64         `yaml:"max_body_bytes"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	EventBuffer      int           `yaml:"event_buffer"`
	MetricsUser      string        `yaml:"metrics_user"`
	MetricsPass      string        `yaml:"metrics_pass"`
	Auth             auth.Config   `yaml:"auth"`
}

type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	Environment  string  `yaml:"environment"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

type LogConfig struct {
	Mode string `yaml:"mode"`
	// Level overrides the mode's default minimum level.
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Engine: engine.DefaultConfig(),
		Server: ServerConfig{
			Port:             "8080",
			TokenRate:        100,
			MaxBodyBytes:     1 << 20,
			ReadTimeout:      10 * time.Second,
			WriteTimeout:     10 * time.Second,
			IdleTimeout:      60 * time.Second,
			ShutdownTimeout:  10 * time.Second,
			SnapshotInterval: time.Minute,
			EventBuffer:      256,
			Auth:             auth.DefaultConfig(),
		},
		Store: snapshot.Config{
			Backend: snapshot.BackendFile,
			Name:    "default",
			Path:    "data/snapshots",
		},
		Journal: JournalConfig{
			Enabled: true,
			Dir:     "data/journal",
		},
		Tracing: TracingConfig{
			ServiceName:  "adaptive-engine",
			Environment:  "production",
			Endpoint:     "localhost:4317",
			Insecure:     true,
			SamplingRate: 1.0,
		},
		Log: LogConfig{Mode: "production"},
	}
}

// Load reads path (skipped when empty) over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	c.Server.Port = getEnv("ADAPTIVE_PORT", getEnv("PORT", c.Server.Port))
	c.Server.TokenRate = getEnvInt("TOKEN_RATE", c.Server.TokenRate)
	c.Server.MetricsUser = getEnv("METRICS_USER", c.Server.MetricsUser)
	c.Server.MetricsPass = getEnv("METRICS_PASS", c.Server.MetricsPass)
	if getEnv("ADAPTIVE_AUTH", "") == "gateway" {
		c.Server.Auth.Enabled = true
	}

	c.Engine.Policy = engine.Policy(getEnv("ADAPTIVE_POLICY", string(c.Engine.Policy)))
	c.Engine.Seed = uint64(getEnvInt("ADAPTIVE_SEED", int(c.Engine.Seed)))

	c.Store.Backend = snapshot.Backend(getEnv("ADAPTIVE_STORE", string(c.Store.Backend)))
	c.Store.Name = getEnv("SNAPSHOT_NAME", c.Store.Name)
	c.Store.Path = getEnv("SNAPSHOT_PATH", c.Store.Path)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPassword = getEnv("REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.PostgresConn = getEnv("POSTGRES_CONN", c.Store.PostgresConn)

	c.Journal.Dir = getEnv("JOURNAL_DIR", c.Journal.Dir)

	if endpoint := os.Getenv("OTEL_ENDPOINT"); endpoint != "" {
		c.Tracing.Enabled = true
		c.Tracing.Endpoint = endpoint
	}

	c.Log.Mode = getEnv("LOG_MODE", c.Log.Mode)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := engine.ParsePolicy(string(c.Engine.Policy)); err != nil {
		return &ValidationError{Field: "engine.policy", Message: err.Error()}
	}
	if err := c.Engine.Validate(); err != nil {
		return &ValidationError{Field: "engine", Message: err.Error()}
	}
	if c.Server.Port == "" {
		return &ValidationError{Field: "server.port", Message: "port is required"}
	}
	if c.Server.TokenRate <= 0 {
		return &ValidationError{Field: "server.token_rate", Message: "must be positive"}
	}
	if c.Server.MaxBodyBytes <= 0 {
		return &ValidationError{Field: "server.max_body_bytes", Message: "must be positive"}
	}
	if c.Server.Auth.Enabled && c.Server.Auth.SubjectHeader == "" {
		return &ValidationError{Field: "server.auth.subject_header", Message: "required when auth is enabled"}
	}

	switch c.Store.Backend {
	case "", snapshot.BackendNone:
	case snapshot.BackendFile:
		if c.Store.Path == "" {
			return &ValidationError{Field: "store.path", Message: "required for the file backend"}
		}
	case snapshot.BackendRedis:
		if c.Store.RedisAddr == "" {
			return &ValidationError{Field: "store.redis_addr", Message: "required for the redis backend"}
		}
	case snapshot.BackendPostgres:
		if c.Store.PostgresConn == "" {
			return &ValidationError{Field: "store.postgres_conn", Message: "required for the postgres backend"}
		}
	default:
		return &ValidationError{Field: "store.backend", Message: fmt.Sprintf("unknown backend %q", c.Store.Backend)}
	}
	if c.Store.Backend != "" && c.Store.Backend != snapshot.BackendNone && c.Store.Name == "" {
		return &ValidationError{Field: "store.name", Message: "snapshot name is required"}
	}

	if c.Journal.Enabled && c.Journal.Dir == "" {
		return &ValidationError{Field: "journal.dir", Message: "required when the journal is enabled"}
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return &ValidationError{Field: "tracing.sampling_rate", Message: "must be in [0, 1]"}
	}
	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			return &ValidationError{Field: "log.level", Message: err.Error()}
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
