// Package config manages admitd daemon configuration using koanf/v2.
//
// Supports built-in defaults, YAML files, and environment variables, layered
// in that order: each later layer overrides the one before it.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the complete admitd configuration.
type Config struct {
	Admin   AdminConfig   `koanf:"admin"`
	Metrics MetricsConfig `koanf:"metrics"`
	Log     LogConfig     `koanf:"log"`
	Queue   QueueConfig   `koanf:"queue"`
	DDF     DDFConfig     `koanf:"ddf"`
	Peers   []PeerConfig  `koanf:"peers"`
}

// PeerConfig declares a known remote identity for the connection-manager
// demo wiring: its admission identity and the ed25519 public key used to
// verify signatures on packets claiming to come from it. Stands in for the
// anonymous network's own peer/identity directory.
type PeerConfig struct {
	// Name is a human-readable label, for logging only.
	Name string `koanf:"name"`
	// Identity is the peer's 32-byte destination identity, hex-encoded.
	Identity string `koanf:"identity"`
	// PublicKey is the peer's ed25519 public key, hex-encoded.
	PublicKey string `koanf:"public_key"`
}

// AdminConfig holds the plain HTTP/JSON admin API configuration.
type AdminConfig struct {
	// Addr is the admin API listen address (e.g., ":8600").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// QueueConfig holds the admission queue's tuneables (spec §6).
type QueueConfig struct {
	// Capacity is MAX_QUEUE_SIZE.
	Capacity int `koanf:"capacity"`
	// AcceptTimeout is DEFAULT_ACCEPT_TIMEOUT_MS.
	AcceptTimeout time.Duration `koanf:"accept_timeout"`
}

// DDFConfig holds the decaying duplicate filter's tuneables (spec §6).
// False-positive rate is not runtime-tunable (spec Non-goals); only the
// structural (m, k, entry_bytes, duration) parameters are exposed.
type DDFConfig struct {
	// M is the bit-array width per generation.
	M uint64 `koanf:"m"`
	// K is the number of hash positions per insert/query.
	K int `koanf:"k"`
	// EntryBytes is the expected entry width in bytes.
	EntryBytes int `koanf:"entry_bytes"`
	// Duration is the rotation period. Typical: 10 minutes for replay
	// detection.
	Duration time.Duration `koanf:"duration"`
}

// DefaultConfig returns a Config populated with the spec's default
// tuneables.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Addr: ":8600",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Queue: QueueConfig{
			Capacity:      64,
			AcceptTimeout: 3000 * time.Millisecond,
		},
		DDF: DDFConfig{
			M:          1 << 23,
			K:          11,
			EntryBytes: 8,
			Duration:   10 * time.Minute,
		},
	}
}

// envPrefix is the environment variable prefix for admitd configuration.
// Variables are named ADMITD_<section>_<key>, e.g., ADMITD_QUEUE_CAPACITY.
const envPrefix = "ADMITD_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (ADMITD_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	ADMITD_ADMIN_ADDR       -> admin.addr
//	ADMITD_QUEUE_CAPACITY   -> queue.capacity
//	ADMITD_DDF_DURATION     -> ddf.duration
//	ADMITD_LOG_LEVEL        -> log.level
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms ADMITD_QUEUE_CAPACITY -> queue.capacity and
// ADMITD_QUEUE_ACCEPT_TIMEOUT -> queue.accept_timeout: only the underscore
// after the section name becomes a dot.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.addr":       defaults.Admin.Addr,
		"metrics.addr":     defaults.Metrics.Addr,
		"metrics.path":     defaults.Metrics.Path,
		"log.level":        defaults.Log.Level,
		"log.format":       defaults.Log.Format,
		"queue.capacity":   defaults.Queue.Capacity,
		"queue.accept_timeout": defaults.Queue.AcceptTimeout.String(),
		"ddf.m":            defaults.DDF.M,
		"ddf.k":            defaults.DDF.K,
		"ddf.entry_bytes":  defaults.DDF.EntryBytes,
		"ddf.duration":     defaults.DDF.Duration.String(),
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// Validation errors.
var (
	// ErrEmptyAdminAddr indicates the admin API listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrInvalidQueueCapacity indicates the queue capacity is non-positive.
	ErrInvalidQueueCapacity = errors.New("queue.capacity must be > 0")

	// ErrInvalidAcceptTimeout indicates the accept timeout is non-positive.
	ErrInvalidAcceptTimeout = errors.New("queue.accept_timeout must be > 0")

	// ErrInvalidDDFParams indicates the duplicate filter's (m, k, entry_bytes) are out of range.
	ErrInvalidDDFParams = errors.New("ddf.m, ddf.k, and ddf.entry_bytes must be > 0")

	// ErrInvalidDDFDuration indicates the duplicate filter's rotation period is non-positive.
	ErrInvalidDDFDuration = errors.New("ddf.duration must be > 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}
	if cfg.Queue.Capacity <= 0 {
		return ErrInvalidQueueCapacity
	}
	if cfg.Queue.AcceptTimeout <= 0 {
		return ErrInvalidAcceptTimeout
	}
	if cfg.DDF.M == 0 || cfg.DDF.K <= 0 || cfg.DDF.EntryBytes <= 0 {
		return ErrInvalidDDFParams
	}
	if cfg.DDF.Duration <= 0 {
		return ErrInvalidDDFDuration
	}
	return nil
}
