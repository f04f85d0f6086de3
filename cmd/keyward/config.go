// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"net/url"
	"os"
	"slices"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/keyward/keyward/internal/auth"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/web"
)

// Backend names.
const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

// Config is the effective keyward configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server" yaml:"server"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
	Store    StoreConfig    `koanf:"store" yaml:"store"`
	Session  SessionConfig  `koanf:"session" yaml:"session"`
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Redis    RedisConfig    `koanf:"redis" yaml:"redis"`
	Hash     HashConfig     `koanf:"hash" yaml:"hash"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string   `koanf:"addr" yaml:"addr"`
	CookieName   string   `koanf:"cookie_name" yaml:"cookie_name"`
	CookieSecure bool     `koanf:"cookie_secure" yaml:"cookie_secure"`
	CORSOrigins  []string `koanf:"cors_origins" yaml:"cors_origins"`
	Production   bool     `koanf:"production" yaml:"production"`
}

// MetricsConfig configures the observability listener. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// StoreConfig selects the user store.
type StoreConfig struct {
	Backend string `koanf:"backend" yaml:"backend"`
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	Backend       string        `koanf:"backend" yaml:"backend"`
	MaxLifetime   time.Duration `koanf:"max_lifetime" yaml:"max_lifetime"`
	PurgeInterval time.Duration `koanf:"purge_interval" yaml:"purge_interval"`
}

// DatabaseConfig configures PostgreSQL.
type DatabaseConfig struct {
	URL            string `koanf:"url" yaml:"url"`
	ConnectRetries uint64 `koanf:"connect_retries" yaml:"connect_retries"`
	AutoMigrate    bool   `koanf:"auto_migrate" yaml:"auto_migrate"`
}

// RedisConfig configures Redis.
type RedisConfig struct {
	URL       string `koanf:"url" yaml:"url"`
	KeyPrefix string `koanf:"key_prefix" yaml:"key_prefix"`
}

// HashConfig tunes argon2id.
type HashConfig struct {
	MemoryKiB     uint32 `koanf:"memory_kib" yaml:"memory_kib"`
	Iterations    uint32 `koanf:"iterations" yaml:"iterations"`
	Parallelism   uint8  `koanf:"parallelism" yaml:"parallelism"`
	MaxConcurrent int    `koanf:"max_concurrent" yaml:"max_concurrent"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"addr":                "server.addr",
	"cookie-name":         "server.cookie_name",
	"cookie-secure":       "server.cookie_secure",
	"cors-origins":        "server.cors_origins",
	"production":          "server.production",
	"metrics-addr":        "metrics.addr",
	"log-format":          "log.format",
	"log-level":           "log.level",
	"store-backend":       "store.backend",
	"session-backend":     "session.backend",
	"session-lifetime":    "session.max_lifetime",
	"purge-interval":      "session.purge_interval",
	"database-url":        "database.url",
	"database-retries":    "database.connect_retries",
	"auto-migrate":        "database.auto_migrate",
	"redis-url":           "redis.url",
	"redis-key-prefix":    "redis.key_prefix",
	"hash-memory-kib":     "hash.memory_kib",
	"hash-iterations":     "hash.iterations",
	"hash-parallelism":    "hash.parallelism",
	"hash-max-concurrent": "hash.max_concurrent",
}

// registerConfigFlags declares every configuration flag with its default.
func registerConfigFlags(fs *pflag.FlagSet) {
	fs.String("addr", ":8080", "HTTP API listen address")
	fs.String("cookie-name", web.DefaultCookieName, "session cookie name")
	fs.Bool("cookie-secure", false, "mark the session cookie Secure")
	fs.StringSlice("cors-origins", nil, "origins allowed to make credentialed cross-origin requests")
	fs.Bool("production", false, "hide internal error details from API responses")
	fs.String("metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address (empty = disabled)")
	fs.String("log-format", "json", "log format (json or text)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("store-backend", backendMemory, "user store backend (memory or postgres)")
	fs.String("session-backend", backendMemory, "session store backend (memory, postgres or redis)")
	fs.Duration("session-lifetime", auth.DefaultSessionLifetime, "rolling session lifetime")
	fs.Duration("purge-interval", 10*time.Minute, "expired session purge interval (0 = disabled)")
	fs.String("database-url", "", "PostgreSQL URL (default: $DATABASE_URL)")
	fs.Uint64("database-retries", 5, "database connection attempts beyond the first")
	fs.Bool("auto-migrate", false, "apply pending migrations on startup")
	fs.String("redis-url", "", "Redis URL (default: $REDIS_URL)")
	fs.String("redis-key-prefix", "keyward:", "prefix for Redis keys")
	fs.Uint32("hash-memory-kib", auth.DefaultArgon2Params.Memory, "argon2id memory in KiB")
	fs.Uint32("hash-iterations", auth.DefaultArgon2Params.Iterations, "argon2id iterations")
	fs.Uint8("hash-parallelism", auth.DefaultArgon2Params.Parallelism, "argon2id parallelism")
	fs.Int("hash-max-concurrent", 0, "concurrent hash computations (0 = 2x GOMAXPROCS)")
}

// loadConfig resolves configuration from flag defaults, then the YAML file
// at path (if any), then flags set explicitly on the command line. Store
// URLs left empty fall back to DATABASE_URL and REDIS_URL.
func loadConfig(fs *pflag.FlagSet, path string) (*Config, error) {
	k := koanf.New(".")

	flagKey := func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}

	if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flag defaults").Wrap(err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", path).Wrap(err)
		}
	}
	if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey), nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("source", "flags").Wrap(err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "unmarshal").Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = os.Getenv("REDIS_URL")
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (cfg *Config) Validate() error {
	if cfg.Server.Addr == "" {
		return oops.Code("CONFIG_INVALID").With("key", "server.addr").Errorf("server address is required")
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return oops.Code("CONFIG_INVALID").With("key", "log.format").
			Errorf("log format must be 'json' or 'text', got %q", cfg.Log.Format)
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "log.level").
			Errorf("log level must be one of debug, info, warn or error, got %q", cfg.Log.Level)
	}
	if !slices.Contains([]string{backendMemory, backendPostgres}, cfg.Store.Backend) {
		return oops.Code("CONFIG_INVALID").With("key", "store.backend").
			Errorf("store backend must be 'memory' or 'postgres', got %q", cfg.Store.Backend)
	}
	if !slices.Contains([]string{backendMemory, backendPostgres, backendRedis}, cfg.Session.Backend) {
		return oops.Code("CONFIG_INVALID").With("key", "session.backend").
			Errorf("session backend must be 'memory', 'postgres' or 'redis', got %q", cfg.Session.Backend)
	}
	if cfg.usesPostgres() && cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "database.url").
			Errorf("database URL is required for the postgres backend (set database.url or DATABASE_URL)")
	}
	if cfg.Session.Backend == backendRedis && cfg.Redis.URL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "redis.url").
			Errorf("redis URL is required for the redis backend (set redis.url or REDIS_URL)")
	}
	if cfg.Session.MaxLifetime <= 0 {
		return oops.Code("CONFIG_INVALID").With("key", "session.max_lifetime").
			Errorf("session lifetime must be positive")
	}
	if cfg.Session.PurgeInterval < 0 {
		return oops.Code("CONFIG_INVALID").With("key", "session.purge_interval").
			Errorf("purge interval cannot be negative")
	}
	if cfg.Hash.MemoryKiB == 0 || cfg.Hash.Iterations == 0 || cfg.Hash.Parallelism == 0 {
		return oops.Code("CONFIG_INVALID").With("key", "hash").
			Errorf("argon2id memory, iterations and parallelism must be positive")
	}
	return nil
}

func (cfg *Config) usesPostgres() bool {
	return cfg.Store.Backend == backendPostgres || cfg.Session.Backend == backendPostgres
}

// argon2Params builds hasher parameters from the hash section.
func (cfg *Config) argon2Params() auth.Argon2Params {
	p := auth.DefaultArgon2Params
	p.Memory = cfg.Hash.MemoryKiB
	p.Iterations = cfg.Hash.Iterations
	p.Parallelism = cfg.Hash.Parallelism
	return p
}

// Redacted returns a copy safe to print: URL credentials are masked.
func (cfg *Config) Redacted() *Config {
	clean := *cfg
	clean.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	clean.Database.URL = redactURL(cfg.Database.URL)
	clean.Redis.URL = redactURL(cfg.Redis.URL)
	return &clean
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "[REDACTED]"
	}
	return u.Redacted()
}
