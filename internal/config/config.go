// Package config loads market-core settings from the process environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	Port            string
	DatabaseURL     string
	DBMaxConns      int
	RedisURL        string
	CacheTTL        time.Duration
	JWTSecret       string
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Port:            "8080",
		CacheTTL:        30 * time.Second,
		LogLevel:        slog.LevelInfo,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Load reads a .env file if present (silently ignored if missing), then
// overlays the environment on top of Defaults. Missing required settings are
// not an error here; see Missing.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	setStr(&cfg.Port, "PORT")
	setStr(&cfg.DatabaseURL, "DATABASE_URL")
	setStr(&cfg.RedisURL, "REDIS_URL")
	setStr(&cfg.JWTSecret, "AUTH_JWT_SECRET")

	if err := setInt(&cfg.DBMaxConns, "DB_MAX_CONNS"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.CacheTTL, "CACHE_TTL"); err != nil {
		return Config{}, err
	}
	if err := setDuration(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return Config{}, fmt.Errorf("parse LOG_LEVEL: %w", err)
		}
	}

	return cfg, nil
}

// Missing returns the names of required settings that are empty. The
// process still starts without them: no DATABASE_URL falls back to the
// in-memory store and no AUTH_JWT_SECRET leaves every caller anonymous.
func (c Config) Missing() []string {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	return missing
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}
