// Package config loads server settings from the environment and an optional
// .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvDB            = "MENJALNICA_DB"
	EnvAddr          = "MENJALNICA_ADDR"
	EnvLog           = "MENJALNICA_LOG"
	EnvWelcomePoints = "MENJALNICA_WELCOME_POINTS"
	EnvPendingTTL    = "MENJALNICA_PENDING_TTL"
	EnvAcceptedTTL   = "MENJALNICA_ACCEPTED_TTL"
	EnvSweepInterval = "MENJALNICA_SWEEP_INTERVAL"
)

// Config holds runtime settings. Zero durations disable the matching feature.
type Config struct {
	DBPath        string
	Addr          string
	LogPath       string
	WelcomePoints int64
	PendingTTL    time.Duration
	AcceptedTTL   time.Duration
	SweepInterval time.Duration
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DBPath:        "menjalnica.sqlite3",
		Addr:          ":8080",
		WelcomePoints: 50,
	}
}

// Load reads the given env files (".env" if none are named) and then the
// process environment. Variables already set in the environment win over
// the files. A missing .env file is not an error.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("reading .env: %w", err)
		}
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("reading env files: %w", err)
	}

	cfg := Default()
	cfg.DBPath = getEnv(EnvDB, cfg.DBPath)
	cfg.Addr = getEnv(EnvAddr, cfg.Addr)
	cfg.LogPath = getEnv(EnvLog, cfg.LogPath)

	var err error
	if cfg.WelcomePoints, err = getInt(EnvWelcomePoints, cfg.WelcomePoints); err != nil {
		return Config{}, err
	}
	if cfg.WelcomePoints < 0 {
		return Config{}, fmt.Errorf("%s must not be negative", EnvWelcomePoints)
	}
	for _, d := range []struct {
		key string
		dst *time.Duration
	}{
		{EnvPendingTTL, &cfg.PendingTTL},
		{EnvAcceptedTTL, &cfg.AcceptedTTL},
		{EnvSweepInterval, &cfg.SweepInterval},
	} {
		if *d.dst, err = getDuration(d.key, *d.dst); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// SweepEnabled reports whether the background sweeper should run.
func (c Config) SweepEnabled() bool {
	return c.SweepInterval > 0 && (c.PendingTTL > 0 || c.AcceptedTTL > 0)
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int64) (int64, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}
