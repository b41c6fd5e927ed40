// Package config loads the registry daemon's configuration from
// environment variables (§6 composition root).
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds every value the composition root needs to wire the
// registry engine and its HTTP facade. Defaults match §4.6/§4.7/§6.
type Config struct {
	ListenAddr string `koanf:"listen_addr"`
	DBPath     string `koanf:"db_path"`
	SpoolDir   string `koanf:"spool_dir"`

	GCInterval       time.Duration `koanf:"gc_interval"`
	SessionMaxAge    time.Duration `koanf:"session_max_age"`
	DiskFloorPercent float64       `koanf:"disk_floor_percent"`

	AuthEnabled  bool   `koanf:"auth_enabled"`
	AuthUser     string `koanf:"auth_user"`
	AuthPassword string `koanf:"auth_password"`

	LogLevel string `koanf:"log_level"`
	LogPath  string `koanf:"log_path"`
}

// Default returns the configuration a fresh install starts from, before
// any REGISTRY_* environment variable is applied.
func Default() Config {
	return Config{
		ListenAddr:       ":5000",
		DBPath:           "registry.db",
		SpoolDir:         "spool",
		GCInterval:       30 * time.Minute,
		SessionMaxAge:    24 * time.Hour,
		DiskFloorPercent: 10,
		AuthEnabled:      false,
		LogLevel:         "info",
	}
}

// Load reads REGISTRY_*-prefixed environment variables over top of
// Default(), using "." as the koanf key delimiter (so REGISTRY_GC_INTERVAL
// becomes the key "gc_interval").
func Load() (Config, error) {
	k := koanf.New(".")
	if err := k.Load(env.Provider("REGISTRY_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "REGISTRY_"))
	}), nil); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if v := k.String("listen_addr"); v != "" {
		cfg.ListenAddr = v
	}
	if v := k.String("db_path"); v != "" {
		cfg.DBPath = v
	}
	if v := k.String("spool_dir"); v != "" {
		cfg.SpoolDir = v
	}
	if v := k.String("gc_interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, err
		}
		cfg.GCInterval = d
	}
	if v := k.String("session_max_age"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, err
		}
		cfg.SessionMaxAge = d
	}
	if v := k.String("disk_floor_percent"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, err
		}
		cfg.DiskFloorPercent = f
	}
	if v := k.String("auth_enabled"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, err
		}
		cfg.AuthEnabled = b
	}
	if v := k.String("auth_user"); v != "" {
		cfg.AuthUser = v
	}
	if v := k.String("auth_password"); v != "" {
		cfg.AuthPassword = v
	}
	if v := k.String("log_level"); v != "" {
		cfg.LogLevel = v
	}
	if v := k.String("log_path"); v != "" {
		cfg.LogPath = v
	}
	return cfg, nil
}
