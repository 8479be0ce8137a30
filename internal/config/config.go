// Package config loads graphstore's on-disk configuration: database path,
// busy timeout, reader pool size, sync interval and sync zone. Values are read from a
// TOML file and may be overridden by GRAPHSTORE_-prefixed environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

// Config is the fully-resolved set of tunables for one store instance.
type Config struct {
	// DBPath is the SQLite file path. Empty means an anonymous in-memory
	// database.
	DBPath string `mapstructure:"db_path"`

	// BusyTimeout bounds how long a write waits on SQLITE_BUSY before the
	// transaction coordinator's own retry loop takes over.
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// MaxReaderConns caps the number of concurrent reader connections in the
	// pool, in addition to the single writer connection.
	MaxReaderConns int `mapstructure:"max_reader_conns"`

	// SyncInterval is the interval between periodic sync cycles; zero
	// disables periodic sync. The CLI's `sync` subcommand runs a single
	// cycle and does not read it.
	SyncInterval time.Duration `mapstructure:"sync_interval"`

	// SyncZone names the remote zone the sync manager pushes to and pulls
	// from.
	SyncZone string `mapstructure:"sync_zone"`
}

// Default returns the baseline configuration used when no file or env
// override is present.
func Default() Config {
	return Config{
		DBPath:         "",
		BusyTimeout:    5 * time.Second,
		MaxReaderConns: 4,
		SyncInterval:   0,
		SyncZone:       "default",
	}
}

// Load reads configuration from path (a TOML file) if it exists, then layers
// GRAPHSTORE_-prefixed environment variable overrides on top, following the
// viper convention used across the pack's CLI tools.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("GRAPHSTORE")
	v.AutomaticEnv()

	v.SetDefault("db_path", cfg.DBPath)
	v.SetDefault("busy_timeout", cfg.BusyTimeout)
	v.SetDefault("max_reader_conns", cfg.MaxReaderConns)
	v.SetDefault("sync_interval", cfg.SyncInterval)
	v.SetDefault("sync_zone", cfg.SyncZone)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
