package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "", cfg.DBPath)
	assert.Equal(t, 5*time.Second, cfg.BusyTimeout)
	assert.Equal(t, 4, cfg.MaxReaderConns)
	assert.Equal(t, "default", cfg.SyncZone)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFromTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphstore.toml")
	content := []byte("db_path = \"/var/lib/graphstore/db.sqlite\"\nsync_zone = \"prod\"\nmax_reader_conns = 8\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/graphstore/db.sqlite", cfg.DBPath)
	assert.Equal(t, "prod", cfg.SyncZone)
	assert.Equal(t, 8, cfg.MaxReaderConns)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("GRAPHSTORE_SYNC_ZONE", "from-env")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.SyncZone)
}
