package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEngineConfigDSNInMemory(t *testing.T) {
	cfg := DefaultEngineConfig("")
	dsn := cfg.dsn()
	assert.True(t, strings.HasPrefix(dsn, "file:/graphstore-"))
	assert.Contains(t, dsn, "vfs=memdb")
	assert.Contains(t, dsn, "_pragma=busy_timeout(5000)")
}

func TestEngineConfigDSNFileBacked(t *testing.T) {
	cfg := DefaultEngineConfig("/tmp/graphstore-test.db")
	cfg.BusyTimeout = 2 * time.Second
	dsn := cfg.dsn()
	assert.Contains(t, dsn, "/tmp/graphstore-test.db")
	assert.Contains(t, dsn, "_pragma=journal_mode(WAL)")
	assert.Contains(t, dsn, "_pragma=busy_timeout(2000)")
}

func TestOpenAndCloseEngine(t *testing.T) {
	s := newTestStore(t)
	assert.NotNil(t, s)
}
