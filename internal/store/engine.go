package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	_ "github.com/ncruces/go-sqlite3/vfs/memdb"
	"github.com/rs/zerolog"
)

// EngineConfig tunes the pragma and pool settings of the underlying SQLite
// connection. Path == "" opens an anonymous in-memory database backed by
// vfs/memdb instead of a temp file.
type EngineConfig struct {
	Path           string
	BusyTimeout    time.Duration
	MaxReaderConns int
}

// DefaultEngineConfig matches the defaults documented for the storage engine.
func DefaultEngineConfig(path string) EngineConfig {
	return EngineConfig{
		Path:           path,
		BusyTimeout:    5 * time.Second,
		MaxReaderConns: 4,
	}
}

func (c EngineConfig) dsn() string {
	if c.Path == "" {
		return fmt.Sprintf(
			"file:/graphstore-%d?vfs=memdb&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)&_txlock=immediate",
			time.Now().UnixNano(), c.BusyTimeout.Milliseconds(),
		)
	}
	return fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_txlock=immediate",
		c.Path, c.BusyTimeout.Milliseconds(),
	)
}

// engine owns the *sql.DB and the single-writer/multi-reader lease
// discipline: write operations take the lease exclusively, reads take it
// shared, so a writer never blocks behind readers that outlive its scope and
// vice versa.
type engine struct {
	db  *sql.DB
	cfg EngineConfig
	log zerolog.Logger

	lease sync.RWMutex
}

func openEngine(cfg EngineConfig, log zerolog.Logger) (*engine, error) {
	db, err := sql.Open("sqlite3", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	maxReaders := cfg.MaxReaderConns
	if maxReaders < 1 {
		maxReaders = 1
	}
	db.SetMaxOpenConns(maxReaders + 1)
	db.SetMaxIdleConns(maxReaders + 1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	e := &engine{db: db, cfg: cfg, log: log.With().Str("component", "engine").Logger()}

	if err := runMigrations(db, e.log); err != nil {
		db.Close()
		return nil, err
	}

	return e, nil
}

func (e *engine) close() error {
	return e.db.Close()
}

// beginWrite acquires the exclusive write lease and opens a transaction. The
// DSN's _txlock=immediate parameter makes every BeginTx an implicit BEGIN
// IMMEDIATE at the driver level, so competing writers fail fast on
// SQLITE_BUSY rather than deadlocking on a reader→writer upgrade; issuing a
// second BEGIN IMMEDIATE against an already-open *sql.Tx would just no-op.
func (e *engine) beginWrite(ctx context.Context) (*sql.Tx, func(), error) {
	e.lease.Lock()
	release := func() { e.lease.Unlock() }

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("begin immediate: %w", err)
	}

	return tx, release, nil
}

// withRead acquires the shared read lease for the duration of fn. Multiple
// readers may hold the lease concurrently; they are excluded only while a
// writer holds it exclusively.
func (e *engine) withRead(fn func(*sql.DB) error) error {
	e.lease.RLock()
	defer e.lease.RUnlock()
	return fn(e.db)
}
