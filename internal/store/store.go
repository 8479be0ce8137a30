package store

import (
	"context"
	"database/sql"
	"os"

	"github.com/rs/zerolog"

	"github.com/kittclouds/graphstore/internal/synctransport"
)

// Store is the top-level embeddable graph store: a SQLite-backed engine, a
// transaction coordinator enforcing the single-writer/multi-reader
// discipline, CRUD + full-text search over nodes and edges, graph
// algorithms, a sync manager, and a rollback manager, wired together behind
// one handle.
type Store struct {
	eng      *engine
	txn      *txCoordinator
	rollback *RollbackManager
	sync     *SyncManager
	log      zerolog.Logger
}

// Option configures Open.
type Option func(*options)

type options struct {
	log    zerolog.Logger
	remote synctransport.RemoteStore
	zone   string
}

// WithLogger overrides the default stderr zerolog.Logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithRemote wires a sync manager against the given remote capability
// surface and zone; without this option, Store.Sync() is unavailable.
func WithRemote(remote synctransport.RemoteStore, zone string) Option {
	return func(o *options) { o.remote = remote; o.zone = zone }
}

// Open initializes a store at cfg.Path (or an anonymous in-memory database
// if cfg.Path is empty), running every pending schema migration before
// returning.
func Open(cfg EngineConfig, opts ...Option) (*Store, error) {
	o := &options{log: zerolog.New(os.Stderr).With().Timestamp().Logger()}
	for _, opt := range opts {
		opt(o)
	}

	eng, err := openEngine(cfg, o.log)
	if err != nil {
		return nil, err
	}

	s := &Store{eng: eng, log: o.log.With().Str("component", "store").Logger()}
	s.txn = newTxCoordinator(eng, o.log)
	s.rollback = newRollbackManager(s, o.log)
	s.txn.preserve = s.rollback.Preserve

	if o.remote != nil {
		s.sync = newSyncManager(s, o.remote, o.zone)
	}

	return s, nil
}

// Close releases the underlying SQLite connection pool.
func (s *Store) Close() error {
	return s.eng.close()
}

// AddObserver registers o to receive every ChangeEvent committed by a
// subsequent Transact call.
func (s *Store) AddObserver(o Observer) {
	s.txn.addObserver(o)
}

// Transact runs fn inside a write transaction scope, see txCoordinator for
// the flat-nesting and retry semantics.
func (s *Store) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.txn.Transact(ctx, fn)
}

// TransactWithID behaves like Transact but also returns the transaction's
// correlation id for later use with RollbackTransaction.
func (s *Store) TransactWithID(ctx context.Context, fn func(ctx context.Context) error) (string, error) {
	return s.txn.TransactWithID(ctx, fn)
}

// RollbackTransaction reverse-applies a committed transaction's operations,
// if it was preserved as a draft.
func (s *Store) RollbackTransaction(ctx context.Context, txID string) (RollbackResult, error) {
	return s.rollback.Rollback(ctx, txID)
}

// ListDrafts returns every unexpired rollback draft currently persisted.
func (s *Store) ListDrafts(ctx context.Context) ([]DraftInfo, error) {
	return s.rollback.ListDrafts(ctx)
}

// Sync returns the store's sync manager, or nil if Open was called without
// WithRemote.
func (s *Store) Sync() *SyncManager {
	return s.sync
}

// Migrations lists every schema migration applied to this store.
func (s *Store) Migrations(ctx context.Context) ([]SchemaMigration, error) {
	var out []SchemaMigration
	err := s.eng.withRead(func(db *sql.DB) error {
		var innerErr error
		out, innerErr = appliedMigrations(db)
		return innerErr
	})
	return out, err
}
