package store

import (
	"database/sql"

	"github.com/rs/zerolog"
)

// migration is one step in the schema's integer-versioned history. Each step
// runs inside its own transaction and records itself into schema_migrations
// on success.
type migration struct {
	version     int
	description string
	up          func(tx *sql.Tx) error
}

var migrations = []migration{
	{1, "initial schema: nodes, edges, facets, settings, sync_state", migrateV1},
	{2, "nodes_fts full-text index with sync triggers", migrateV2},
	{3, "draft_storage for persisted rollback drafts", migrateV3},
}

func migrateV1(tx *sql.Tx) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version     INTEGER PRIMARY KEY,
	applied_at  TEXT NOT NULL,
	description TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
	id                   TEXT PRIMARY KEY,
	node_type            TEXT NOT NULL DEFAULT 'note',
	name                 TEXT NOT NULL,
	content              TEXT NOT NULL DEFAULT '',
	summary              TEXT NOT NULL DEFAULT '',
	latitude             REAL,
	longitude            REAL,
	location_name        TEXT NOT NULL DEFAULT '',
	location_address     TEXT NOT NULL DEFAULT '',
	created_at           TEXT NOT NULL,
	modified_at          TEXT NOT NULL,
	due_at               TEXT,
	completed_at         TEXT,
	event_start          TEXT,
	event_end            TEXT,
	folder               TEXT NOT NULL DEFAULT '',
	tags                 TEXT NOT NULL DEFAULT '[]',
	status               TEXT NOT NULL DEFAULT '',
	priority             INTEGER NOT NULL DEFAULT 0,
	importance           INTEGER NOT NULL DEFAULT 0,
	sort_order           INTEGER NOT NULL DEFAULT 0,
	source               TEXT NOT NULL DEFAULT '',
	source_id            TEXT NOT NULL DEFAULT '',
	source_url           TEXT NOT NULL DEFAULT '',
	deleted_at           TEXT,
	version              INTEGER NOT NULL DEFAULT 1,
	sync_version         INTEGER NOT NULL DEFAULT 0,
	last_synced_at       TEXT,
	conflict_resolved_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_nodes_folder ON nodes(folder) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(node_type) WHERE deleted_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_nodes_deleted_at ON nodes(deleted_at);
CREATE INDEX IF NOT EXISTS idx_nodes_sync_version ON nodes(sync_version);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);
CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_source_unique ON nodes(source, source_id)
	WHERE source != '' AND source_id != '';

CREATE TABLE IF NOT EXISTS edges (
	id                  TEXT PRIMARY KEY,
	edge_type           TEXT NOT NULL,
	source_id           TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	target_id           TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	label               TEXT NOT NULL DEFAULT '',
	weight              REAL NOT NULL DEFAULT 1.0,
	directed            INTEGER NOT NULL DEFAULT 1,
	sequence_order      INTEGER NOT NULL DEFAULT 0,
	channel             TEXT NOT NULL DEFAULT '',
	timestamp           TEXT,
	subject             TEXT NOT NULL DEFAULT '',
	sync_version        INTEGER NOT NULL DEFAULT 0,
	last_synced_version INTEGER,
	UNIQUE(source_id, target_id, edge_type)
);

CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);
CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(edge_type);

CREATE TABLE IF NOT EXISTS facets (
	node_id    TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (node_id, key)
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	id                   TEXT PRIMARY KEY,
	last_sync_token      BLOB,
	last_sync_at         TEXT,
	pending_changes      INTEGER NOT NULL DEFAULT 0,
	conflict_count       INTEGER NOT NULL DEFAULT 0,
	consecutive_failures INTEGER NOT NULL DEFAULT 0,
	last_error           TEXT NOT NULL DEFAULT '',
	last_error_at        TEXT
);

INSERT OR IGNORE INTO sync_state (id, pending_changes, conflict_count, consecutive_failures, last_error)
VALUES ('default', 0, 0, 0, '');
`
	_, err := tx.Exec(ddl)
	return err
}

func migrateV2(tx *sql.Tx) error {
	const ddl = `
CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(
	name, content, tags, folder,
	content='nodes',
	content_rowid='rowid',
	tokenize='porter unicode61 remove_diacritics 1'
);

INSERT INTO nodes_fts(rowid, name, content, tags, folder)
SELECT rowid, name, content, tags, folder FROM nodes WHERE deleted_at IS NULL;

CREATE TRIGGER IF NOT EXISTS nodes_fts_ai AFTER INSERT ON nodes WHEN new.deleted_at IS NULL BEGIN
	INSERT INTO nodes_fts(rowid, name, content, tags, folder)
	VALUES (new.rowid, new.name, new.content, new.tags, new.folder);
END;

CREATE TRIGGER IF NOT EXISTS nodes_fts_ad AFTER DELETE ON nodes BEGIN
	INSERT INTO nodes_fts(nodes_fts, rowid, name, content, tags, folder)
	VALUES ('delete', old.rowid, old.name, old.content, old.tags, old.folder);
END;

CREATE TRIGGER IF NOT EXISTS nodes_fts_au AFTER UPDATE ON nodes BEGIN
	INSERT INTO nodes_fts(nodes_fts, rowid, name, content, tags, folder)
	VALUES ('delete', old.rowid, old.name, old.content, old.tags, old.folder);
	INSERT INTO nodes_fts(rowid, name, content, tags, folder)
	SELECT new.rowid, new.name, new.content, new.tags, new.folder WHERE new.deleted_at IS NULL;
END;
`
	_, err := tx.Exec(ddl)
	return err
}

func migrateV3(tx *sql.Tx) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS draft_storage (
	draft_id    TEXT PRIMARY KEY,
	tx_id       TEXT NOT NULL,
	ops         BLOB NOT NULL,
	created_at  TEXT NOT NULL,
	expires_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_draft_storage_tx_id ON draft_storage(tx_id);
CREATE INDEX IF NOT EXISTS idx_draft_storage_expires_at ON draft_storage(expires_at);
`
	_, err := tx.Exec(ddl)
	return err
}

// runMigrations applies every migration with a version greater than the
// database's current schema_migrations high-water mark, each in its own
// transaction, following the pack's "exclusive-begin, run, record, commit"
// idiom.
func runMigrations(db *sql.DB, log zerolog.Logger) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY, applied_at TEXT NOT NULL, description TEXT NOT NULL)`); err != nil {
		return &MigrationError{Version: 0, Cause: err}
	}

	current := 0
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return &MigrationError{Version: 0, Cause: err}
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		log.Debug().Int("version", m.version).Str("description", m.description).Msg("applying migration")

		tx, err := db.Begin()
		if err != nil {
			return &MigrationError{Version: m.version, Cause: err}
		}
		if err := m.up(tx); err != nil {
			_ = tx.Rollback()
			return &MigrationError{Version: m.version, Cause: err}
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, datetime('now'), ?)`,
			m.version, m.description); err != nil {
			_ = tx.Rollback()
			return &MigrationError{Version: m.version, Cause: err}
		}
		if err := tx.Commit(); err != nil {
			return &MigrationError{Version: m.version, Cause: err}
		}
	}
	return nil
}

// appliedMigrations lists every migration recorded in schema_migrations, for
// diagnostics and the CLI's `schema` subcommand.
func appliedMigrations(db *sql.DB) ([]SchemaMigration, error) {
	rows, err := db.Query(`SELECT version, applied_at, description FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, newQueryFailed("select schema_migrations", err)
	}
	defer rows.Close()

	var out []SchemaMigration
	for rows.Next() {
		var m SchemaMigration
		var appliedAt string
		if err := rows.Scan(&m.Version, &appliedAt, &m.Description); err != nil {
			return nil, err
		}
		m.AppliedAt, _ = parseTimestamp(appliedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
