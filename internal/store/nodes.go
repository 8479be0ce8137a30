package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// execer is satisfied by both *sql.Tx and *sql.DB, letting CRUD methods run
// unmodified whether or not a write scope is active on the context.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withConn runs fn against the active write scope's transaction, or against
// a shared read lease on the engine when ctx carries no scope.
func (s *Store) withConn(ctx context.Context, fn func(execer) error) error {
	if tx := txOrNil(ctx); tx != nil {
		return fn(tx)
	}
	var ferr error
	if err := s.eng.withRead(func(db *sql.DB) error {
		ferr = fn(db)
		return nil
	}); err != nil {
		return err
	}
	return ferr
}

// inWrite ensures fn runs under the engine's exclusive write lease, starting
// a transaction scope if ctx does not already carry one. Flat nesting makes
// this safe to call from code that is already inside a Transact call, so
// every mutating CRUD method can call it unconditionally instead of relying
// on the caller to remember to wrap writes in Transact (§5 single-writer
// discipline).
func (s *Store) inWrite(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.txn.Transact(ctx, fn)
}

// CreateNode inserts a new node, assigning an id via uuid if the caller left
// one unset. Version starts at 1; sync_version starts at 0 (never synced).
func (s *Store) CreateNode(ctx context.Context, n *Node) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Name == "" {
		return &QueryError{SQL: "insert nodes", Cause: errNodeNameRequired}
	}
	now := time.Now().UTC()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.ModifiedAt = now
	n.Version = 1
	n.SyncVersion = 0

	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			existing, err := s.getNodeTx(ctx, c, n.ID)
			if err == nil && existing != nil {
				return &DuplicateError{Entity: "node", ID: n.ID}
			}
			_, err = c.ExecContext(ctx, `INSERT INTO nodes (`+nodeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
				n.ID, n.NodeType, n.Name, n.Content, n.Summary,
				n.Latitude, n.Longitude, n.LocationName, n.LocationAddress,
				formatTimestamp(n.CreatedAt), formatTimestamp(n.ModifiedAt),
				formatTimestampPtr(n.DueAt), formatTimestampPtr(n.CompletedAt),
				formatTimestampPtr(n.EventStart), formatTimestampPtr(n.EventEnd),
				n.Folder, encodeTags(n.Tags), n.Status, n.Priority, n.Importance, n.SortOrder,
				n.Source, n.SourceID, n.SourceURL,
				formatTimestampPtr(n.DeletedAt), n.Version, n.SyncVersion,
				formatTimestampPtr(n.LastSyncedAt), formatTimestampPtr(n.ConflictResolvedAt),
			)
			if err != nil {
				return newQueryFailed("insert nodes", err)
			}
			if scope := scopeFromContext(ctx); scope != nil {
				scope.record(ChangeEvent{Table: "nodes", Op: "insert", RecordID: n.ID, Timestamp: now})
				scope.recordOp("insert", "nodes", n.ID, nil, n)
			}
			return nil
		})
	})
}

// UpdateNode persists a modified node, bumping version and sync_version.
// The caller must have fetched n from GetNode first; version is not
// optimistically checked against the stored row (no concurrent local writer
// exists under the single-writer model, see the concurrency section).
func (s *Store) UpdateNode(ctx context.Context, n *Node) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			existing, err := s.getNodeTx(ctx, c, n.ID)
			if err != nil {
				return err
			}
			n.Version = existing.Version + 1
			n.SyncVersion = existing.SyncVersion + 1
			n.ModifiedAt = time.Now().UTC()

			_, err = c.ExecContext(ctx, `UPDATE nodes SET
				node_type=?, name=?, content=?, summary=?,
				latitude=?, longitude=?, location_name=?, location_address=?,
				modified_at=?, due_at=?, completed_at=?, event_start=?, event_end=?,
				folder=?, tags=?, status=?, priority=?, importance=?, sort_order=?,
				source=?, source_id=?, source_url=?,
				deleted_at=?, version=?, sync_version=?, last_synced_at=?, conflict_resolved_at=?
				WHERE id=?`,
				n.NodeType, n.Name, n.Content, n.Summary,
				n.Latitude, n.Longitude, n.LocationName, n.LocationAddress,
				formatTimestamp(n.ModifiedAt), formatTimestampPtr(n.DueAt), formatTimestampPtr(n.CompletedAt),
				formatTimestampPtr(n.EventStart), formatTimestampPtr(n.EventEnd),
				n.Folder, encodeTags(n.Tags), n.Status, n.Priority, n.Importance, n.SortOrder,
				n.Source, n.SourceID, n.SourceURL,
				formatTimestampPtr(n.DeletedAt), n.Version, n.SyncVersion,
				formatTimestampPtr(n.LastSyncedAt), formatTimestampPtr(n.ConflictResolvedAt),
				n.ID,
			)
			if err != nil {
				return newQueryFailed("update nodes", err)
			}
			if scope := scopeFromContext(ctx); scope != nil {
				opType := "update"
				if existing.DeletedAt == nil && n.DeletedAt != nil {
					opType = "delete"
				}
				scope.record(ChangeEvent{Table: "nodes", Op: opType, RecordID: n.ID, Timestamp: n.ModifiedAt})
				scope.recordOp(opType, "nodes", n.ID, existing, n)
			}
			return nil
		})
	})
}

// restoreNodeRaw writes n's columns verbatim, including its own Version,
// ModifiedAt and SyncVersion, with no recomputation. Used by the rollback
// manager to restore an exact historical snapshot (UpdateNode's version-bump
// would otherwise make the restored row diverge from the pre-scope state),
// and by sync-version correction, which must set sync_version to a specific
// value rather than bump it.
func (s *Store) restoreNodeRaw(ctx context.Context, n *Node) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			_, err := c.ExecContext(ctx, `UPDATE nodes SET
				node_type=?, name=?, content=?, summary=?,
				latitude=?, longitude=?, location_name=?, location_address=?,
				created_at=?, modified_at=?, due_at=?, completed_at=?, event_start=?, event_end=?,
				folder=?, tags=?, status=?, priority=?, importance=?, sort_order=?,
				source=?, source_id=?, source_url=?,
				deleted_at=?, version=?, sync_version=?, last_synced_at=?, conflict_resolved_at=?
				WHERE id=?`,
				n.NodeType, n.Name, n.Content, n.Summary,
				n.Latitude, n.Longitude, n.LocationName, n.LocationAddress,
				formatTimestamp(n.CreatedAt), formatTimestamp(n.ModifiedAt), formatTimestampPtr(n.DueAt), formatTimestampPtr(n.CompletedAt),
				formatTimestampPtr(n.EventStart), formatTimestampPtr(n.EventEnd),
				n.Folder, encodeTags(n.Tags), n.Status, n.Priority, n.Importance, n.SortOrder,
				n.Source, n.SourceID, n.SourceURL,
				formatTimestampPtr(n.DeletedAt), n.Version, n.SyncVersion,
				formatTimestampPtr(n.LastSyncedAt), formatTimestampPtr(n.ConflictResolvedAt),
				n.ID,
			)
			if err != nil {
				return newQueryFailed("restore nodes raw", err)
			}
			if scope := scopeFromContext(ctx); scope != nil {
				scope.record(ChangeEvent{Table: "nodes", Op: "update", RecordID: n.ID, Timestamp: time.Now().UTC()})
			}
			return nil
		})
	})
}

// touchSynced stamps last_synced_at on a node without bumping version or
// sync_version, confirming a push round reached the remote without treating
// the confirmation itself as a local edit.
func (s *Store) touchSynced(ctx context.Context, id string, at time.Time) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			_, err := c.ExecContext(ctx, `UPDATE nodes SET last_synced_at=? WHERE id=?`, formatTimestamp(at), id)
			if err != nil {
				return newQueryFailed("touch nodes last_synced_at", err)
			}
			return nil
		})
	})
}

// UpsertNode creates n if it does not exist, otherwise updates it. The
// existence check and the delegated write each take their own lease (rather
// than sharing one held across both), since CreateNode/UpdateNode acquire
// the exclusive write lease themselves and a read lease held by this method
// across that call would self-deadlock against it.
func (s *Store) UpsertNode(ctx context.Context, n *Node) error {
	if n.ID != "" {
		if existing, err := s.GetNode(ctx, n.ID); err == nil && existing != nil {
			return s.UpdateNode(ctx, n)
		}
	}
	return s.CreateNode(ctx, n)
}

// GetNode fetches one node by id, including soft-deleted ones (callers that
// want only active nodes should check Active()).
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	var out *Node
	err := s.withConn(ctx, func(c execer) error {
		n, err := s.getNodeTx(ctx, c, id)
		if err != nil {
			return err
		}
		out = n
		return nil
	})
	return out, err
}

func (s *Store) getNodeTx(ctx context.Context, c execer, id string) (*Node, error) {
	row := c.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "node", ID: id}
	}
	if err != nil {
		return nil, newQueryFailed("select nodes", err)
	}
	return n, nil
}

// DeleteNode soft-deletes a node by setting deleted_at, per the invariant
// that deletion never removes history or breaks edges pointing at it.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		existing, err := s.GetNode(ctx, id)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		existing.DeletedAt = &now
		return s.UpdateNode(ctx, existing)
	})
}

// PurgeNode permanently removes a node row and, via the edges table's
// ON DELETE CASCADE foreign keys, every edge touching it. Unlike DeleteNode
// this is irreversible and leaves no tombstone.
func (s *Store) PurgeNode(ctx context.Context, id string) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			res, err := c.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id)
			if err != nil {
				return newQueryFailed("purge nodes", err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return &NotFoundError{Entity: "node", ID: id}
			}
			if scope := scopeFromContext(ctx); scope != nil {
				scope.record(ChangeEvent{Table: "nodes", Op: "delete", RecordID: id, Timestamp: time.Now().UTC()})
			}
			return nil
		})
	})
}

// GetNodeBySource looks up the node carrying the given (source, source_id)
// provenance pair, enforced unique by idx_nodes_source_unique.
func (s *Store) GetNodeBySource(ctx context.Context, source, sourceID string) (*Node, error) {
	var out *Node
	err := s.withConn(ctx, func(c execer) error {
		row := c.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE source = ? AND source_id = ?`, source, sourceID)
		n, err := scanNode(row)
		if err == sql.ErrNoRows {
			return &NotFoundError{Entity: "node", ID: source + "/" + sourceID}
		}
		if err != nil {
			return newQueryFailed("select nodes by source", err)
		}
		out = n
		return nil
	})
	return out, err
}

// NodeFilter narrows ListNodes by folder and/or node type; zero value lists
// every active node.
type NodeFilter struct {
	Folder         string
	NodeType       string
	IncludeDeleted bool
	Limit          int
}

// ListNodes returns nodes matching the filter (active ones only, unless
// IncludeDeleted is set), ordered by sort_order then name.
func (s *Store) ListNodes(ctx context.Context, f NodeFilter) ([]*Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE 1=1`
	var args []any
	if !f.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if f.Folder != "" {
		query += ` AND folder = ?`
		args = append(args, f.Folder)
	}
	if f.NodeType != "" {
		query += ` AND node_type = ?`
		args = append(args, f.NodeType)
	}
	query += ` ORDER BY sort_order, name`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var out []*Node
	err := s.withConn(ctx, func(c execer) error {
		rows, err := c.QueryContext(ctx, query, args...)
		if err != nil {
			return newQueryFailed(query, err)
		}
		defer rows.Close()
		for rows.Next() {
			n, err := scanNode(rows)
			if err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	return out, err
}

// CountNodes returns the number of active nodes.
func (s *Store) CountNodes(ctx context.Context) (int, error) {
	var count int
	err := s.withConn(ctx, func(c execer) error {
		return c.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes WHERE deleted_at IS NULL`).Scan(&count)
	})
	return count, err
}

// SetFacet upserts an open-ended key/value attribute on a node.
func (s *Store) SetFacet(ctx context.Context, nodeID, key, value string) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			if _, err := s.getNodeTx(ctx, c, nodeID); err != nil {
				return err
			}
			_, err := c.ExecContext(ctx, `INSERT INTO facets (node_id, key, value, updated_at) VALUES (?,?,?,?)
				ON CONFLICT(node_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
				nodeID, key, value, formatTimestamp(time.Now()))
			if err != nil {
				return newQueryFailed("upsert facets", err)
			}
			if scope := scopeFromContext(ctx); scope != nil {
				scope.record(ChangeEvent{Table: "facets", Op: "insert", RecordID: nodeID, Timestamp: time.Now().UTC()})
			}
			return nil
		})
	})
}

// GetFacets returns every facet attached to a node.
func (s *Store) GetFacets(ctx context.Context, nodeID string) ([]Facet, error) {
	var out []Facet
	err := s.withConn(ctx, func(c execer) error {
		rows, err := c.QueryContext(ctx, `SELECT node_id, key, value, updated_at FROM facets WHERE node_id = ? ORDER BY key`, nodeID)
		if err != nil {
			return newQueryFailed("select facets", err)
		}
		defer rows.Close()
		for rows.Next() {
			var f Facet
			var updatedAt string
			if err := rows.Scan(&f.NodeID, &f.Key, &f.Value, &updatedAt); err != nil {
				return err
			}
			f.UpdatedAt, _ = parseTimestamp(updatedAt)
			out = append(out, f)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteFacet removes one facet key from a node.
func (s *Store) DeleteFacet(ctx context.Context, nodeID, key string) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			_, err := c.ExecContext(ctx, `DELETE FROM facets WHERE node_id = ? AND key = ?`, nodeID, key)
			if err != nil {
				return newQueryFailed("delete facets", err)
			}
			return nil
		})
	})
}
