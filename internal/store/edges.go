package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// CreateEdge inserts a new edge between two existing nodes. NEST edges are
// rejected if they would introduce a cycle in the containment hierarchy.
func (s *Store) CreateEdge(ctx context.Context, e *Edge) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Weight == 0 {
		e.Weight = 1.0
	}

	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			if _, err := s.getNodeTx(ctx, c, e.SourceID); err != nil {
				return err
			}
			if _, err := s.getNodeTx(ctx, c, e.TargetID); err != nil {
				return err
			}
			if existing, err := s.getEdgeTx(ctx, c, e.ID); err == nil && existing != nil {
				return &DuplicateError{Entity: "edge", ID: e.ID}
			}

			if e.EdgeType == EdgeNest {
				cyclic, err := s.wouldCreateCycle(ctx, c, e.SourceID, e.TargetID)
				if err != nil {
					return err
				}
				if cyclic {
					return &CircularReferenceError{ID: e.TargetID}
				}
			}

			_, err := c.ExecContext(ctx, `INSERT INTO edges (`+edgeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
				e.ID, string(e.EdgeType), e.SourceID, e.TargetID, e.Label, e.Weight, boolToInt(e.Directed),
				e.SequenceOrder, e.Channel, formatTimestampPtr(e.Timestamp), e.Subject, e.SyncVersion,
				intPtrOrNil(e.LastSyncedVersion),
			)
			if err != nil {
				return newQueryFailed("insert edges", err)
			}
			if scope := scopeFromContext(ctx); scope != nil {
				scope.record(ChangeEvent{Table: "edges", Op: "insert", RecordID: e.ID, Timestamp: time.Now().UTC()})
				scope.recordOp("insert", "edges", e.ID, nil, e)
			}
			return nil
		})
	})
}

// wouldCreateCycle reports whether adding a NEST edge from->to would close a
// cycle, by checking whether to can already reach from via existing NEST
// edges.
func (s *Store) wouldCreateCycle(ctx context.Context, c execer, from, to string) (bool, error) {
	if from == to {
		return true, nil
	}
	const q = `WITH RECURSIVE reach(id) AS (
		SELECT target_id FROM edges WHERE source_id = ? AND edge_type = 'NEST'
		UNION
		SELECT e.target_id FROM edges e JOIN reach r ON e.source_id = r.id WHERE e.edge_type = 'NEST'
	)
	SELECT EXISTS(SELECT 1 FROM reach WHERE id = ?)`
	var exists int
	if err := c.QueryRowContext(ctx, q, to, from).Scan(&exists); err != nil {
		return false, newQueryFailed(q, err)
	}
	return exists != 0, nil
}

// GetEdge fetches one edge by id.
func (s *Store) GetEdge(ctx context.Context, id string) (*Edge, error) {
	var out *Edge
	err := s.withConn(ctx, func(c execer) error {
		e, err := s.getEdgeTx(ctx, c, id)
		if err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

func (s *Store) getEdgeTx(ctx context.Context, c execer, id string) (*Edge, error) {
	row := c.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{Entity: "edge", ID: id}
	}
	if err != nil {
		return nil, newQueryFailed("select edges", err)
	}
	return e, nil
}

// UpdateEdge replaces an edge's mutable fields in place.
func (s *Store) UpdateEdge(ctx context.Context, e *Edge) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			before, err := s.getEdgeTx(ctx, c, e.ID)
			if err != nil {
				return err
			}
			e.SyncVersion++
			_, err = c.ExecContext(ctx, `UPDATE edges SET
				edge_type=?, source_id=?, target_id=?, label=?, weight=?, directed=?,
				sequence_order=?, channel=?, timestamp=?, subject=?, sync_version=?
				WHERE id=?`,
				string(e.EdgeType), e.SourceID, e.TargetID, e.Label, e.Weight, boolToInt(e.Directed),
				e.SequenceOrder, e.Channel, formatTimestampPtr(e.Timestamp), e.Subject, e.SyncVersion,
				e.ID,
			)
			if err != nil {
				return newQueryFailed("update edges", err)
			}
			if scope := scopeFromContext(ctx); scope != nil {
				scope.record(ChangeEvent{Table: "edges", Op: "update", RecordID: e.ID, Timestamp: time.Now().UTC()})
				scope.recordOp("update", "edges", e.ID, before, e)
			}
			return nil
		})
	})
}

// restoreEdgeRaw writes e's columns verbatim, including its own SyncVersion
// and LastSyncedVersion, with no recomputation. Used by the rollback manager
// to restore an exact historical snapshot (UpdateEdge's sync_version bump
// would otherwise make the restored row diverge from the pre-scope state).
func (s *Store) restoreEdgeRaw(ctx context.Context, e *Edge) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			_, err := c.ExecContext(ctx, `UPDATE edges SET
				edge_type=?, source_id=?, target_id=?, label=?, weight=?, directed=?,
				sequence_order=?, channel=?, timestamp=?, subject=?, sync_version=?, last_synced_version=?
				WHERE id=?`,
				string(e.EdgeType), e.SourceID, e.TargetID, e.Label, e.Weight, boolToInt(e.Directed),
				e.SequenceOrder, e.Channel, formatTimestampPtr(e.Timestamp), e.Subject, e.SyncVersion,
				intPtrOrNil(e.LastSyncedVersion), e.ID,
			)
			if err != nil {
				return newQueryFailed("restore edges raw", err)
			}
			if scope := scopeFromContext(ctx); scope != nil {
				scope.record(ChangeEvent{Table: "edges", Op: "update", RecordID: e.ID, Timestamp: time.Now().UTC()})
			}
			return nil
		})
	})
}

// recreateEdgeRaw reinserts e verbatim, including its own id, with no
// cycle-check or default-filling. Used by the rollback manager to undo a
// delete by recreating the exact row that existed before it, distinct from
// CreateEdge which would assign fresh defaults and re-run cycle detection.
func (s *Store) recreateEdgeRaw(ctx context.Context, e *Edge) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			_, err := c.ExecContext(ctx, `INSERT INTO edges (`+edgeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
				e.ID, string(e.EdgeType), e.SourceID, e.TargetID, e.Label, e.Weight, boolToInt(e.Directed),
				e.SequenceOrder, e.Channel, formatTimestampPtr(e.Timestamp), e.Subject, e.SyncVersion,
				intPtrOrNil(e.LastSyncedVersion),
			)
			if err != nil {
				return newQueryFailed("recreate edges raw", err)
			}
			if scope := scopeFromContext(ctx); scope != nil {
				scope.record(ChangeEvent{Table: "edges", Op: "insert", RecordID: e.ID, Timestamp: time.Now().UTC()})
			}
			return nil
		})
	})
}

// touchEdgeSynced stamps last_synced_version on an edge without bumping
// sync_version, confirming a push round reached the remote without treating
// the confirmation itself as a local edit.
func (s *Store) touchEdgeSynced(ctx context.Context, id string, version int) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			_, err := c.ExecContext(ctx, `UPDATE edges SET last_synced_version=? WHERE id=?`, version, id)
			if err != nil {
				return newQueryFailed("touch edges last_synced_version", err)
			}
			return nil
		})
	})
}

// DeleteEdge hard-deletes an edge; edges carry no history so there is no
// soft-delete tier for them.
func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	return s.inWrite(ctx, func(ctx context.Context) error {
		return s.withConn(ctx, func(c execer) error {
			before, err := s.getEdgeTx(ctx, c, id)
			if err != nil {
				return err
			}
			res, err := c.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id)
			if err != nil {
				return newQueryFailed("delete edges", err)
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return &NotFoundError{Entity: "edge", ID: id}
			}
			if scope := scopeFromContext(ctx); scope != nil {
				scope.record(ChangeEvent{Table: "edges", Op: "delete", RecordID: id, Timestamp: time.Now().UTC()})
				scope.recordOp("delete", "edges", id, before, nil)
			}
			return nil
		})
	})
}

// EdgeFilter narrows ListEdges.
type EdgeFilter struct {
	NodeID   string // matches source_id OR target_id
	EdgeType EdgeType
}

// ListEdges returns edges touching NodeID (if set) and/or matching EdgeType.
func (s *Store) ListEdges(ctx context.Context, f EdgeFilter) ([]*Edge, error) {
	query := `SELECT ` + edgeColumns + ` FROM edges WHERE 1=1`
	var args []any
	if f.NodeID != "" {
		query += ` AND (source_id = ? OR target_id = ?)`
		args = append(args, f.NodeID, f.NodeID)
	}
	if f.EdgeType != "" {
		query += ` AND edge_type = ?`
		args = append(args, string(f.EdgeType))
	}
	query += ` ORDER BY sequence_order, id`

	var out []*Edge
	err := s.withConn(ctx, func(c execer) error {
		rows, err := c.QueryContext(ctx, query, args...)
		if err != nil {
			return newQueryFailed(query, err)
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEdge(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// CountEdges returns the total number of edges.
func (s *Store) CountEdges(ctx context.Context) (int, error) {
	var count int
	err := s.withConn(ctx, func(c execer) error {
		return c.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&count)
	})
	return count, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
