package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/kittclouds/graphstore/internal/synctransport"
)

// SyncStatus is the sync manager's state machine position.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncRunning SyncStatus = "syncing"
	SyncError   SyncStatus = "error"
	SyncOffline SyncStatus = "offline"
)

// SyncManager drives bidirectional sync between the local store and a
// synctransport.RemoteStore, resolving conflicts by last-writer-wins on
// sync_version and guaranteeing only one sync runs at a time.
type SyncManager struct {
	store  *Store
	remote synctransport.RemoteStore
	zone   string

	group  singleflight.Group
	mu     sync.RWMutex
	status SyncStatus
}

func newSyncManager(s *Store, remote synctransport.RemoteStore, zone string) *SyncManager {
	return &SyncManager{store: s, remote: remote, zone: zone, status: SyncIdle}
}

// Status returns the sync manager's current state.
func (m *SyncManager) Status() SyncStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *SyncManager) setStatus(s SyncStatus) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

// Sync pushes local changes and pulls remote changes, reconciling conflicts.
// Concurrent calls collapse into a single in-flight sync via singleflight;
// callers that arrive mid-sync simply wait for and share its result.
func (m *SyncManager) Sync(ctx context.Context) error {
	_, err, _ := m.group.Do("sync", func() (any, error) {
		return nil, m.runWithRetry(ctx)
	})
	return err
}

// runWithRetry attempts a full push+pull cycle up to 3 times with
// exponential backoff, matching the sync manager's retry budget.
func (m *SyncManager) runWithRetry(ctx context.Context) error {
	m.setStatus(SyncRunning)

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2) // 3 total attempts
	err := backoff.Retry(func() error {
		if err := m.syncOnce(ctx); err != nil {
			if _, ok := err.(*SyncTransportError); ok {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(b, ctx))

	if err != nil {
		m.recordFailure(ctx, err)
		return err
	}

	m.setStatus(SyncIdle)
	return nil
}

func (m *SyncManager) syncOnce(ctx context.Context) error {
	if err := m.remote.EnsureZone(ctx, m.zone); err != nil {
		return &SyncTransportError{Cause: err}
	}

	state, err := m.store.getSyncState(ctx)
	if err != nil {
		return err
	}

	pushed, err := m.push(ctx, state)
	if err != nil {
		return err
	}
	if err := m.pull(ctx, state); err != nil {
		// The round did not complete: undo the optimistic last_synced_at stamp
		// on anything this push round confirmed, so it is reconsidered next
		// round instead of silently believed synced.
		if rerr := m.RollbackSyncVersions(ctx, pushed); rerr != nil {
			m.store.log.Warn().Err(rerr).Msg("failed to roll back sync confirmation after pull failure")
		}
		return err
	}

	now := time.Now().UTC()
	state.LastSyncAt = &now
	state.PendingChanges = 0
	state.ConsecutiveFailures = 0
	state.LastError = ""
	return m.store.putSyncState(ctx, state)
}

// push sends every node modified after the store-wide last successful sync
// (sync_state.last_sync_at; a node's own last_synced_at column is not
// consulted when selecting) and every edge whose sync_version is newer than
// its own last_synced_version watermark, then stamps each as synced without
// bumping version or sync_version further.
func (m *SyncManager) push(ctx context.Context, state *SyncState) (SyncPushResult, error) {
	var result SyncPushResult

	nodes, err := m.store.ListNodes(ctx, NodeFilter{IncludeDeleted: true})
	if err != nil {
		return result, err
	}
	var pendingNodes []*Node
	var nodeRecords []synctransport.Record
	for _, n := range nodes {
		if state.LastSyncAt != nil && !n.ModifiedAt.After(*state.LastSyncAt) {
			continue
		}
		pendingNodes = append(pendingNodes, n)
		nodeRecords = append(nodeRecords, nodeToRecord(n))
		result.Attempted = append(result.Attempted, n.ID)
	}

	edges, err := m.store.ListEdges(ctx, EdgeFilter{})
	if err != nil {
		return result, err
	}
	var pendingEdges []*Edge
	var edgeRecords []synctransport.Record
	for _, e := range edges {
		watermark := -1
		if e.LastSyncedVersion != nil {
			watermark = *e.LastSyncedVersion
		}
		if e.SyncVersion <= watermark {
			continue
		}
		pendingEdges = append(pendingEdges, e)
		edgeRecords = append(edgeRecords, edgeToRecord(e))
		result.Attempted = append(result.Attempted, e.ID)
	}

	pending := append(nodeRecords, edgeRecords...)
	if len(pending) == 0 {
		return result, nil
	}
	if err := m.remote.ModifyRecords(ctx, m.zone, pending); err != nil {
		return result, &SyncTransportError{Cause: err}
	}

	now := time.Now().UTC()
	err = m.store.txn.Transact(ctx, func(ctx context.Context) error {
		for _, n := range pendingNodes {
			if err := m.store.touchSynced(ctx, n.ID, now); err != nil {
				return err
			}
			result.Succeeded = append(result.Succeeded, n.ID)
		}
		for _, e := range pendingEdges {
			if err := m.store.touchEdgeSynced(ctx, e.ID, e.SyncVersion); err != nil {
				return err
			}
			result.Succeeded = append(result.Succeeded, e.ID)
		}
		return nil
	})
	return result, err
}

// pull fetches remote changes and applies last-writer-wins conflict
// resolution to nodes: the side with the higher version counter wins, and a
// local node that loses gets the remote fields applied, plus a
// ConflictResolvedAt stamp if its sync_version is non-zero. Edges are
// applied without a version comparison.
func (m *SyncManager) pull(ctx context.Context, state *SyncState) error {
	changes, err := m.remote.FetchZoneChanges(ctx, m.zone, state.LastSyncToken)
	if err != nil {
		return &SyncTransportError{Cause: err}
	}
	state.LastSyncToken = []byte(changes.Token)

	for _, rec := range changes.Records {
		switch rec.Table {
		case "", "nodes":
			if err := m.applyRemoteNode(ctx, rec, state); err != nil {
				return err
			}
		case "edges":
			if err := m.applyRemoteEdge(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *SyncManager) applyRemoteNode(ctx context.Context, rec synctransport.Record, state *SyncState) error {
	local, err := m.store.GetNode(ctx, rec.ID)
	if err != nil {
		if _, ok := err.(*NotFoundError); ok {
			if rec.Deleted {
				return nil
			}
			n := recordToNode(rec)
			return m.store.CreateNode(ctx, n)
		}
		return err
	}

	if rec.Deleted {
		now := time.Now().UTC()
		local.DeletedAt = &now
		return m.store.UpdateNode(ctx, local)
	}

	if local.SyncVersion >= rec.Version {
		return nil // local wins, nothing to apply
	}

	// local.SyncVersion != 0 means this node has been edited locally at least
	// once, and the incoming remote version is about to overwrite it:
	// last-writer-wins resolves in the remote's favor (it carries the higher
	// version), but we still record that a conflict happened.
	conflict := local.SyncVersion != 0
	incoming := recordToNode(rec)
	incoming.ID = local.ID
	now := time.Now().UTC()
	if conflict {
		incoming.ConflictResolvedAt = &now
		state.ConflictCount++
	}
	return m.store.UpdateNode(ctx, incoming)
}

func (m *SyncManager) applyRemoteEdge(ctx context.Context, rec synctransport.Record) error {
	local, err := m.store.GetEdge(ctx, rec.ID)
	if err != nil {
		if _, ok := err.(*NotFoundError); ok {
			if rec.Deleted {
				return nil
			}
			return m.store.CreateEdge(ctx, recordToEdge(rec))
		}
		return err
	}

	if rec.Deleted {
		return m.store.DeleteEdge(ctx, local.ID)
	}

	// Write the edge as the remote holds it, already synced at the remote's
	// version, so pulling it back is not counted as a further local edit.
	incoming := recordToEdge(rec)
	incoming.ID = local.ID
	synced := rec.Version
	incoming.LastSyncedVersion = &synced
	return m.store.restoreEdgeRaw(ctx, incoming)
}

// ResolveConflict settles a local/remote discrepancy surfaced by pull in the
// caller's chosen direction, for cases where automatic last-writer-wins is
// not the desired outcome.
func (m *SyncManager) ResolveConflict(ctx context.Context, nodeID string, remote synctransport.Record, resolution ConflictResolution) error {
	local, err := m.store.GetNode(ctx, nodeID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	switch resolution {
	case ResolveKeepLocal:
		local.ConflictResolvedAt = &now
		return m.store.UpdateNode(ctx, local)
	case ResolveKeepRemote:
		incoming := recordToNode(remote)
		incoming.ID = local.ID
		incoming.ConflictResolvedAt = &now
		return m.store.UpdateNode(ctx, incoming)
	case ResolveMerge:
		merged := recordToNode(remote)
		merged.ID = local.ID
		if merged.Name == "" {
			merged.Name = local.Name
		}
		if merged.Content == "" {
			merged.Content = local.Content
		}
		if merged.NodeType == "" {
			merged.NodeType = local.NodeType
		}
		if merged.Folder == "" {
			merged.Folder = local.Folder
		}
		merged.ConflictResolvedAt = &now
		return m.store.UpdateNode(ctx, merged)
	default:
		return &QueryError{SQL: "resolve conflict", Cause: errUnknownResolution}
	}
}

// MarkSynced stamps last_synced_at on every given node id in one write scope,
// for callers driving their own push protocol outside of Sync.
func (m *SyncManager) MarkSynced(ctx context.Context, ids []string) error {
	now := time.Now().UTC()
	return m.store.txn.Transact(ctx, func(ctx context.Context) error {
		for _, id := range ids {
			if err := m.store.touchSynced(ctx, id, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// RollbackSyncVersions undoes the optimistic "mark synced" effect of a push
// round for every id it reported as succeeded, so they are reconsidered for
// push next round instead of being incorrectly believed synced.
func (m *SyncManager) RollbackSyncVersions(ctx context.Context, result SyncPushResult) error {
	return m.store.txn.Transact(ctx, func(ctx context.Context) error {
		for _, id := range result.Succeeded {
			if n, err := m.store.GetNode(ctx, id); err == nil {
				n.LastSyncedAt = nil
				if err := m.store.restoreNodeRaw(ctx, n); err != nil {
					return err
				}
				continue
			}
			if e, err := m.store.GetEdge(ctx, id); err == nil {
				e.LastSyncedVersion = nil
				if err := m.store.restoreEdgeRaw(ctx, e); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (m *SyncManager) recordFailure(ctx context.Context, syncErr error) {
	state, err := m.store.getSyncState(ctx)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	state.ConsecutiveFailures++
	state.LastError = syncErr.Error()
	state.LastErrorAt = &now
	_ = m.store.putSyncState(ctx, state)

	if state.ConsecutiveFailures >= 3 {
		m.setStatus(SyncOffline)
	} else {
		m.setStatus(SyncError)
	}
}

func nodeToRecord(n *Node) synctransport.Record {
	return synctransport.Record{
		ID:    n.ID,
		Table: "nodes",
		Fields: map[string]any{
			"name":       n.Name,
			"content":    n.Content,
			"nodeType":   n.NodeType,
			"folder":     n.Folder,
			"tags":       n.Tags,
			"modifiedAt": n.ModifiedAt,
		},
		Version: n.SyncVersion,
		Deleted: n.DeletedAt != nil,
	}
}

func recordToNode(rec synctransport.Record) *Node {
	n := &Node{ID: rec.ID, SyncVersion: rec.Version}
	if v, ok := rec.Fields["name"].(string); ok {
		n.Name = v
	}
	if v, ok := rec.Fields["content"].(string); ok {
		n.Content = v
	}
	if v, ok := rec.Fields["nodeType"].(string); ok {
		n.NodeType = v
	}
	if v, ok := rec.Fields["folder"].(string); ok {
		n.Folder = v
	}
	if rec.Deleted {
		now := time.Now().UTC()
		n.DeletedAt = &now
	}
	return n
}

func edgeToRecord(e *Edge) synctransport.Record {
	return synctransport.Record{
		ID:    e.ID,
		Table: "edges",
		Fields: map[string]any{
			"edgeType":      string(e.EdgeType),
			"sourceId":      e.SourceID,
			"targetId":      e.TargetID,
			"label":         e.Label,
			"weight":        e.Weight,
			"directed":      e.Directed,
			"sequenceOrder": e.SequenceOrder,
			"channel":       e.Channel,
			"subject":       e.Subject,
		},
		Version: e.SyncVersion,
		Deleted: false,
	}
}

func recordToEdge(rec synctransport.Record) *Edge {
	e := &Edge{ID: rec.ID, SyncVersion: rec.Version, Weight: 1.0, Directed: true}
	if v, ok := rec.Fields["edgeType"].(string); ok {
		e.EdgeType = EdgeType(v)
	}
	if v, ok := rec.Fields["sourceId"].(string); ok {
		e.SourceID = v
	}
	if v, ok := rec.Fields["targetId"].(string); ok {
		e.TargetID = v
	}
	if v, ok := rec.Fields["label"].(string); ok {
		e.Label = v
	}
	if v, ok := rec.Fields["weight"].(float64); ok {
		e.Weight = v
	}
	if v, ok := rec.Fields["directed"].(bool); ok {
		e.Directed = v
	}
	if v, ok := rec.Fields["sequenceOrder"].(float64); ok {
		e.SequenceOrder = int(v)
	}
	if v, ok := rec.Fields["channel"].(string); ok {
		e.Channel = v
	}
	if v, ok := rec.Fields["subject"].(string); ok {
		e.Subject = v
	}
	return e
}

func (s *Store) getSyncState(ctx context.Context) (*SyncState, error) {
	var out *SyncState
	err := s.withConn(ctx, func(c execer) error {
		row := c.QueryRowContext(ctx, `SELECT id, last_sync_token, last_sync_at, pending_changes,
			conflict_count, consecutive_failures, last_error, last_error_at FROM sync_state WHERE id = 'default'`)
		var st SyncState
		var lastSyncAt, lastErrorAt sql.NullString
		var token []byte
		if err := row.Scan(&st.ID, &token, &lastSyncAt, &st.PendingChanges,
			&st.ConflictCount, &st.ConsecutiveFailures, &st.LastError, &lastErrorAt); err != nil {
			return newQueryFailed("select sync_state", err)
		}
		st.LastSyncToken = token
		st.LastSyncAt = parseNullTime(lastSyncAt)
		st.LastErrorAt = parseNullTime(lastErrorAt)
		out = &st
		return nil
	})
	return out, err
}

func (s *Store) putSyncState(ctx context.Context, st *SyncState) error {
	return s.withConn(ctx, func(c execer) error {
		_, err := c.ExecContext(ctx, `UPDATE sync_state SET last_sync_token=?, last_sync_at=?, pending_changes=?,
			conflict_count=?, consecutive_failures=?, last_error=?, last_error_at=? WHERE id='default'`,
			st.LastSyncToken, formatTimestampPtr(st.LastSyncAt), st.PendingChanges,
			st.ConflictCount, st.ConsecutiveFailures, st.LastError, formatTimestampPtr(st.LastErrorAt),
		)
		if err != nil {
			return newQueryFailed("update sync_state", err)
		}
		return nil
	})
}
