package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// sqliteTimeLayout is the canonical format written for every timestamp
// column; parseTimestamp accepts a few extra layouts for leniency when
// reading rows written by other tools.
const sqliteTimeLayout = "2006-01-02 15:04:05.999999999"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func formatTimestampPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTimestamp(*t)
}

func parseTimestamp(s string) (time.Time, error) {
	layouts := []string{
		sqliteTimeLayout,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
		time.RFC3339,
		time.RFC3339Nano,
	}
	var lastErr error
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := parseTimestamp(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

func intPtrOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func encodeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func decodeTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil
	}
	return tags
}

// nodeColumns is the column list in the order scanNode expects.
const nodeColumns = `id, node_type, name, content, summary,
	latitude, longitude, location_name, location_address,
	created_at, modified_at, due_at, completed_at, event_start, event_end,
	folder, tags, status, priority, importance, sort_order,
	source, source_id, source_url,
	deleted_at, version, sync_version, last_synced_at, conflict_resolved_at`

// qualifiedNodeColumns is nodeColumns with every column prefixed by n.,
// for use in queries that join nodes against another table sharing column
// names (e.g. nodes_fts).
const qualifiedNodeColumns = `n.id, n.node_type, n.name, n.content, n.summary,
	n.latitude, n.longitude, n.location_name, n.location_address,
	n.created_at, n.modified_at, n.due_at, n.completed_at, n.event_start, n.event_end,
	n.folder, n.tags, n.status, n.priority, n.importance, n.sort_order,
	n.source, n.source_id, n.source_url,
	n.deleted_at, n.version, n.sync_version, n.last_synced_at, n.conflict_resolved_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanNodeWithScore scans a node row followed by a trailing BM25 score
// column, as produced by the FTS join in Search.
func scanNodeWithScore(r rowScanner) (*Node, float64, error) {
	var score float64
	n, err := scanNode(&scoreTrailingScanner{inner: r, score: &score})
	if err != nil {
		return nil, 0, err
	}
	return n, score, nil
}

// scoreTrailingScanner adapts Scan so scanNode's fixed argument list can be
// extended with one extra trailing destination.
type scoreTrailingScanner struct {
	inner rowScanner
	score *float64
}

func (s *scoreTrailingScanner) Scan(dest ...any) error {
	return s.inner.Scan(append(dest, s.score)...)
}

func scanNode(r rowScanner) (*Node, error) {
	var n Node
	var createdAt, modifiedAt string
	var dueAt, completedAt, eventStart, eventEnd sql.NullString
	var tags string
	var deletedAt, lastSyncedAt, conflictResolvedAt sql.NullString

	if err := r.Scan(
		&n.ID, &n.NodeType, &n.Name, &n.Content, &n.Summary,
		&n.Latitude, &n.Longitude, &n.LocationName, &n.LocationAddress,
		&createdAt, &modifiedAt, &dueAt, &completedAt, &eventStart, &eventEnd,
		&n.Folder, &tags, &n.Status, &n.Priority, &n.Importance, &n.SortOrder,
		&n.Source, &n.SourceID, &n.SourceURL,
		&deletedAt, &n.Version, &n.SyncVersion, &lastSyncedAt, &conflictResolvedAt,
	); err != nil {
		return nil, err
	}

	n.CreatedAt, _ = parseTimestamp(createdAt)
	n.ModifiedAt, _ = parseTimestamp(modifiedAt)
	n.DueAt = parseNullTime(dueAt)
	n.CompletedAt = parseNullTime(completedAt)
	n.EventStart = parseNullTime(eventStart)
	n.EventEnd = parseNullTime(eventEnd)
	n.Tags = decodeTags(tags)
	n.DeletedAt = parseNullTime(deletedAt)
	n.LastSyncedAt = parseNullTime(lastSyncedAt)
	n.ConflictResolvedAt = parseNullTime(conflictResolvedAt)

	return &n, nil
}

// edgeColumns is the column list in the order scanEdge expects.
const edgeColumns = `id, edge_type, source_id, target_id, label, weight, directed,
	sequence_order, channel, timestamp, subject, sync_version, last_synced_version`

func scanEdge(r rowScanner) (*Edge, error) {
	var e Edge
	var edgeType string
	var directed int
	var timestamp sql.NullString
	var lastSyncedVersion sql.NullInt64

	if err := r.Scan(
		&e.ID, &edgeType, &e.SourceID, &e.TargetID, &e.Label, &e.Weight, &directed,
		&e.SequenceOrder, &e.Channel, &timestamp, &e.Subject, &e.SyncVersion, &lastSyncedVersion,
	); err != nil {
		return nil, err
	}

	e.EdgeType = EdgeType(edgeType)
	e.Directed = directed != 0
	e.Timestamp = parseNullTime(timestamp)
	if lastSyncedVersion.Valid {
		v := int(lastSyncedVersion.Int64)
		e.LastSyncedVersion = &v
	}

	return &e, nil
}

// scanNodeWithDepth scans a node row followed by a trailing integer depth
// column, as produced by Reachable's grouped recursive-CTE query.
func scanNodeWithDepth(r rowScanner) (*Node, int, error) {
	var depth int
	n, err := scanNode(&depthTrailingScanner{inner: r, depth: &depth})
	if err != nil {
		return nil, 0, err
	}
	return n, depth, nil
}

// depthTrailingScanner adapts Scan so scanNode's fixed argument list can be
// extended with one extra trailing destination.
type depthTrailingScanner struct {
	inner rowScanner
	depth *int
}

func (s *depthTrailingScanner) Scan(dest ...any) error {
	return s.inner.Scan(append(dest, s.depth)...)
}
