// Package store provides a SQLite-backed, thread-safe labeled property graph
// store: nodes and edges carrying LATCH-taxonomy attributes, full-text search,
// graph algorithms, and a sync layer against a remote record store.
package store

import "time"

// EdgeType enumerates the relationship kinds an Edge may carry.
type EdgeType string

const (
	EdgeLink     EdgeType = "LINK"
	EdgeNest     EdgeType = "NEST"
	EdgeSequence EdgeType = "SEQUENCE"
	EdgeAffinity EdgeType = "AFFINITY"
)

// Node is the primary vertex of the graph: an entity carrying LATCH
// attributes (Location, Alphabet/content, Time, Category, Hierarchy).
type Node struct {
	ID       string `json:"id"`
	NodeType string `json:"nodeType"`

	Name    string `json:"name"`
	Content string `json:"content"`
	Summary string `json:"summary"`

	// L - location
	Latitude        *float64 `json:"latitude,omitempty"`
	Longitude       *float64 `json:"longitude,omitempty"`
	LocationName    string   `json:"locationName,omitempty"`
	LocationAddress string   `json:"locationAddress,omitempty"`

	// T - time
	CreatedAt   time.Time  `json:"createdAt"`
	ModifiedAt  time.Time  `json:"modifiedAt"`
	DueAt       *time.Time `json:"dueAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	EventStart  *time.Time `json:"eventStart,omitempty"`
	EventEnd    *time.Time `json:"eventEnd,omitempty"`

	// C - category
	Folder string   `json:"folder,omitempty"`
	Tags   []string `json:"tags"`
	Status string   `json:"status,omitempty"`

	// H - hierarchy
	Priority   int `json:"priority"`
	Importance int `json:"importance"`
	SortOrder  int `json:"sortOrder"`

	// Provenance
	Source    string `json:"source,omitempty"`
	SourceID  string `json:"sourceId,omitempty"`
	SourceURL string `json:"sourceUrl,omitempty"`

	// Lifecycle
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	Version   int        `json:"version"`

	// Sync
	SyncVersion        int        `json:"syncVersion"`
	LastSyncedAt       *time.Time `json:"lastSyncedAt,omitempty"`
	ConflictResolvedAt *time.Time `json:"conflictResolvedAt,omitempty"`
}

// Active reports whether the node is not soft-deleted.
func (n *Node) Active() bool {
	return n.DeletedAt == nil
}

// Edge is a directed or undirected relationship between two nodes.
type Edge struct {
	ID       string   `json:"id"`
	EdgeType EdgeType `json:"edgeType"`

	SourceID string `json:"sourceId"`
	TargetID string `json:"targetId"`

	Label         string     `json:"label,omitempty"`
	Weight        float64    `json:"weight"`
	Directed      bool       `json:"directed"`
	SequenceOrder int        `json:"sequenceOrder"`
	Channel       string     `json:"channel,omitempty"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
	Subject       string     `json:"subject,omitempty"`

	SyncVersion        int  `json:"syncVersion"`
	LastSyncedVersion  *int `json:"lastSyncedVersion,omitempty"`
}

// SyncState is the singleton (id = "default") tracking the sync cursor and
// health of the bidirectional sync protocol.
type SyncState struct {
	ID                  string     `json:"id"`
	LastSyncToken       []byte     `json:"lastSyncToken,omitempty"`
	LastSyncAt          *time.Time `json:"lastSyncAt,omitempty"`
	PendingChanges      int        `json:"pendingChanges"`
	ConflictCount       int        `json:"conflictCount"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	LastErrorAt         *time.Time `json:"lastErrorAt,omitempty"`
}

// SchemaMigration records one applied migration.
type SchemaMigration struct {
	Version     int       `json:"version"`
	AppliedAt   time.Time `json:"appliedAt"`
	Description string    `json:"description"`
}

// Facet is an open-ended key/value sidecar attached to a node, satisfying the
// `facets` table named in the store's schema contract.
type Facet struct {
	NodeID    string    `json:"nodeId"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChangeEvent describes one committed mutation, aggregated per transaction
// scope and flushed to observers on outer commit.
type ChangeEvent struct {
	Table         string    `json:"table"`
	Op            string    `json:"op"` // insert, update, delete
	RecordID      string    `json:"recordId,omitempty"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
}

// Observer receives committed change events.
type Observer interface {
	NotifyChange(evt ChangeEvent)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(evt ChangeEvent)

func (f ObserverFunc) NotifyChange(evt ChangeEvent) { f(evt) }

// SearchResult is one FTS match, ranked by BM25 score (lower is better).
type SearchResult struct {
	Node  Node    `json:"node"`
	Score float64 `json:"score"`
}

// PathResult is the output of a shortest-path query.
type PathResult struct {
	NodeIDs []string `json:"nodeIds"`
	Weight  float64  `json:"weight"`
}

// ReachableNode is one entry of Reachable's breadth-first result: the node
// reached and the hop count it took to get there from the start node.
type ReachableNode struct {
	Node  *Node `json:"node"`
	Depth int   `json:"depth"`
}

// DraftInfo describes one rollback draft persisted in draft_storage, without
// the preserved operations themselves.
type DraftInfo struct {
	DraftID       string    `json:"draftId"`
	OriginalTxID  string    `json:"originalTxId"`
	CreatedAt     time.Time `json:"createdAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// RollbackResult reports the outcome of one RollbackTransaction call.
type RollbackResult struct {
	TxID             string        `json:"txId"`
	Success          bool          `json:"success"`
	Duration         time.Duration `json:"duration"`
	PreservedDraftID string        `json:"preservedDraftId,omitempty"`
	OpsRolledBack    int           `json:"opsRolledBack"`
	Error            string        `json:"error,omitempty"`
}

// ConflictResolution selects how SyncManager.ResolveConflict settles a
// local/remote discrepancy surfaced during pull.
type ConflictResolution string

const (
	ResolveKeepLocal  ConflictResolution = "keep_local"
	ResolveKeepRemote ConflictResolution = "keep_remote"
	ResolveMerge      ConflictResolution = "merge"
)

// SyncPushResult reports, for one push round, which node and edge ids were
// attempted and which were stamped as synced after reaching the remote.
// RollbackSyncVersions uses Succeeded to clear those synced stamps again.
type SyncPushResult struct {
	Attempted []string `json:"attempted"`
	Succeeded []string `json:"succeeded"`
}
