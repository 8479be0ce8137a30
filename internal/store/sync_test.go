package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/graphstore/internal/synctransport"
)

func newSyncedStore(t *testing.T) (*Store, *synctransport.MemoryStore) {
	t.Helper()
	remote := synctransport.NewMemoryStore()
	s, err := Open(DefaultEngineConfig(""), WithRemote(remote, "test-zone"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, remote
}

func TestSyncPushesLocalNodes(t *testing.T) {
	s, remote := newSyncedStore(t)
	ctx := context.Background()

	n := &Node{Name: "Pushed"}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateNode(ctx, n) }))

	require.NoError(t, s.Sync().Sync(ctx))
	assert.Equal(t, SyncIdle, s.Sync().Status())

	changes, err := remote.FetchZoneChanges(ctx, "test-zone", nil)
	require.NoError(t, err)
	require.Len(t, changes.Records, 1)
	assert.Equal(t, n.ID, changes.Records[0].ID)
}

func TestSyncPullsRemoteNodes(t *testing.T) {
	s, remote := newSyncedStore(t)
	ctx := context.Background()

	require.NoError(t, remote.EnsureZone(ctx, "test-zone"))
	require.NoError(t, remote.ModifyRecords(ctx, "test-zone", []synctransport.Record{
		{ID: "remote-1", Table: "nodes", Version: 1, Fields: map[string]any{"name": "FromRemote"}},
	}))

	require.NoError(t, s.Sync().Sync(ctx))

	got, err := s.GetNode(ctx, "remote-1")
	require.NoError(t, err)
	assert.Equal(t, "FromRemote", got.Name)
}

func TestSyncConflictRemoteWinsAndIsFlagged(t *testing.T) {
	s, remote := newSyncedStore(t)
	ctx := context.Background()

	n := &Node{Name: "Local"}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateNode(ctx, n) }))
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error {
		n.Content = "edited locally"
		return s.UpdateNode(ctx, n)
	}))
	require.Equal(t, 1, n.SyncVersion)

	require.NoError(t, remote.EnsureZone(ctx, "test-zone"))
	require.NoError(t, remote.ModifyRecords(ctx, "test-zone", []synctransport.Record{
		{ID: n.ID, Table: "nodes", Version: 5, Fields: map[string]any{"name": "Remote Wins"}},
	}))

	require.NoError(t, s.Sync().Sync(ctx))

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Remote Wins", got.Name)
	assert.NotNil(t, got.ConflictResolvedAt)
}

func TestSyncPushesLocalEdges(t *testing.T) {
	s, remote := newSyncedStore(t)
	ctx := context.Background()

	a := mustCreateNode(t, s, "EA")
	b := mustCreateNode(t, s, "EB")
	e := &Edge{EdgeType: EdgeLink, SourceID: a.ID, TargetID: b.ID}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateEdge(ctx, e) }))

	require.NoError(t, s.Sync().Sync(ctx))

	changes, err := remote.FetchZoneChanges(ctx, "test-zone", nil)
	require.NoError(t, err)

	var sawEdge bool
	for _, rec := range changes.Records {
		if rec.ID == e.ID && rec.Table == "edges" {
			sawEdge = true
		}
	}
	assert.True(t, sawEdge)

	got, err := s.GetEdge(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncedVersion)
	assert.Equal(t, got.SyncVersion, *got.LastSyncedVersion)
}

func TestSyncPullsRemoteEdges(t *testing.T) {
	s, remote := newSyncedStore(t)
	ctx := context.Background()

	a := mustCreateNode(t, s, "RA")
	b := mustCreateNode(t, s, "RB")

	require.NoError(t, remote.EnsureZone(ctx, "test-zone"))
	require.NoError(t, remote.ModifyRecords(ctx, "test-zone", []synctransport.Record{
		{ID: "remote-edge-1", Table: "edges", Version: 1, Fields: map[string]any{
			"edgeType": "LINK", "sourceId": a.ID, "targetId": b.ID,
		}},
	}))

	require.NoError(t, s.Sync().Sync(ctx))

	got, err := s.GetEdge(ctx, "remote-edge-1")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.SourceID)
	assert.Equal(t, b.ID, got.TargetID)
}

func TestMarkSyncedStampsLastSyncedAt(t *testing.T) {
	s, _ := newSyncedStore(t)
	ctx := context.Background()

	n := &Node{Name: "ToMark"}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateNode(ctx, n) }))

	require.NoError(t, s.Sync().MarkSynced(ctx, []string{n.ID}))

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastSyncedAt)
}

func TestResolveConflictKeepLocal(t *testing.T) {
	s, _ := newSyncedStore(t)
	ctx := context.Background()

	n := &Node{Name: "KeepMe"}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateNode(ctx, n) }))

	remote := synctransport.Record{ID: n.ID, Table: "nodes", Version: 9, Fields: map[string]any{"name": "RemoteName"}}
	require.NoError(t, s.Sync().ResolveConflict(ctx, n.ID, remote, ResolveKeepLocal))

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "KeepMe", got.Name)
	assert.NotNil(t, got.ConflictResolvedAt)
}

func TestSyncIsSerializedUnderConcurrentCalls(t *testing.T) {
	s, _ := newSyncedStore(t)
	ctx := context.Background()

	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() { errs <- s.Sync().Sync(ctx) }()
	}
	for i := 0; i < 4; i++ {
		require.NoError(t, <-errs)
	}
	assert.Equal(t, SyncIdle, s.Sync().Status())
}
