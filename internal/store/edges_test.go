package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCreateNode(t *testing.T, s *Store, name string) *Node {
	t.Helper()
	n := &Node{Name: name}
	require.NoError(t, s.Transact(context.Background(), func(ctx context.Context) error {
		return s.CreateNode(ctx, n)
	}))
	return n
}

func TestCreateAndGetEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreateNode(t, s, "A")
	b := mustCreateNode(t, s, "B")

	e := &Edge{EdgeType: EdgeLink, SourceID: a.ID, TargetID: b.ID, Directed: true}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateEdge(ctx, e) }))
	require.NotEmpty(t, e.ID)
	assert.Equal(t, 1.0, e.Weight)

	got, err := s.GetEdge(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.SourceID)
	assert.Equal(t, b.ID, got.TargetID)
}

func TestCreateEdgeRequiresExistingNodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := &Edge{EdgeType: EdgeLink, SourceID: "missing-a", TargetID: "missing-b"}
	err := s.Transact(ctx, func(ctx context.Context) error { return s.CreateEdge(ctx, e) })
	require.Error(t, err)
}

func TestNestEdgeRejectsCycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreateNode(t, s, "Parent")
	b := mustCreateNode(t, s, "Child")

	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error {
		return s.CreateEdge(ctx, &Edge{EdgeType: EdgeNest, SourceID: a.ID, TargetID: b.ID, Directed: true})
	}))

	err := s.Transact(ctx, func(ctx context.Context) error {
		return s.CreateEdge(ctx, &Edge{EdgeType: EdgeNest, SourceID: b.ID, TargetID: a.ID, Directed: true})
	})
	require.Error(t, err)
	var cre *CircularReferenceError
	assert.ErrorAs(t, err, &cre)
}

func TestUpdateAndDeleteEdge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreateNode(t, s, "Src")
	b := mustCreateNode(t, s, "Dst")
	e := &Edge{EdgeType: EdgeLink, SourceID: a.ID, TargetID: b.ID}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateEdge(ctx, e) }))

	e.Weight = 5
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.UpdateEdge(ctx, e) }))
	got, err := s.GetEdge(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Weight)
	assert.Equal(t, 1, got.SyncVersion)

	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.DeleteEdge(ctx, e.ID) }))
	_, err = s.GetEdge(ctx, e.ID)
	require.Error(t, err)
}

func TestListEdgesByNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreateNode(t, s, "Hub")
	b := mustCreateNode(t, s, "Leaf1")
	c := mustCreateNode(t, s, "Leaf2")

	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error {
		if err := s.CreateEdge(ctx, &Edge{EdgeType: EdgeLink, SourceID: a.ID, TargetID: b.ID}); err != nil {
			return err
		}
		return s.CreateEdge(ctx, &Edge{EdgeType: EdgeLink, SourceID: a.ID, TargetID: c.ID})
	}))

	edges, err := s.ListEdges(ctx, EdgeFilter{NodeID: a.ID})
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}
