package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &Node{Name: "Alpha", Content: "first node", NodeType: "note", Tags: []string{"a", "b"}}
	err := s.Transact(ctx, func(ctx context.Context) error {
		return s.CreateNode(ctx, n)
	})
	require.NoError(t, err)
	require.NotEmpty(t, n.ID)
	assert.Equal(t, 1, n.Version)
	assert.Equal(t, 0, n.SyncVersion)

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", got.Name)
	assert.Equal(t, []string{"a", "b"}, got.Tags)
	assert.True(t, got.Active())
}

func TestCreateNodeRequiresName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.Transact(ctx, func(ctx context.Context) error {
		return s.CreateNode(ctx, &Node{Content: "no name"})
	})
	require.Error(t, err)
}

func TestGetNodeNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetNode(context.Background(), "missing")
	require.Error(t, err)
	var nfe *NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

func TestUpdateNodeBumpsVersions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &Node{Name: "Beta"}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateNode(ctx, n) }))

	n.Content = "updated"
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.UpdateNode(ctx, n) }))

	assert.Equal(t, 2, n.Version)
	assert.Equal(t, 1, n.SyncVersion)

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated", got.Content)
}

func TestDeleteNodeIsSoft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &Node{Name: "Gamma"}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateNode(ctx, n) }))
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.DeleteNode(ctx, n.ID) }))

	got, err := s.GetNode(ctx, n.ID)
	require.NoError(t, err)
	assert.False(t, got.Active())
	assert.NotNil(t, got.DeletedAt)

	active, err := s.ListNodes(ctx, NodeFilter{})
	require.NoError(t, err)
	for _, an := range active {
		assert.NotEqual(t, n.ID, an.ID)
	}
}

func TestPurgeNodeIsHard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := mustCreateNode(t, s, "PurgeA")
	b := mustCreateNode(t, s, "PurgeB")
	e := &Edge{EdgeType: EdgeLink, SourceID: a.ID, TargetID: b.ID}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateEdge(ctx, e) }))

	require.NoError(t, s.PurgeNode(ctx, a.ID))

	_, err := s.GetNode(ctx, a.ID)
	require.Error(t, err)
	var nfe *NotFoundError
	assert.ErrorAs(t, err, &nfe)

	_, err = s.GetEdge(ctx, e.ID)
	require.Error(t, err)
}

func TestPurgeNodeNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.PurgeNode(context.Background(), "missing")
	require.Error(t, err)
	var nfe *NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

func TestGetNodeBySource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &Node{Name: "Sourced", Source: "external", SourceID: "ext-1"}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateNode(ctx, n) }))

	got, err := s.GetNodeBySource(ctx, "external", "ext-1")
	require.NoError(t, err)
	assert.Equal(t, n.ID, got.ID)

	_, err = s.GetNodeBySource(ctx, "external", "missing")
	require.Error(t, err)
	var nfe *NotFoundError
	assert.ErrorAs(t, err, &nfe)
}

func TestListNodesFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error {
		if err := s.CreateNode(ctx, &Node{Name: "One", Folder: "work", NodeType: "task"}); err != nil {
			return err
		}
		if err := s.CreateNode(ctx, &Node{Name: "Two", Folder: "home", NodeType: "note"}); err != nil {
			return err
		}
		return s.CreateNode(ctx, &Node{Name: "Three", Folder: "work", NodeType: "note"})
	}))

	work, err := s.ListNodes(ctx, NodeFilter{Folder: "work"})
	require.NoError(t, err)
	assert.Len(t, work, 2)

	tasks, err := s.ListNodes(ctx, NodeFilter{NodeType: "task"})
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
	assert.Equal(t, "One", tasks[0].Name)
}

func TestFacets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := &Node{Name: "Facetted"}
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error { return s.CreateNode(ctx, n) }))

	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error {
		return s.SetFacet(ctx, n.ID, "color", "blue")
	}))
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error {
		return s.SetFacet(ctx, n.ID, "color", "red")
	}))

	facets, err := s.GetFacets(ctx, n.ID)
	require.NoError(t, err)
	require.Len(t, facets, 1)
	assert.Equal(t, "red", facets[0].Value)

	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error {
		return s.DeleteFacet(ctx, n.ID, "color")
	}))
	facets, err = s.GetFacets(ctx, n.ID)
	require.NoError(t, err)
	assert.Empty(t, facets)
}
