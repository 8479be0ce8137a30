package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chain(t *testing.T, s *Store) (a, b, c *Node) {
	t.Helper()
	ctx := context.Background()
	a = mustCreateNode(t, s, "A")
	b = mustCreateNode(t, s, "B")
	c = mustCreateNode(t, s, "C")
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error {
		if err := s.CreateEdge(ctx, &Edge{EdgeType: EdgeLink, SourceID: a.ID, TargetID: b.ID, Directed: true, Weight: 2}); err != nil {
			return err
		}
		return s.CreateEdge(ctx, &Edge{EdgeType: EdgeLink, SourceID: b.ID, TargetID: c.ID, Directed: true, Weight: 3})
	}))
	return a, b, c
}

func TestNeighborsFollowsInboundRule(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b, _ := chain(t, s)

	neighborsOfB, err := s.Neighbors(ctx, b.ID)
	require.NoError(t, err)
	require.Len(t, neighborsOfB, 1)
	assert.Equal(t, a.ID, neighborsOfB[0].ID)

	neighborsOfA, err := s.Neighbors(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, neighborsOfA)
}

func TestNeighborsUndirectedExpandsBothWays(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreateNode(t, s, "A")
	b := mustCreateNode(t, s, "B")
	require.NoError(t, s.Transact(ctx, func(ctx context.Context) error {
		return s.CreateEdge(ctx, &Edge{EdgeType: EdgeAffinity, SourceID: a.ID, TargetID: b.ID, Directed: false})
	}))

	neighborsOfA, err := s.Neighbors(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, neighborsOfA, 1)
	assert.Equal(t, b.ID, neighborsOfA[0].ID)
}

func TestReachable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b, c := chain(t, s)

	got, err := s.Reachable(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)

	byID := map[string]int{}
	for _, rn := range got {
		byID[rn.Node.ID] = rn.Depth
	}
	assert.Equal(t, 0, byID[a.ID])
	assert.Equal(t, 1, byID[b.ID])
	assert.Equal(t, 2, byID[c.ID])
}

func TestReachableExcludesSoftDeletedNodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b, _ := chain(t, s)

	require.NoError(t, s.DeleteNode(ctx, b.ID))

	got, err := s.Reachable(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].Node.ID)
}

func TestShortestPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b, c := chain(t, s)

	result, err := s.ShortestPath(ctx, a.ID, c.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, result.NodeIDs)
	assert.Equal(t, 2.0, result.Weight)
}

func TestShortestPathNoRoute(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreateNode(t, s, "Lonely1")
	b := mustCreateNode(t, s, "Lonely2")

	_, err := s.ShortestPath(ctx, a.ID, b.ID, 0)
	require.Error(t, err)
	var ipe *InvalidPathError
	assert.ErrorAs(t, err, &ipe)
}

func TestDijkstraPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a, b, c := chain(t, s)

	result, err := s.DijkstraPath(ctx, a.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, result.NodeIDs)
	assert.Equal(t, 5.0, result.Weight)
}

func TestPageRankSumsToApproximatelyOne(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	chain(t, s)

	scores, err := s.PageRank(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, scores, 3)

	var total float64
	for _, v := range scores {
		assert.Greater(t, v, 0.0)
		total += v
	}
	assert.InDelta(t, 1.0, total, 0.05)
}

func TestNodeImportance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, b, _ := chain(t, s)

	importance, err := s.NodeImportance(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2.0, importance)
}
