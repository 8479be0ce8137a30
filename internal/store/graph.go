package store

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
)

// Neighbors returns every node reachable from id by one inbound or outbound
// edge hop. Per the all-inbound neighbor-expansion rule, a directed edge
// a->b makes a a neighbor of b (and vice versa is NOT implied unless the
// edge is undirected); undirected edges expand both ways.
func (s *Store) Neighbors(ctx context.Context, id string) ([]*Node, error) {
	const q = `SELECT ` + qualifiedNodeColumns + ` FROM nodes n WHERE n.deleted_at IS NULL AND n.id IN (
		SELECT source_id FROM edges WHERE target_id = ?
		UNION
		SELECT target_id FROM edges WHERE source_id = ? AND directed = 0
	)`
	var out []*Node
	err := s.withConn(ctx, func(c execer) error {
		rows, err := c.QueryContext(ctx, q, id, id)
		if err != nil {
			return newQueryFailed(q, err)
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

// reachableNextHop is the shared expansion subquery used by both Reachable
// and ShortestPath: it steps forward from source to target, and also from
// target to source on undirected edges. It steps only onto nodes that are not
// soft-deleted, so a tombstoned node can neither be reported as reachable
// nor used as a stepping stone to something beyond it.
const reachableNextHop = `(
		SELECT e.target_id AS id, e.source_id AS from_id
		FROM edges e JOIN nodes nt ON nt.id = e.target_id AND nt.deleted_at IS NULL
		UNION
		SELECT e.source_id AS id, e.target_id AS from_id
		FROM edges e JOIN nodes ns ON ns.id = e.source_id AND ns.deleted_at IS NULL
		WHERE e.directed = 0
	) nxt`

// Reachable performs a breadth-first traversal from id, following edges
// forward (undirected edges both ways), and returns every distinct active node reached
// within maxDepth hops (0 means unbounded), including the start node itself
// at depth 0. A path-string in the recursive CTE prevents revisiting a node
// within one path, avoiding infinite loops on cycles. Results are ordered by
// (depth, name).
func (s *Store) Reachable(ctx context.Context, id string, maxDepth int) ([]ReachableNode, error) {
	depthClause := ""
	if maxDepth > 0 {
		depthClause = "AND walk.depth < " + strconv.Itoa(maxDepth)
	}
	q := `WITH RECURSIVE walk(id, depth, path) AS (
		SELECT ?, 0, ',' || ? || ','
		UNION ALL
		SELECT nxt.id, walk.depth + 1, walk.path || nxt.id || ','
		FROM walk, ` + reachableNextHop + `
		WHERE nxt.from_id = walk.id
		AND walk.path NOT LIKE '%,' || nxt.id || ',%'
		` + depthClause + `
	)
	SELECT ` + qualifiedNodeColumns + `, MIN(walk.depth) AS depth
	FROM walk
	JOIN nodes n ON n.id = walk.id AND n.deleted_at IS NULL
	GROUP BY n.id
	ORDER BY depth, n.name`

	var out []ReachableNode
	err := s.withConn(ctx, func(c execer) error {
		rows, err := c.QueryContext(ctx, q, id, id)
		if err != nil {
			return newQueryFailed(q, err)
		}
		defer rows.Close()
		for rows.Next() {
			n, depth, err := scanNodeWithDepth(rows)
			if err != nil {
				return err
			}
			out = append(out, ReachableNode{Node: n, Depth: depth})
		}
		return rows.Err()
	})
	return out, err
}

// ShortestPath returns the unweighted shortest path (fewest hops) between
// from and to: a recursive CTE enumerates every cycle-free path up to
// maxDepth hops, and the query keeps the shallowest one that ends at to.
// maxDepth bounds the search and defaults to 10 when <= 0.
func (s *Store) ShortestPath(ctx context.Context, from, to string, maxDepth int) (*PathResult, error) {
	if maxDepth <= 0 {
		maxDepth = 10
	}
	q := `WITH RECURSIVE walk(id, depth, path) AS (
		SELECT ?, 0, ',' || ? || ','
		UNION ALL
		SELECT nxt.id, walk.depth + 1, walk.path || nxt.id || ','
		FROM walk, ` + reachableNextHop + `
		WHERE nxt.from_id = walk.id
		AND walk.path NOT LIKE '%,' || nxt.id || ',%'
		AND walk.depth < ?
	)
	SELECT path, depth FROM walk
	JOIN nodes n ON n.id = walk.id AND n.deleted_at IS NULL
	WHERE walk.id = ? ORDER BY depth LIMIT 1`

	var pathStr string
	var depth int
	found := false
	err := s.withConn(ctx, func(c execer) error {
		row := c.QueryRowContext(ctx, q, from, from, maxDepth, to)
		scanErr := row.Scan(&pathStr, &depth)
		switch {
		case scanErr == nil:
			found = true
			return nil
		case errors.Is(scanErr, sql.ErrNoRows):
			return nil
		default:
			return newQueryFailed(q, scanErr)
		}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &InvalidPathError{From: from, To: to}
	}
	ids := splitPath(pathStr)
	return &PathResult{NodeIDs: ids, Weight: float64(depth)}, nil
}

// NodeImportance scores id by the sum of incoming edge weights, the
// cheapest local-degree proxy for centrality.
func (s *Store) NodeImportance(ctx context.Context, id string) (float64, error) {
	const q = `SELECT COALESCE(SUM(weight), 0) FROM edges WHERE target_id = ?`
	var total float64
	err := s.withConn(ctx, func(c execer) error {
		return c.QueryRowContext(ctx, q, id).Scan(&total)
	})
	return total, err
}

// PageRank runs power iteration over the active node set, redistributing
// dangling mass uniformly, and returns each node's stationary-distribution
// score. dampening defaults to 0.85 and iterations to 20 when zero.
func (s *Store) PageRank(ctx context.Context, dampening float64, iterations int) (map[string]float64, error) {
	if dampening <= 0 {
		dampening = 0.85
	}
	if iterations <= 0 {
		iterations = 20
	}

	type adjacency struct {
		out map[string][]string
		ids []string
	}
	adj := adjacency{out: map[string][]string{}}

	err := s.withConn(ctx, func(c execer) error {
		rows, err := c.QueryContext(ctx, `SELECT id FROM nodes WHERE deleted_at IS NULL`)
		if err != nil {
			return newQueryFailed("select node ids", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			adj.ids = append(adj.ids, id)
			adj.out[id] = nil
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		eRows, err := c.QueryContext(ctx, `SELECT source_id, target_id, directed FROM edges`)
		if err != nil {
			return newQueryFailed("select edges for pagerank", err)
		}
		defer eRows.Close()
		for eRows.Next() {
			var src, dst string
			var directed int
			if err := eRows.Scan(&src, &dst, &directed); err != nil {
				return err
			}
			_, srcActive := adj.out[src]
			_, dstActive := adj.out[dst]
			if !srcActive || !dstActive {
				continue
			}
			adj.out[src] = append(adj.out[src], dst)
			if directed == 0 {
				adj.out[dst] = append(adj.out[dst], src)
			}
		}
		return eRows.Err()
	})
	if err != nil {
		return nil, err
	}

	n := len(adj.ids)
	if n == 0 {
		return map[string]float64{}, nil
	}

	scores := make(map[string]float64, n)
	for _, id := range adj.ids {
		scores[id] = 1.0 / float64(n)
	}

	for iter := 0; iter < iterations; iter++ {
		next := make(map[string]float64, n)
		base := (1 - dampening) / float64(n)
		for _, id := range adj.ids {
			next[id] = base
		}

		var danglingMass float64
		for _, id := range adj.ids {
			outLinks := adj.out[id]
			if len(outLinks) == 0 {
				danglingMass += scores[id]
				continue
			}
			share := dampening * scores[id] / float64(len(outLinks))
			for _, dst := range outLinks {
				next[dst] += share
			}
		}

		if danglingMass > 0 {
			redistribute := dampening * danglingMass / float64(n)
			for _, id := range adj.ids {
				next[id] += redistribute
			}
		}

		scores = next
	}

	return scores, nil
}

// dijkstraEdge is one outgoing weighted hop used by the in-memory Dijkstra
// snapshot.
type dijkstraEdge struct {
	to     string
	weight float64
}

func (s *Store) loadWeightedAdjacency(ctx context.Context) (map[string][]dijkstraEdge, error) {
	adj := map[string][]dijkstraEdge{}
	err := s.withConn(ctx, func(c execer) error {
		rows, err := c.QueryContext(ctx, `SELECT source_id, target_id, weight, directed FROM edges`)
		if err != nil {
			return newQueryFailed("select edges for dijkstra", err)
		}
		defer rows.Close()
		for rows.Next() {
			var src, dst string
			var weight float64
			var directed int
			if err := rows.Scan(&src, &dst, &weight, &directed); err != nil {
				return err
			}
			adj[src] = append(adj[src], dijkstraEdge{to: dst, weight: weight})
			if directed == 0 {
				adj[dst] = append(adj[dst], dijkstraEdge{to: src, weight: weight})
			}
		}
		return rows.Err()
	})
	return adj, err
}

// DijkstraPath finds the minimum-weight path from source to target over
// edge.weight, reconstructed from back-pointers recorded during a classic
// array-based Dijkstra pass (the graph sizes this store targets don't
// warrant a heap).
func (s *Store) DijkstraPath(ctx context.Context, source, target string) (*PathResult, error) {
	dist, prev, err := s.dijkstraFrom(ctx, source)
	if err != nil {
		return nil, err
	}
	if _, ok := dist[target]; !ok {
		return nil, &InvalidPathError{From: source, To: target}
	}

	var path []string
	for at := target; at != ""; {
		path = append([]string{at}, path...)
		prevID, ok := prev[at]
		if !ok {
			break
		}
		at = prevID
	}
	return &PathResult{NodeIDs: path, Weight: dist[target]}, nil
}

// DijkstraAll returns the minimum-weight distance from source to every node
// it can reach.
func (s *Store) DijkstraAll(ctx context.Context, source string) (map[string]float64, error) {
	dist, _, err := s.dijkstraFrom(ctx, source)
	return dist, err
}

func (s *Store) dijkstraFrom(ctx context.Context, source string) (map[string]float64, map[string]string, error) {
	adj, err := s.loadWeightedAdjacency(ctx)
	if err != nil {
		return nil, nil, err
	}

	dist := map[string]float64{source: 0}
	prev := map[string]string{}
	visited := map[string]bool{}

	for {
		cur, ok := minUnvisited(dist, visited)
		if !ok {
			break
		}
		visited[cur] = true

		for _, edge := range adj[cur] {
			alt := dist[cur] + edge.weight
			if d, ok := dist[edge.to]; !ok || alt < d {
				dist[edge.to] = alt
				prev[edge.to] = cur
			}
		}
	}

	return dist, prev, nil
}

func minUnvisited(dist map[string]float64, visited map[string]bool) (string, bool) {
	best := ""
	bestDist := 0.0
	found := false
	for id, d := range dist {
		if visited[id] {
			continue
		}
		if !found || d < bestDist {
			best, bestDist, found = id, d, true
		}
	}
	return best, found
}

func splitPath(pathStr string) []string {
	var out []string
	cur := ""
	for _, r := range pathStr {
		if r == ',' {
			if cur != "" {
				out = append(out, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	return out
}

// sortByScoreDesc orders pagerank results for the CLI's ranked output.
func sortByScoreDesc(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return scores[ids[i]] > scores[ids[j]] })
	return ids
}

// RankedScore is one entry of a PageRank result ordered highest score first.
type RankedScore struct {
	NodeID string  `json:"nodeId"`
	Score  float64 `json:"score"`
}

// RankedScores sorts a PageRank score map into descending-score order, the
// presentation the CLI's pagerank subcommand prints.
func RankedScores(scores map[string]float64) []RankedScore {
	ids := sortByScoreDesc(scores)
	out := make([]RankedScore, len(ids))
	for i, id := range ids {
		out[i] = RankedScore{NodeID: id, Score: scores[id]}
	}
	return out
}
