package store

import (
	"context"
	"strings"
)

// ftsQuery tokenizes a raw search phrase into an FTS5 MATCH expression: each
// token is quoted and suffixed with `*` for prefix matching, and embedded
// quotes are doubled so the token survives FTS5's string literal rules.
func ftsQuery(phrase string) string {
	fields := strings.Fields(phrase)
	if len(fields) == 0 {
		return ""
	}
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		escaped := strings.ReplaceAll(f, `"`, `""`)
		tokens = append(tokens, `"`+escaped+`"*`)
	}
	return strings.Join(tokens, " ")
}

// Search runs a full-text query over node name/content/tags/folder, ranked
// by BM25 (lower score is a better match). Soft-deleted nodes never appear,
// since the update trigger re-indexes a row in nodes_fts only while its
// deleted_at is NULL.
func (s *Store) Search(ctx context.Context, phrase string, limit int) ([]SearchResult, error) {
	q := ftsQuery(phrase)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + qualifiedNodeColumns + `, bm25(nodes_fts, 1.0, 0.75, 0.5, 0.25) AS score
		FROM nodes_fts
		JOIN nodes n ON n.rowid = nodes_fts.rowid
		WHERE nodes_fts MATCH ?
		ORDER BY score
		LIMIT ?`

	var out []SearchResult
	err := s.withConn(ctx, func(c execer) error {
		rows, err := c.QueryContext(ctx, query, q, limit)
		if err != nil {
			return newQueryFailed(query, err)
		}
		defer rows.Close()
		for rows.Next() {
			n, score, err := scanNodeWithScore(rows)
			if err != nil {
				return err
			}
			out = append(out, SearchResult{Node: *n, Score: score})
		}
		return rows.Err()
	})
	return out, err
}
