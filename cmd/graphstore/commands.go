package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kittclouds/graphstore/internal/store"
	"github.com/kittclouds/graphstore/internal/synctransport"
)

func openStore(opts ...store.Option) (*store.Store, error) {
	eng := store.EngineConfig{
		Path:           appCfg.DBPath,
		BusyTimeout:    appCfg.BusyTimeout,
		MaxReaderConns: appCfg.MaxReaderConns,
	}
	return store.Open(eng, opts...)
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func newCreateNodeCmd() *cobra.Command {
	var name, content, folder, nodeType string
	cmd := &cobra.Command{
		Use:   "create-node",
		Short: "Create a node",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			n := &store.Node{Name: name, Content: content, Folder: folder, NodeType: nodeType}
			if n.NodeType == "" {
				n.NodeType = "note"
			}
			if err := s.CreateNode(context.Background(), n); err != nil {
				return err
			}
			return printJSON(n)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "node name (required)")
	cmd.Flags().StringVar(&content, "content", "", "node content")
	cmd.Flags().StringVar(&folder, "folder", "", "folder")
	cmd.Flags().StringVar(&nodeType, "type", "note", "node type")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newGetNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get-node [id]",
		Short: "Fetch a node by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.GetNode(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(n)
		},
	}
	return cmd
}

func newSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search [phrase]",
		Short: "Full-text search over node name/content/tags/folder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			results, err := s.Search(context.Background(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(results)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func newConnectedCmd() *cobra.Command {
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "connected [id]",
		Short: "List every node reachable from id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ids, err := s.Reachable(context.Background(), args[0], maxDepth)
			if err != nil {
				return err
			}
			return printJSON(ids)
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "maximum hop count (0 = unbounded)")
	return cmd
}

func newShortestPathCmd() *cobra.Command {
	var weighted bool
	var maxDepth int
	cmd := &cobra.Command{
		Use:   "shortest-path [from] [to]",
		Short: "Find the shortest path between two nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			var result *store.PathResult
			if weighted {
				result, err = s.DijkstraPath(ctx, args[0], args[1])
			} else {
				result, err = s.ShortestPath(ctx, args[0], args[1], maxDepth)
			}
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().BoolVar(&weighted, "weighted", false, "use edge.weight via Dijkstra instead of hop count")
	cmd.Flags().IntVar(&maxDepth, "max-depth", 10, "maximum hop count to search before giving up")
	return cmd
}

func newPurgeNodeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge-node [id]",
		Short: "Permanently delete a node and every edge touching it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			return s.PurgeNode(context.Background(), args[0])
		},
	}
	return cmd
}

func newRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback [tx-id]",
		Short: "Reverse-apply a committed transaction from its preserved draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			result, err := s.RollbackTransaction(context.Background(), args[0])
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	return cmd
}

func newDraftsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "drafts",
		Short: "List every unexpired rollback draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			drafts, err := s.ListDrafts(context.Background())
			if err != nil {
				return err
			}
			return printJSON(drafts)
		},
	}
	return cmd
}

func newPageRankCmd() *cobra.Command {
	var dampening float64
	var iterations int
	cmd := &cobra.Command{
		Use:   "pagerank",
		Short: "Rank every node by PageRank score",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			scores, err := s.PageRank(context.Background(), dampening, iterations)
			if err != nil {
				return err
			}
			return printJSON(store.RankedScores(scores))
		},
	}
	cmd.Flags().Float64Var(&dampening, "dampening", 0.85, "PageRank damping factor")
	cmd.Flags().IntVar(&iterations, "iterations", 20, "power iteration count")
	return cmd
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the in-memory reference remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			remote := synctransport.NewMemoryStore()
			s, err := openStore(store.WithRemote(remote, appCfg.SyncZone))
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Sync().Sync(context.Background()); err != nil {
				return err
			}
			fmt.Println("sync status:", s.Sync().Status())
			return nil
		},
	}
	return cmd
}

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List applied schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			migs, err := s.Migrations(context.Background())
			if err != nil {
				return err
			}
			return printJSON(migs)
		},
	}
	return cmd
}
