// Command graphstore is a small CLI for exercising the graph store
// manually: creating and purging nodes, searching, walking the graph, ranking
// it, and driving a sync cycle against an in-memory reference remote.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kittclouds/graphstore/internal/config"
)

var (
	configPath string
	dbPath     string
	appCfg     config.Config
)

func main() {
	root := &cobra.Command{
		Use:   "graphstore",
		Short: "Embedded labeled property graph store over SQLite",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dbPath != "" {
				cfg.DBPath = dbPath
			}
			appCfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML config file")
	root.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (empty = in-memory)")

	root.AddCommand(
		newCreateNodeCmd(),
		newGetNodeCmd(),
		newSearchCmd(),
		newConnectedCmd(),
		newShortestPathCmd(),
		newPageRankCmd(),
		newSyncCmd(),
		newSchemaCmd(),
		newPurgeNodeCmd(),
		newRollbackCmd(),
		newDraftsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
