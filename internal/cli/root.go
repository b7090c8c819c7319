// Package cli implements the seagoat command: index, query, stats, and
// serve, each a thin wrapper submitting one Query Facade operation and
// printing its raw result. Output formatting beyond that is out of scope.
package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"seagoat/internal/config"
	"seagoat/internal/engine"
	"seagoat/internal/facade"
)

var (
	repoPath  string
	cacheRoot string
	cfg       *config.Config
	logger    = log.New(os.Stderr, "seagoat: ", log.LstdFlags)
)

var rootCmd = &cobra.Command{
	Use:   "seagoat",
	Short: "Incremental semantic and regex search over a Git repository",
	Long: `seagoat analyzes a Git repository into content-addressed chunks, indexes
them in both a vector store and a regex-searchable corpus, and answers
queries by merging ranked hits from both into context-bearing blocks.

Example usage:
  seagoat index              # analyze the repository once
  seagoat query "retry loop"  # search the index
  seagoat stats              # report queue depth and staleness
  seagoat serve               # run the MCP server on stdio`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if repoPath == "" {
			repoPath, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
		}
		repoPath, err = filepath.Abs(repoPath)
		if err != nil {
			return fmt.Errorf("resolve repo path: %w", err)
		}

		cfg, err = config.Load(repoPath, logger)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if cacheRoot == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("resolve cache root: %w", err)
			}
			cacheRoot = filepath.Join(home, ".cache", "seagoat")
		}
		return nil
	},
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&repoPath, "repo", "r", "", "repository root (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&cacheRoot, "cache", "", "cache root directory (default: ~/.cache/seagoat)")
}

// engineConfig builds an engine.Config from the loaded Config, optionally
// wiring a progress callback for the index subcommand.
func engineConfig(progress func(processed, total int, path string)) engine.Config {
	return engine.Config{
		RepoPath:              repoPath,
		CacheRoot:             cacheRoot,
		IgnorePatterns:        cfg.Server.IgnorePatterns,
		ReadMaxCommits:        cfg.Server.ReadMaxCommits,
		EmbeddingFunctionName: cfg.Server.Chroma.EmbeddingFunction,
		VectorBatchSize:       cfg.Server.Chroma.BatchSize,
		Logger:                logger,
		Progress:              progress,
	}
}

// newFacade builds a Facade over a freshly constructed Engine, the same
// factory reload_config re-invokes on a config change.
func newFacade(ctx context.Context, progress func(processed, total int, path string)) (*facade.Facade, error) {
	factory := func(ctx context.Context) (*engine.Engine, error) {
		return engine.New(ctx, engineConfig(progress))
	}
	return facade.New(ctx, facade.Config{
		Factory: factory,
		Logger:  logger,
	})
}

