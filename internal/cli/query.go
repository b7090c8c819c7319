package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"seagoat/internal/facade"
)

var (
	queryLimitLines   int
	queryContextAbove int
	queryContextBelow int
	queryMaxResults   int
	queryIncludeGlobs []string
	queryExcludeGlobs []string
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Search the index, merging semantic and regex hits into ranked blocks",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryLimitLines, "limit-lines", 0, "maximum number of result lines (0: engine default of 500)")
	queryCmd.Flags().IntVar(&queryContextAbove, "context-above", -1, "lines of context above each hit (default: engine default)")
	queryCmd.Flags().IntVar(&queryContextBelow, "context-below", -1, "lines of context below each hit (default: engine default)")
	queryCmd.Flags().IntVar(&queryMaxResults, "max-results", 0, "maximum number of result blocks (0: no limit)")
	queryCmd.Flags().StringSliceVar(&queryIncludeGlobs, "include", nil, "only include paths matching this glob (repeatable)")
	queryCmd.Flags().StringSliceVar(&queryExcludeGlobs, "exclude", nil, "exclude paths matching this glob (repeatable)")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	f, err := newFacade(ctx, nil)
	if err != nil {
		return fmt.Errorf("build facade: %w", err)
	}
	defer func() { _ = f.Close() }()

	filters := facade.Filters{
		ContextAbove: queryContextAbove,
		ContextBelow: queryContextBelow,
		IncludeGlobs: queryIncludeGlobs,
		ExcludeGlobs: queryExcludeGlobs,
		MaxResults:   queryMaxResults,
	}

	h, err := f.SubmitQuery(args[0], queryLimitLines, filters)
	if err != nil {
		return fmt.Errorf("submit_query: %w", err)
	}
	result, err := h.Wait(ctx)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	fmt.Printf("%+v\n", result)
	return nil
}
