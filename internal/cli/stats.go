package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Report queue depth, chunk counts, and staleness",
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	f, err := newFacade(ctx, nil)
	if err != nil {
		return fmt.Errorf("build facade: %w", err)
	}
	defer func() { _ = f.Close() }()

	h, err := f.GetStatus()
	if err != nil {
		return fmt.Errorf("submit get_status: %w", err)
	}
	status, err := h.Wait(ctx)
	if err != nil {
		return fmt.Errorf("get_status: %w", err)
	}
	fmt.Printf("%+v\n", status)
	return nil
}
