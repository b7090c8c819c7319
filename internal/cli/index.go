package cli

import (
	"context"
	"fmt"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Analyze the repository once, indexing changed files into both sources",
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	var (
		bar  *progressbar.ProgressBar
		barM sync.Mutex
	)
	progress := func(processed, total int, path string) {
		barM.Lock()
		defer barM.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Analyzing[reset]"),
				progressbar.OptionOnCompletion(func() { fmt.Println() }),
			)
		}
		_ = bar.Set(processed)
		_ = path
	}

	f, err := newFacade(ctx, progress)
	if err != nil {
		return fmt.Errorf("build facade: %w", err)
	}
	defer func() { _ = f.Close() }()

	h, err := f.SubmitAnalyze()
	if err != nil {
		return fmt.Errorf("submit analyze: %w", err)
	}
	if _, err := h.Wait(ctx); err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	statusHandle, err := f.GetStatus()
	if err != nil {
		return fmt.Errorf("submit get_status: %w", err)
	}
	status, err := statusHandle.Wait(ctx)
	if err != nil {
		return fmt.Errorf("get_status: %w", err)
	}
	fmt.Printf("%+v\n", status)
	return nil
}
