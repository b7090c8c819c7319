package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"seagoat/internal/mcptransport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server on stdio",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f, err := newFacade(ctx, nil)
	if err != nil {
		return fmt.Errorf("build facade: %w", err)
	}
	defer func() { _ = f.Close() }()

	srv := mcptransport.NewServer(f)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Println("seagoat MCP server ready, listening on stdio...")
		errChan <- srv.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Printf("received signal %v, shutting down gracefully...", sig)
		cancel()
		return nil
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
	}
	return nil
}
