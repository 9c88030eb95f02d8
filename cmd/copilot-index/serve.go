package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/logger"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/mcp"
	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/storage"
)

var serveWatch bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the index to MCP clients over stdio",
	Long: `Serve starts an MCP server on stdin/stdout. Logs go to stderr. With the
ON_STARTUP strategy the vault is indexed in the background while the server
already answers queries.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "remove deleted notes from the index as they disappear")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("%s v%s starting (%s, driver %s)", mcp.ServerName, version, storage.BuildMode, storage.DriverName)

	go startupIndex(ctx, a)
	if serveWatch {
		go func() {
			if err := a.service.WatchDeletions(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("Deletion watcher stopped: %v", err)
			}
		}()
	}

	server := mcp.NewServer(a.service, version)
	errChan := make(chan error, 1)
	go func() {
		logger.Info("MCP server ready, listening on stdio...")
		errChan <- server.Serve(ctx)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		return nil
	case err := <-errChan:
		return err
	}
}

// startupIndex runs the ON_STARTUP pass unless another process holds the
// index lock
func startupIndex(ctx context.Context, a *app) {
	unlock, err := acquireIndexLock(a.cfg.LockPath())
	if err != nil {
		logger.Warn("Skipping startup index: %v", err)
		return
	}
	defer unlock()

	result, err := a.service.Startup(ctx)
	if err != nil {
		logger.Warn("Startup index failed: %v", err)
		return
	}
	if result != nil {
		logger.Info("Startup index: %d indexed, %d failed", result.IndexedCount, result.ErrorCount())
	}
}
