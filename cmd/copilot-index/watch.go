package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Remove notes from the index as they are deleted from the vault",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return withApp(cmd, nil, func(_ context.Context, a *app) error {
		fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s for deleted notes, press Ctrl+C to stop\n", a.vault.Root())
		err := a.service.WatchDeletions(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}
