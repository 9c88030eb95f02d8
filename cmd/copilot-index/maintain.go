package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var statusJSON bool

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove indexed chunks of deleted or excluded notes",
	Args:  cobra.NoArgs,
	RunE:  runGC,
}

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every indexed chunk and reset the index",
	Args:  cobra.NoArgs,
	RunE:  runClear,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index statistics and embedding model state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
	rootCmd.AddCommand(gcCmd, clearCmd, statusCmd)
}

func runGC(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		unlock, err := acquireIndexLock(a.cfg.LockPath())
		if err != nil {
			return err
		}
		defer unlock()

		result, err := a.service.CollectGarbage(ctx, nil)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Removed %d notes (%d chunks)\n", result.RemovedDocuments, result.RemovedRecords)
		for _, p := range result.Paths {
			fmt.Fprintf(out, "  %s\n", p)
		}
		return nil
	})
}

func runClear(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		unlock, err := acquireIndexLock(a.cfg.LockPath())
		if err != nil {
			return err
		}
		defer unlock()

		if err := a.service.ClearAndReset(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Local vector store cleared")
		return nil
	})
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		st, err := a.service.Status(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statusJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		m := st.Store.Markers
		lastIndexed := "never"
		if m.LatestMtime != nil {
			lastIndexed = m.LatestMtime.Format(time.RFC3339)
		}
		provider := "not configured"
		if st.Configured {
			provider = fmt.Sprintf("%s (%s)", st.Model, st.Provider)
		}

		fmt.Fprintf(out, "Vault:           %s (%s)\n", st.Source, a.vault.Root())
		fmt.Fprintf(out, "Store:           %s %s\n", st.Store.Backend, st.Store.Location)
		fmt.Fprintf(out, "Notes:           %d\n", st.Store.Documents)
		fmt.Fprintf(out, "Chunks:          %d\n", st.Store.Records)
		fmt.Fprintf(out, "Embedding:       %s\n", provider)
		fmt.Fprintf(out, "Index model:     %s\n", emptyAsNA(m.ActiveEmbeddingModel))
		fmt.Fprintf(out, "Last indexed:    %s\n", lastIndexed)
		fmt.Fprintf(out, "Auto index:      %s\n", st.Strategy)
		if len(st.ExcludedPaths) > 0 {
			fmt.Fprintf(out, "Excluded:        %s\n", strings.Join(st.ExcludedPaths, ", "))
		}
		if len(m.FailedPaths) > 0 {
			fmt.Fprintf(out, "Retrying:        %s\n", strings.Join(m.FailedPaths, ", "))
		}
		if m.RebuildPending {
			fmt.Fprintln(out, "A rebuild was interrupted. Run `copilot-index index` to finish it.")
		} else if st.Stale {
			fmt.Fprintln(out, "The embedding model changed. Run `copilot-index index` to rebuild.")
		}
		return nil
	})
}
