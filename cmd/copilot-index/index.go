package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/indexer"
)

var indexForce bool

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index notes changed since the last pass",
	Long: `Index chunks and embeds every note modified since the last successful
pass. With --force every note is re-embedded. If the configured embedding
model differs from the one the index was built with, the index is rebuilt.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

var indexNoteCmd = &cobra.Command{
	Use:   "index-note <path>",
	Short: "Re-index a single note",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndexNote,
}

func init() {
	indexCmd.Flags().BoolVarP(&indexForce, "force", "f", false, "re-embed every note")
	rootCmd.AddCommand(indexCmd, indexNoteCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	progress := newProgress(cmd.ErrOrStderr())
	return withApp(cmd, progress.update, func(ctx context.Context, a *app) error {
		unlock, err := acquireIndexLock(a.cfg.LockPath())
		if err != nil {
			return err
		}
		defer unlock()

		result, err := a.service.IndexAll(ctx, indexForce)
		progress.finish()
		if err != nil {
			return err
		}
		printResult(cmd.OutOrStdout(), result)
		return nil
	})
}

func runIndexNote(cmd *cobra.Command, args []string) error {
	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		unlock, err := acquireIndexLock(a.cfg.LockPath())
		if err != nil {
			return err
		}
		defer unlock()

		if err := a.service.IndexOne(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %s\n", args[0])
		return nil
	})
}

// printResult reports a pass with successes and failures kept apart
func printResult(w io.Writer, result *indexer.Result) {
	if result.Total == 0 {
		fmt.Fprintln(w, "Index is up to date")
		return
	}

	if result.Rebuilt {
		fmt.Fprintln(w, "Index rebuilt for the configured embedding model")
	}
	fmt.Fprintf(w, "Indexed %d of %d notes in %s\n", result.IndexedCount, result.Total, result.Duration.Round(time.Millisecond))
	if result.ErrorCount() == 0 {
		return
	}

	fmt.Fprintf(w, "%d notes failed and will be retried on the next pass:\n", result.ErrorCount())
	for _, msg := range result.ErrorMessages(5) {
		fmt.Fprintf(w, "  %s\n", msg)
	}
	if more := result.ErrorCount() - 5; more > 0 {
		fmt.Fprintf(w, "  ... and %d more\n", more)
	}
}

// progress prints indexing progress on a single stderr line
type progress struct {
	mu      sync.Mutex
	w       io.Writer
	printed bool
}

func newProgress(w io.Writer) *progress {
	return &progress{w: w}
}

func (p *progress) update(done, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\rIndexing notes: %d/%d", done, total)
	p.printed = true
}

func (p *progress) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed {
		fmt.Fprintln(p.w)
		p.printed = false
	}
}
