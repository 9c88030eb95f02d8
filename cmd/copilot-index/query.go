package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/retriever"
)

var (
	queryK        int
	queryMinScore float64
	queryJSON     bool
)

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Retrieve the note chunks most relevant to a question",
	Long: `Query embeds the question and returns the closest chunks, one per note
first. Without -k the configured max source chunks is used.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryK, "k", "k", 0, "number of chunks to return")
	queryCmd.Flags().Float64Var(&queryMinScore, "min-score", 0, "drop chunks scoring below this")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "print JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	return withApp(cmd, nil, func(ctx context.Context, a *app) error {
		resp, err := a.service.Search(ctx, retriever.Request{
			Query:    query,
			K:        queryK,
			MinScore: queryMinScore,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if queryJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(resp.Chunks)
		}

		if len(resp.Chunks) == 0 {
			fmt.Fprintln(out, "No matching notes")
			return nil
		}
		for _, c := range resp.Chunks {
			fmt.Fprintf(out, "%d. %s #%d (%.3f)\n", c.Rank, c.DocumentPath, c.ChunkIndex, c.Score)
			fmt.Fprintf(out, "   %s\n", snippet(c.Text, 160))
		}
		return nil
	})
}

// snippet flattens text to one line of at most n runes
func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}
