package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/zibuyu2015831/obsidian-copilot-chinese/internal/storage"
)

var (
	version   = "dev"
	commit    = ""
	buildTime = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and build information",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Version:          %s\n", version)
	fmt.Fprintf(out, "Commit:           %s\n", emptyAsNA(commit))
	fmt.Fprintf(out, "Build Time:       %s\n", emptyAsNA(buildTime))
	fmt.Fprintf(out, "Build Mode:       %s\n", storage.BuildMode)
	fmt.Fprintf(out, "SQLite Driver:    %s\n", storage.DriverName)
	fmt.Fprintf(out, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
	fmt.Fprintf(out, "Go Version:       %s\n", runtime.Version())
	return nil
}

func emptyAsNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}
