package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "worldline",
		Short: "Worldline - a branching-time world simulator",
		Long: `worldline simulates a world of characters, places and things one turn at
a time, keeping every turn on a tree of branching timelines.

Rules are written in Lua under .worldline/scripts. Travel back to any tick,
change something, and the future forks into a new branch.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON (for agent consumption)")
	rootCmd.PersistentFlags().String("root", ".", "Project root directory")

	rootCmd.AddCommand(
		newVersionCmd(),
		newInitCmd(),
		newSeedCmd(),
		newRunCmd(),
		newStatusCmd(),
		newTravelCmd(),
		newJourneyCmd(),
		newStatCmd(),
		newWhenCmd(),
		newGraphCmd(),
		newEternalCmd(),
		newBackupCmd(),
		newRestoreCmd(),
		newConfigCmd(),
		newMCPServerCmd(),
	)
	return rootCmd
}

// writeJSON encodes v as one indented JSON document.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
