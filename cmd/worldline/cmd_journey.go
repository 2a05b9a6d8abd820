package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newJourneyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "journey <character> <thing> <destination>",
		Short: "Send a thing along portals to a place",
		Long: `Schedule a thing to travel the shortest path of portals to a place,
starting at the time cursor. Each portal takes its length divided by the
thing's speed. Run turns to watch it move.

Example:
  worldline journey physical kobold field`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			return withWorkspace(cmd, openOptions{}, func(_ context.Context, ws *workspace) error {
				res, err := ws.Engine.JourneyTo(args[0], args[1], args[2])
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%s leaves at %d.%d and arrives at %d.%d\n", args[1], res.Branch, res.Start, res.Branch, res.Arrive)
				fmt.Fprintf(out, "  Path: %s\n", strings.Join(res.Path, " -> "))
				for _, st := range res.Steps {
					fmt.Fprintf(out, "  %-24s enter %d, arrive %d\n", st.Portal, st.Enter, st.Arrive)
				}
				if res.Forked {
					fmt.Fprintf(out, "  The thing's future was fixed; the journey forked branch %d\n", res.Branch)
				}
				return nil
			})
		},
	}
}
