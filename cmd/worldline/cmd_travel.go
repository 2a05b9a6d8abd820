package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newTravelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "travel [branch] <tick>",
		Short: "Move the time cursor",
		Long: `Move the time cursor to a tick. The branch is an id or a name and
defaults to the current branch. Travelling to the branch one past the
highest forks a new branch from the current one at that tick.

With --main, switch to a named root branch instead, creating it when it
does not exist.

Examples:
  worldline travel 10          # Tick 10 of the current branch
  worldline travel 0 5         # Branch 0, tick 5
  worldline travel trunk 5     # Same, by name
  worldline travel --main alt  # Switch to the root branch "alt"`,
		Args: cobra.RangeArgs(0, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			mainName, _ := cmd.Flags().GetString("main")

			if mainName == "" && len(args) == 0 {
				return fmt.Errorf("a tick is required")
			}
			if mainName != "" && len(args) > 0 {
				return fmt.Errorf("--main takes no branch or tick")
			}

			return withWorkspace(cmd, openOptions{}, func(_ context.Context, ws *workspace) error {
				before, err := ws.Engine.Status()
				if err != nil {
					return err
				}
				from := before.Now
				switch {
				case mainName != "":
					err = ws.Engine.SwitchMainBranch(mainName)
				case len(args) == 1:
					var tick int
					if tick, err = parseTick(args[0]); err == nil {
						err = ws.Engine.TimeTravel(from.Branch, tick)
					}
				default:
					var tick int
					if tick, err = parseTick(args[1]); err != nil {
						break
					}
					if id, convErr := strconv.Atoi(args[0]); convErr == nil {
						err = ws.Engine.TimeTravel(id, tick)
					} else {
						err = ws.Engine.TimeTravelNamed(args[0], tick)
					}
				}
				if err != nil {
					return err
				}

				st, err := ws.Engine.Status()
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"from":        from.String(),
						"now":         st.Now.String(),
						"branch_name": st.BranchName,
						"new_branch":  st.HiBranch > before.HiBranch,
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Travelled from %s to %s (branch %q)\n", from, st.Now, st.BranchName)
				if st.HiBranch > before.HiBranch {
					fmt.Fprintf(cmd.OutOrStdout(), "Created branch %d\n", st.Now.Branch)
				}
				return nil
			})
		},
	}

	cmd.Flags().String("main", "", "Switch to the named root branch")
	return cmd
}

func parseTick(s string) (int, error) {
	tick, err := strconv.Atoi(s)
	if err != nil || tick < 0 {
		return 0, fmt.Errorf("tick must be a non-negative integer, got %q", s)
	}
	return tick, nil
}
