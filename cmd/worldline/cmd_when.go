package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newWhenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "when <query>",
		Short: "Find the ticks at which a condition held",
		Long: `Evaluate a condition over the history of the current branch and list
the ticks at which it held, up to the time cursor. With --now, only say
whether it holds at the cursor.

Operands are stat refs ("physical.kobold.hp"), numbers, quoted strings and
booleans, compared with == != < <= > >= and combined with and, or, not.

Examples:
  worldline when 'physical.kobold.hp < 5'
  worldline when 'physical.kobold.location == "field" and physical.count > 3'
  worldline when --now 'physical.kobold.hp < 5'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			nowOnly, _ := cmd.Flags().GetBool("now")

			return withWorkspace(cmd, openOptions{}, func(_ context.Context, ws *workspace) error {
				expr, err := ws.Engine.ParseQuery(args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				now := ws.Engine.Now().String()

				if nowOnly {
					ok, err := ws.Engine.Eval(expr)
					if err != nil {
						return err
					}
					if jsonOut {
						return writeJSON(out, map[string]any{"query": args[0], "now": now, "holds": ok})
					}
					fmt.Fprintf(out, "%t at %s\n", ok, now)
					return nil
				}

				ticks, err := ws.Engine.TurnsWhen(expr)
				if err != nil {
					return err
				}
				if ticks == nil {
					ticks = []int{}
				}
				if jsonOut {
					return writeJSON(out, map[string]any{"query": args[0], "now": now, "ticks": ticks})
				}
				if len(ticks) == 0 {
					fmt.Fprintf(out, "Never held up to %s\n", now)
					return nil
				}
				fmt.Fprintf(out, "Held at %d ticks up to %s:\n", len(ticks), now)
				for _, t := range ticks {
					fmt.Fprintf(out, "  %d\n", t)
				}
				return nil
			})
		},
	}

	cmd.Flags().Bool("now", false, "Only evaluate at the time cursor")
	return cmd
}
