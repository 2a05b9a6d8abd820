package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/nvandessel/worldline/internal/engine"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [turns]",
		Short: "Advance the simulation",
		Long: `Run turns from the time cursor. Turns already simulated on this branch
are replayed without running rules. A rule that changes a fixed future
forks a new branch and the turn continues there.

Examples:
  worldline run        # One turn
  worldline run 100    # A hundred turns
  worldline run 5 -v   # Print every rule event`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			verbose, _ := cmd.Flags().GetBool("verbose")

			turns := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("turns must be a positive integer, got %q", args[0])
				}
				turns = n
			}

			return withWorkspace(cmd, openOptions{}, func(ctx context.Context, ws *workspace) error {
				results, err := ws.Engine.Run(ctx, turns)
				if err != nil && len(results) == 0 {
					return err
				}
				if jsonOut {
					if jerr := writeJSON(cmd.OutOrStdout(), map[string]any{
						"turns":   results,
						"now":     ws.Engine.Now().String(),
						"summary": summarizeTurns(results),
					}); jerr != nil {
						return jerr
					}
					return err
				}

				out := cmd.OutOrStdout()
				for _, r := range results {
					if !verbose && r.Fired == 0 && r.Forked < 0 {
						continue
					}
					fmt.Fprintf(out, "%d.%d  %s\n", r.Branch, r.Tick, describeTurn(r))
					if verbose {
						if len(r.Rules) > 0 {
							fmt.Fprintf(out, "    fired: %s\n", strings.Join(r.Rules, ", "))
						}
						for _, ev := range r.Events {
							line := fmt.Sprintf("    %s on %s", ev.Rule, ev.Entity)
							if ev.Result != "" {
								line += ": " + ev.Result
							}
							fmt.Fprintln(out, line)
						}
					}
				}
				s := summarizeTurns(results)
				fmt.Fprintf(out, "Ran %d turns (%d replayed, %d rules fired, %d forks). Now %s\n",
					s.Turns, s.Replayed, s.Fired, s.Forks, ws.Engine.Now())
				return err
			})
		},
	}

	cmd.Flags().BoolP("verbose", "v", false, "Print every rule event")
	return cmd
}

type turnSummary struct {
	Turns    int `json:"turns"`
	Replayed int `json:"replayed"`
	Fired    int `json:"fired"`
	Forks    int `json:"forks"`
}

func summarizeTurns(results []engine.TurnResult) turnSummary {
	s := turnSummary{Turns: len(results)}
	for _, r := range results {
		if r.Replayed {
			s.Replayed++
		}
		if r.Forked >= 0 {
			s.Forks++
		}
		s.Fired += r.Fired
	}
	return s
}

func describeTurn(r engine.TurnResult) string {
	switch {
	case r.Replayed:
		return "replayed"
	case r.Forked >= 0:
		return fmt.Sprintf("%d rules fired (forked to branch %d)", r.Fired, r.Forked)
	}
	return fmt.Sprintf("%d rules fired", r.Fired)
}
