package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newStatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <ref> [name] [value]",
		Short: "Read or write stats at the time cursor",
		Long: `Read or write stats of an entity at the time cursor. A ref is a
character, "character.node" for a place or thing, or
"character.origin->destination" for a portal.

Values are parsed as YAML, so 3 is a number, true a boolean and [1, 2] a list.
Writing a stat into a fixed future forks a new branch.

Examples:
  worldline stat physical.kobold             # All stats
  worldline stat physical.kobold hp          # One stat
  worldline stat physical.kobold hp 12       # Set
  worldline stat physical.kobold hp --delete # Delete`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			del, _ := cmd.Flags().GetBool("delete")
			ref := args[0]

			if del && len(args) != 2 {
				return fmt.Errorf("--delete needs a ref and a stat name")
			}

			return withWorkspace(cmd, openOptions{}, func(_ context.Context, ws *workspace) error {
				out := cmd.OutOrStdout()
				at := ws.Engine.Now().String()

				switch {
				case len(args) == 1:
					stats, err := ws.Engine.Stats(ref)
					if err != nil {
						return err
					}
					if jsonOut {
						return writeJSON(out, map[string]any{"ref": ref, "at": at, "stats": stats})
					}
					names := make([]string, 0, len(stats))
					for k := range stats {
						names = append(names, k)
					}
					sort.Strings(names)
					fmt.Fprintf(out, "%s at %s:\n", ref, at)
					for _, k := range names {
						fmt.Fprintf(out, "  %s: %v\n", k, stats[k])
					}
					return nil

				case len(args) == 2 && !del:
					v, ok, err := ws.Engine.Stat(ref, args[1])
					if err != nil {
						return err
					}
					if jsonOut {
						return writeJSON(out, map[string]any{"ref": ref, "name": args[1], "at": at, "value": v, "found": ok})
					}
					if !ok {
						fmt.Fprintf(out, "%s.%s is not set at %s\n", ref, args[1], at)
						return nil
					}
					fmt.Fprintf(out, "%v\n", v)
					return nil
				}

				var value any
				if !del {
					var err error
					if value, err = parseValue(args[2]); err != nil {
						return err
					}
				}
				if err := ws.Engine.SetStat(ref, args[1], value); err != nil {
					return err
				}
				now := ws.Engine.Now().String()
				if jsonOut {
					return writeJSON(out, map[string]any{"ref": ref, "name": args[1], "at": now, "value": value, "deleted": del})
				}
				if del {
					fmt.Fprintf(out, "Deleted %s.%s at %s\n", ref, args[1], now)
				} else {
					fmt.Fprintf(out, "Set %s.%s = %v at %s\n", ref, args[1], value, now)
				}
				return nil
			})
		},
	}

	cmd.Flags().Bool("delete", false, "Delete the stat")
	return cmd
}

// parseValue reads a command-line value as a YAML scalar or collection.
func parseValue(s string) (any, error) {
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", s, err)
	}
	if v == nil {
		return nil, fmt.Errorf("empty value; use --delete to remove a stat")
	}
	return v, nil
}
