package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newEternalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eternal [key] [value]",
		Short: "Read or write variables that hold across all of time",
		Long: `Eternal variables are not tied to a branch or tick; time travel does
not change them. Values are parsed as YAML.

Examples:
  worldline eternal                   # List
  worldline eternal season            # Get
  worldline eternal season '"winter"' # Set
  worldline eternal season --delete   # Delete`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			del, _ := cmd.Flags().GetBool("delete")
			if del && len(args) != 1 {
				return fmt.Errorf("--delete needs exactly one key")
			}

			return withWorkspace(cmd, openOptions{}, func(_ context.Context, ws *workspace) error {
				out := cmd.OutOrStdout()
				eternal := ws.Engine.Eternal()

				switch {
				case len(args) == 0:
					if jsonOut {
						return writeJSON(out, eternal.All())
					}
					keys := eternal.Keys()
					if len(keys) == 0 {
						fmt.Fprintln(out, "No eternal variables")
					}
					for _, k := range keys {
						v, _ := eternal.Get(k)
						fmt.Fprintf(out, "%s: %v\n", k, v)
					}
					return nil

				case del:
					if err := eternal.Delete(args[0]); err != nil {
						return err
					}
					if jsonOut {
						return writeJSON(out, map[string]any{"key": args[0], "deleted": true})
					}
					fmt.Fprintf(out, "Deleted %s\n", args[0])
					return nil

				case len(args) == 1:
					v, ok := eternal.Get(args[0])
					if jsonOut {
						return writeJSON(out, map[string]any{"key": args[0], "value": v, "found": ok})
					}
					if !ok {
						return fmt.Errorf("eternal %q is not set", args[0])
					}
					fmt.Fprintf(out, "%v\n", v)
					return nil
				}

				value, err := parseValue(args[1])
				if err != nil {
					return err
				}
				if err := eternal.Set(args[0], value); err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(out, map[string]any{"key": args[0], "value": value})
				}
				fmt.Fprintf(out, "Set %s = %v\n", args[0], value)
				return nil
			})
		},
	}

	cmd.Flags().Bool("delete", false, "Delete the key")
	return cmd
}
