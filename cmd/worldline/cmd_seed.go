package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nvandessel/worldline/internal/graphdoc"
	"github.com/nvandessel/worldline/internal/rules"
	"github.com/nvandessel/worldline/internal/travel"
	"github.com/nvandessel/worldline/internal/world"
	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed [file]",
		Short: "Load characters from a YAML or JSON world file",
		Long: `Create the characters, places, things and portals described in a world
file at the time cursor, and set its eternal variables. A seed in the file
applies only when the world is new.

With --export, write the world at the cursor to a file instead.

Examples:
  worldline seed world.yaml
  worldline seed --export snapshot.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			export, _ := cmd.Flags().GetString("export")

			if export != "" {
				if len(args) > 0 {
					return fmt.Errorf("--export takes no world file")
				}
				return exportWorld(cmd, export, jsonOut)
			}
			if len(args) == 0 {
				return fmt.Errorf("a world file is required")
			}

			doc, err := graphdoc.ParseFile(args[0])
			if err != nil {
				return err
			}
			var opts openOptions
			if doc.Seed != nil {
				opts.seed = *doc.Seed
			}

			return withWorkspace(cmd, opts, func(_ context.Context, ws *workspace) error {
				err := ws.Engine.Update(func(w *world.World, _ *rules.Engine, _ *travel.Planner) error {
					return graphdoc.Apply(w, doc)
				})
				if err != nil {
					return fmt.Errorf("failed to seed world: %w", err)
				}
				for k, v := range doc.Eternal {
					if err := ws.Engine.Eternal().Set(k, v); err != nil {
						return fmt.Errorf("eternal %q: %w", k, err)
					}
				}

				names := make([]string, len(doc.Characters))
				for i, c := range doc.Characters {
					names[i] = c.Name
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"file":       args[0],
						"characters": names,
						"eternal":    len(doc.Eternal),
						"at":         ws.Engine.Now().String(),
					})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d characters and %d eternal values at %s\n",
					len(names), len(doc.Eternal), ws.Engine.Now())
				return nil
			})
		},
	}

	cmd.Flags().String("export", "", "Write the world at the cursor to this file (.yaml or .json)")
	return cmd
}

func exportWorld(cmd *cobra.Command, path string, jsonOut bool) error {
	return withWorkspace(cmd, openOptions{}, func(_ context.Context, ws *workspace) error {
		var doc *graphdoc.Document
		now := ws.Engine.Now()
		err := ws.Engine.View(now, func(w *world.World) error {
			doc = graphdoc.Snapshot(w)
			return nil
		})
		if err != nil {
			return err
		}
		seed := ws.Engine.Seed()
		doc.Seed = &seed
		doc.Eternal = ws.Engine.Eternal().All()

		data, err := graphdoc.Marshal(doc, graphdoc.FormatOf(path))
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}

		if jsonOut {
			return writeJSON(cmd.OutOrStdout(), map[string]any{
				"file":       path,
				"characters": len(doc.Characters),
				"at":         now.String(),
			})
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d characters at %s to %s\n", len(doc.Characters), now, path)
		return nil
	})
}
