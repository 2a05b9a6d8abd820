package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nvandessel/worldline/internal/config"
	"github.com/nvandessel/worldline/internal/store"
	"github.com/spf13/cobra"
)

const exampleScript = `-- Rules in this directory are loaded in name order on every start.
--
-- worldline.trigger("hungry", function(e) return (e:stat("food") or 0) < 1 end)
-- worldline.action("forage", function(e) e:set_stat("food", 3) end)
-- worldline.rule{name = "forage", triggers = {"hungry"}, actions = {"forage"},
--   bind = {{kind = "things", character = "physical"}}}
`

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a world in the current directory",
		Long: `Create the .worldline/ directory with a default config.yaml, a scripts
directory for Lua rules and an empty world.

Examples:
  worldline init                  # SQLite store (default)
  worldline init --backend bolt   # bbolt store
  worldline init --seed 42        # Fix the world's random seed`,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, _ := cmd.Flags().GetString("root")
			jsonOut, _ := cmd.Flags().GetBool("json")
			backend, _ := cmd.Flags().GetString("backend")
			seed, _ := cmd.Flags().GetUint64("seed")

			dir, err := store.EnsureLocalDir(root)
			if err != nil {
				return err
			}

			cfgPath := config.Path(root)
			created := false
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				cfg := config.Default()
				if backend != "" {
					cfg.Store.Backend = store.Backend(backend)
				}
				cfg.Engine.Seed = seed
				if err := cfg.Validate(); err != nil {
					return err
				}
				if err := config.Save(cfg, cfgPath); err != nil {
					return err
				}
				created = true
			} else if backend != "" {
				return fmt.Errorf("%s already exists; use 'worldline config set store.backend %s'", cfgPath, backend)
			}

			cfg, err := config.Load(root)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			scripts := cfg.ScriptsDir(root)
			if _, err := os.Stat(scripts); os.IsNotExist(err) {
				if err := os.MkdirAll(scripts, 0755); err != nil {
					return fmt.Errorf("failed to create scripts directory: %w", err)
				}
				if err := os.WriteFile(filepath.Join(scripts, "README.lua"), []byte(exampleScript), 0644); err != nil {
					return fmt.Errorf("failed to write example script: %w", err)
				}
			}

			var st statusView
			err = withWorkspace(cmd, openOptions{seed: seed}, func(_ context.Context, ws *workspace) error {
				s, err := ws.Engine.Status()
				st = newStatusView(s)
				return err
			})
			if err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"dir":            dir,
					"config":         cfgPath,
					"config_created": created,
					"backend":        cfg.Store.Backend,
					"store":          cfg.StorePath(root),
					"seed":           st.Seed,
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized %s\n", dir)
			if created {
				fmt.Fprintf(out, "  Config:  %s\n", cfgPath)
			}
			fmt.Fprintf(out, "  Store:   %s (%s)\n", cfg.StorePath(root), cfg.Store.Backend)
			fmt.Fprintf(out, "  Scripts: %s\n", scripts)
			fmt.Fprintf(out, "  Seed:    %d\n", st.Seed)
			return nil
		},
	}

	cmd.Flags().String("backend", "", "Row store backend: sqlite, bolt or memory")
	cmd.Flags().Uint64("seed", 0, "Random seed of the new world (0 = default)")
	return cmd
}
