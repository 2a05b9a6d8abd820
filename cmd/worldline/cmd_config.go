package main

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nvandessel/worldline/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage worldline configuration",
		Long: `View and modify the project's settings in .worldline/config.yaml.
WORLDLINE_* environment variables override the file; 'config list' shows
the effective values.

Examples:
  worldline config list
  worldline config get store.backend
  worldline config set store.backend bolt
  worldline config set backup.max_age 30d`,
	}

	cmd.AddCommand(
		newConfigListCmd(),
		newConfigGetCmd(),
		newConfigSetCmd(),
	)
	return cmd
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			root, _ := cmd.Flags().GetString("root")

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), cfg)
			}

			settings, err := flattenConfig(cfg)
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(settings))
			for k := range settings {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration (%s):\n\n", config.Path(root))
			for _, k := range keys {
				fmt.Fprintf(out, "  %-24s %v\n", k+":", settings[k])
			}
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			root, _ := cmd.Flags().GetString("root")

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			settings, err := flattenConfig(cfg)
			if err != nil {
				return err
			}
			v, ok := settings[args[0]]
			if !ok {
				return fmt.Errorf("unknown config key %q", args[0])
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"key": args[0], "value": v})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%v\n", v)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			root, _ := cmd.Flags().GetString("root")
			key, raw := args[0], args[1]

			path := config.Path(root)
			cfg := config.Default()
			if _, err := os.Stat(path); err == nil {
				if cfg, err = config.LoadFromFile(path); err != nil {
					return err
				}
			}

			updated, err := setConfigValue(cfg, key, raw)
			if err != nil {
				return err
			}
			if err := updated.Validate(); err != nil {
				return err
			}
			if err := config.Save(updated, path); err != nil {
				return err
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"key": key, "value": raw, "path": path})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s in %s\n", key, raw, path)
			return nil
		},
	}
}

// flattenConfig returns every setting keyed by its dotted YAML path.
func flattenConfig(cfg *config.Config) (map[string]any, error) {
	tree, err := configTree(cfg)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	for section, v := range tree {
		fields, ok := v.(map[string]any)
		if !ok {
			out[section] = v
			continue
		}
		for k, fv := range fields {
			out[section+"."+k] = fv
		}
	}
	return out, nil
}

// configTree round-trips cfg through YAML into nested maps, keeping empty
// optional fields so every key can be addressed.
func configTree(cfg *config.Config) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	tree := map[string]any{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	for _, k := range []string{"store.path", "backup.dir", "backup.max_age", "backup.max_total_size"} {
		section, field, _ := strings.Cut(k, ".")
		m, ok := tree[section].(map[string]any)
		if !ok {
			m = map[string]any{}
			tree[section] = m
		}
		if _, ok := m[field]; !ok {
			m[field] = ""
		}
	}
	return tree, nil
}

// setConfigValue returns a copy of cfg with the dotted key set to raw,
// parsed as YAML. Unknown keys are rejected.
func setConfigValue(cfg *config.Config, key, raw string) (*config.Config, error) {
	tree, err := configTree(cfg)
	if err != nil {
		return nil, err
	}
	section, field, ok := strings.Cut(key, ".")
	fields, isMap := tree[section].(map[string]any)
	if !ok || !isMap {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	if _, known := fields[field]; !known {
		return nil, fmt.Errorf("unknown config key %q", key)
	}

	var value any
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", raw, err)
	}
	if value == nil {
		value = ""
	}
	fields[field] = value

	data, err := yaml.Marshal(tree)
	if err != nil {
		return nil, err
	}
	updated := config.Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(updated); err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return updated, nil
}
