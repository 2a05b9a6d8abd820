package main

import (
	"context"
	"fmt"

	"github.com/nvandessel/worldline/internal/backup"
	"github.com/nvandessel/worldline/internal/pathutil"
	"github.com/spf13/cobra"
)

func newRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <file>",
		Short: "Restore the world from a backup file",
		Long: `Load the rows of a backup file into the world's row store. No engine
may have the world open while restoring.

Modes:
  merge   - Overwrite rows at the same coordinates, keep the rest (default)
  replace - Empty every table first

Examples:
  worldline restore .worldline/backups/worldline-backup-20260206-120000.000.wlb
  worldline restore backup.wlb --mode replace`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputPath := args[0]
			jsonOut, _ := cmd.Flags().GetBool("json")
			modeFlag, _ := cmd.Flags().GetString("mode")

			mode, err := backup.ParseRestoreMode(modeFlag)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rows, cfg, root, err := openRows(ctx, cmd)
			if err != nil {
				return err
			}
			defer rows.Close()

			allowedDirs, err := pathutil.AllowedBackupDirs(root, cfg.BackupDir(root))
			if err != nil {
				return fmt.Errorf("failed to determine allowed backup dirs: %w", err)
			}
			result, err := backup.Restore(ctx, rows, inputPath, mode, allowedDirs...)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"rows_restored": result.RowsRestored,
					"mode":          result.Mode,
					"created_at":    result.CreatedAt,
					"message":       fmt.Sprintf("Restored %d rows (%s)", result.RowsRestored, result.Mode),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d rows (%s) from backup of %s\n",
				result.RowsRestored, result.Mode, result.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	}

	cmd.Flags().String("mode", "merge", "Restore mode: merge or replace")
	return cmd
}
