package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nvandessel/worldline/internal/backup"
	"github.com/nvandessel/worldline/internal/pathutil"
	"github.com/spf13/cobra"
)

func newBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write every row of the world to a backup file",
		Long: `Back up the world's row store to a zstd-compressed file with a
checksummed header. Backups restore into any backend.

Default location: .worldline/backups/worldline-backup-YYYYMMDD-HHMMSS.mmm.wlb
Old backups are pruned by the backup retention settings (default: last 10).

Examples:
  worldline backup                       # Backup to the default location
  worldline backup --output my.wlb       # Must be inside a backup directory
  worldline backup list                  # List backups
  worldline backup verify <file>         # Verify a backup's checksum`,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outputPath, _ := cmd.Flags().GetString("output")

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			rows, cfg, root, err := openRows(ctx, cmd)
			if err != nil {
				return err
			}
			defer rows.Close()

			backupDir := cfg.BackupDir(root)
			if outputPath == "" {
				outputPath = backup.GenerateBackupPath(backupDir)
			}
			allowedDirs, err := pathutil.AllowedBackupDirs(root, backupDir)
			if err != nil {
				return fmt.Errorf("failed to determine allowed backup dirs: %w", err)
			}
			retention, err := cfg.Retention()
			if err != nil {
				return err
			}

			header, err := backup.Backup(ctx, rows, outputPath, allowedDirs...)
			if err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			pruned, err := backup.Prune(backupDir, retention)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to apply retention: %v\n", err)
			}

			var sizeBytes int64
			if info, err := os.Stat(outputPath); err == nil {
				sizeBytes = info.Size()
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"path":       outputPath,
					"rows":       header.Rows,
					"checksum":   header.Checksum,
					"size_bytes": sizeBytes,
					"pruned":     len(pruned),
					"message":    fmt.Sprintf("Backup created: %d rows", header.Rows),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup created: %d rows (%s)\n", header.Rows, formatSize(sizeBytes))
			fmt.Fprintf(cmd.OutOrStdout(), "  Path: %s\n", outputPath)
			if len(pruned) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "  Pruned %d old backups\n", len(pruned))
			}
			return nil
		},
	}

	cmd.Flags().String("output", "", "Output file path (default: auto-generated in the backup directory)")

	cmd.AddCommand(
		newBackupListCmd(),
		newBackupVerifyCmd(),
	)
	return cmd
}

func newBackupListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backups with metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			root, _ := cmd.Flags().GetString("root")

			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			dir := cfg.BackupDir(root)
			backups, err := backup.ListBackups(dir)
			if err != nil {
				return fmt.Errorf("failed to list backups: %w", err)
			}

			if jsonOut {
				type jsonEntry struct {
					Path      string `json:"path"`
					Version   int    `json:"version"`
					Size      int64  `json:"size_bytes"`
					CreatedAt string `json:"created_at"`
					Rows      int    `json:"rows"`
				}
				entries := make([]jsonEntry, 0, len(backups))
				for _, b := range backups {
					entries = append(entries, jsonEntry{
						Path:      b.Path,
						Version:   b.Version,
						Size:      b.Size,
						CreatedAt: b.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
						Rows:      b.Rows,
					})
				}
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"backups":     entries,
					"total_count": len(entries),
					"directory":   dir,
				})
			}

			out := cmd.OutOrStdout()
			if len(backups) == 0 {
				fmt.Fprintf(out, "No backups found in %s\n", dir)
				return nil
			}
			fmt.Fprintf(out, "Backups in %s:\n", dir)
			var totalSize int64
			for _, b := range backups {
				totalSize += b.Size
				fmt.Fprintf(out, "  %s  %s  %6d rows  %s\n",
					b.CreatedAt.Local().Format("2006-01-02 15:04:05"), formatSize(b.Size), b.Rows, pathutil.RedactPath(b.Path))
			}
			fmt.Fprintf(out, "\n%d backups, %s total\n", len(backups), formatSize(totalSize))
			return nil
		},
	}
}

func newBackupVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify a backup's checksum",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filePath := args[0]
			jsonOut, _ := cmd.Flags().GetBool("json")

			err := backup.VerifyChecksum(filePath)
			if err != nil {
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"file":    filePath,
						"valid":   false,
						"error":   err.Error(),
						"message": fmt.Sprintf("Integrity check failed: %v", err),
					})
				}
				return fmt.Errorf("integrity check failed: %w", err)
			}

			header, err := backup.ReadHeader(filePath)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"file":       filePath,
					"valid":      true,
					"version":    header.Version,
					"rows":       header.Rows,
					"created_at": header.CreatedAt,
					"checksum":   header.Checksum,
					"message":    "Integrity check passed",
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Integrity check passed\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  File:     %s\n", filePath)
			fmt.Fprintf(cmd.OutOrStdout(), "  Rows:     %d\n", header.Rows)
			fmt.Fprintf(cmd.OutOrStdout(), "  Created:  %s\n", header.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(cmd.OutOrStdout(), "  Checksum: %s\n", header.Checksum)
			return nil
		},
	}
}

// formatSize formats a byte count for display.
func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
