package main

import (
	"context"
	"fmt"

	"github.com/nvandessel/worldline/internal/mcp"
	"github.com/spf13/cobra"
)

func newMCPServerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-server",
		Short: "Serve the world to MCP clients over stdio",
		Long: `Run a Model Context Protocol server on stdin/stdout. Clients can run
turns, travel through time, schedule journeys, read and write stats, query
history, render graphs and take backups.

Logs go to stderr so they never corrupt the protocol stream.`,
		RunE: func(cmd *cobra.Command, args []string) (retErr error) {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ws, err := openWorkspace(ctx, cmd, openOptions{})
			if err != nil {
				return err
			}
			defer ws.turnLog.Close()

			server, err := mcp.NewServer(&mcp.Config{
				Name:     "worldline",
				Version:  version,
				Root:     ws.Root,
				Engine:   ws.Engine,
				Settings: ws.Config,
				Logger:   ws.Logger,
			})
			if err != nil {
				ws.Engine.Close(ctx)
				return fmt.Errorf("failed to create MCP server: %w", err)
			}
			defer func() {
				if err := server.Close(); err != nil && retErr == nil {
					retErr = fmt.Errorf("failed to save world: %w", err)
				}
			}()

			ws.Logger.Info("mcp server starting", "root", ws.Root, "now", ws.Engine.Now().String())
			return server.Run(ctx)
		},
	}
}
