package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/nvandessel/worldline/internal/visualization"
	"github.com/spf13/cobra"
)

func newGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <character>",
		Short: "Visualize a character's places, things and portals",
		Long: `Output a character's graph in DOT (Graphviz), JSON, or HTML format, at
the time cursor or at --branch/--tick.

With --serve, start a local server whose page can step through time.

Examples:
  worldline graph physical | dot -Tsvg > physical.svg
  worldline graph physical --format json --branch 0 --tick 10
  worldline graph physical --format html -o physical.html
  worldline graph physical --serve`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatFlag, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			noOpen, _ := cmd.Flags().GetBool("no-open")
			serve, _ := cmd.Flags().GetBool("serve")
			addr, _ := cmd.Flags().GetString("addr")
			branch, _ := cmd.Flags().GetInt("branch")
			tick, _ := cmd.Flags().GetInt("tick")
			character := args[0]

			format, err := visualization.ParseFormat(formatFlag)
			if err != nil {
				return err
			}
			var at *timestream.Time
			switch {
			case branch >= 0 && tick >= 0:
				at = &timestream.Time{Branch: branch, Tick: tick}
			case branch >= 0 || tick >= 0:
				return fmt.Errorf("--branch and --tick must be given together")
			}

			return withWorkspace(cmd, openOptions{}, func(ctx context.Context, ws *workspace) error {
				source := visualization.EngineSource{Engine: ws.Engine}
				if serve {
					return runGraphServer(ctx, cmd, visualization.NewServer(source, character), addr, noOpen)
				}

				g, err := source.Graph(character, at)
				if err != nil {
					return err
				}
				data, err := visualization.Render(g, format)
				if err != nil {
					return fmt.Errorf("render %s: %w", format, err)
				}

				if format == visualization.FormatHTML {
					return writeStaticHTML(cmd, data, output, character, noOpen)
				}
				if output != "" {
					if err := os.WriteFile(output, data, 0644); err != nil {
						return fmt.Errorf("write %s: %w", output, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Graph written to %s\n", output)
					return nil
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			})
		},
	}

	cmd.Flags().String("format", "dot", "Output format: dot, json, or html")
	cmd.Flags().StringP("output", "o", "", "Output file path")
	cmd.Flags().Int("branch", -1, "Branch to capture (default: cursor)")
	cmd.Flags().Int("tick", -1, "Tick to capture (default: cursor)")
	cmd.Flags().Bool("no-open", false, "Don't open browser after generating HTML")
	cmd.Flags().Bool("serve", false, "Start a local server that can step through time")
	cmd.Flags().String("addr", "localhost:0", "Listen address for --serve")

	return cmd
}

// writeStaticHTML writes a rendered page and opens it.
func writeStaticHTML(cmd *cobra.Command, page []byte, output, character string, noOpen bool) error {
	outPath := output
	if outPath == "" {
		outPath = filepath.Join(os.TempDir(), "worldline-"+character+".html")
	}
	if err := os.WriteFile(outPath, page, 0644); err != nil {
		return fmt.Errorf("write HTML file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Graph written to %s\n", outPath)

	if !noOpen {
		if err := visualization.OpenBrowser(outPath); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not open browser: %v\nOpen %s manually.\n", err, outPath)
		}
	}
	return nil
}

// runGraphServer serves the graph page and blocks until interrupted.
func runGraphServer(ctx context.Context, cmd *cobra.Command, srv *visualization.Server, addr string, noOpen bool) error {
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
			srvCancel()
		case <-srvCtx.Done():
		}
	}()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(srvCtx, addr) }()

	deadline := time.Now().Add(3 * time.Second)
	for srv.Addr() == "" && time.Now().Before(deadline) {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-time.After(10 * time.Millisecond):
		}
	}
	if srv.Addr() == "" {
		return fmt.Errorf("server failed to start")
	}

	url := "http://" + srv.Addr()
	fmt.Fprintf(cmd.OutOrStdout(), "Graph server running at %s\n", url)
	fmt.Fprintf(cmd.OutOrStdout(), "Press Ctrl-C to stop.\n")

	if !noOpen {
		if err := visualization.OpenBrowser(url); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Could not open browser: %v\nOpen %s manually.\n", err, url)
		}
	}

	if err := <-errCh; err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}
