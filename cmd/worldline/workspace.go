package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nvandessel/worldline/internal/config"
	"github.com/nvandessel/worldline/internal/engine"
	"github.com/nvandessel/worldline/internal/logging"
	"github.com/nvandessel/worldline/internal/rules"
	"github.com/nvandessel/worldline/internal/script"
	"github.com/nvandessel/worldline/internal/store"
	"github.com/nvandessel/worldline/internal/travel"
	"github.com/nvandessel/worldline/internal/world"
	"github.com/spf13/cobra"
)

// workspace is an open world under a project root.
type workspace struct {
	Root    string
	Config  *config.Config
	Engine  *engine.Engine
	Logger  *slog.Logger
	turnLog *logging.TurnLogger
}

// openOptions tweaks openWorkspace.
type openOptions struct {
	// seed is used when the store holds no world yet. Zero defers to config.
	seed uint64
}

// openWorkspace loads the project's config, opens its row store, loads the
// Lua scripts and opens the engine over them.
func openWorkspace(ctx context.Context, cmd *cobra.Command, opts openOptions) (*workspace, error) {
	root, _ := cmd.Flags().GetString("root")

	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())

	rows, err := store.Open(ctx, cfg.Store.Backend, cfg.StorePath(root), engine.Tables())
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	reg := rules.NewRegistry()
	rt := script.New(reg, logger)
	n, err := rt.LoadDir(cfg.ScriptsDir(root))
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to load scripts: %w", err)
	}
	logger.Debug("loaded scripts", "count", n, "dir", cfg.ScriptsDir(root))

	var turnLog *logging.TurnLogger
	if logging.TurnLogEnabled(cfg.Logging.Level, cfg.Logging.TurnLog) {
		if turnLog, err = logging.OpenTurnLog(store.LocalPath(root)); err != nil {
			logger.Warn("turn log disabled", "error", err)
		}
	}

	seed := opts.seed
	if seed == 0 {
		seed = cfg.Engine.Seed
	}
	e, err := engine.Open(ctx, engine.Options{
		Rows:         rows,
		Registry:     reg,
		Seed:         seed,
		DefaultSpeed: cfg.Engine.DefaultSpeed,
		CollapseRuns: cfg.Engine.CollapseRuns,
		Logger:       logger,
		TurnLog:      turnLog,
	})
	if err != nil {
		rows.Close()
		turnLog.Close()
		return nil, fmt.Errorf("failed to open world: %w", err)
	}

	err = e.Update(func(_ *world.World, r *rules.Engine, _ *travel.Planner) error {
		return rt.Install(r)
	})
	if err != nil {
		e.Close(ctx)
		turnLog.Close()
		return nil, fmt.Errorf("failed to install scripts: %w", err)
	}

	return &workspace{Root: root, Config: cfg, Engine: e, Logger: logger, turnLog: turnLog}, nil
}

// Close checkpoints and closes the engine.
func (ws *workspace) Close(ctx context.Context) error {
	err := ws.Engine.Close(ctx)
	ws.turnLog.Close()
	return err
}

// withWorkspace runs fn over an open workspace and closes it afterwards,
// reporting the close error when fn succeeded.
func withWorkspace(cmd *cobra.Command, opts openOptions, fn func(ctx context.Context, ws *workspace) error) (retErr error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ws, err := openWorkspace(ctx, cmd, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := ws.Close(ctx); err != nil && retErr == nil {
			retErr = fmt.Errorf("failed to save world: %w", err)
		}
	}()
	return fn(ctx, ws)
}

// openRows opens the configured row store without an engine on top.
func openRows(ctx context.Context, cmd *cobra.Command) (store.RowStore, *config.Config, string, error) {
	root, _ := cmd.Flags().GetString("root")
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, nil, "", err
	}
	if cfg.Store.Backend == store.BackendMemory {
		return nil, nil, "", fmt.Errorf("the memory backend keeps nothing on disk")
	}
	path := cfg.StorePath(root)
	if _, err := os.Stat(path); err != nil {
		return nil, nil, "", fmt.Errorf("no world at %s (run 'worldline init'): %w", path, err)
	}
	rows, err := store.Open(ctx, cfg.Store.Backend, path, engine.Tables())
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to open store: %w", err)
	}
	return rows, cfg, root, nil
}

func loadConfig(root string) (*config.Config, error) {
	cfg, err := config.Load(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
