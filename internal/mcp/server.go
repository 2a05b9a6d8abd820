// Package mcp provides an MCP (Model Context Protocol) server that lets an
// agent drive a worldline engine: advance turns, travel through time, read
// and write stats, and query history.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/worldline/internal/backup"
	"github.com/nvandessel/worldline/internal/config"
	"github.com/nvandessel/worldline/internal/engine"
	"github.com/nvandessel/worldline/internal/logging"
	"github.com/nvandessel/worldline/internal/ratelimit"
)

// toolLimits caps how often each tool may be called. worldline_run is
// charged per turn, so its limit counts turns rather than calls.
var toolLimits = map[string]ratelimit.Limit{
	"worldline_status":      {PerMinute: 120, Burst: 20},
	"worldline_run":         {PerMinute: 3000, Burst: maxRunTurns},
	"worldline_travel":      {PerMinute: 60, Burst: 10},
	"worldline_back":        {PerMinute: 60, Burst: 10},
	"worldline_switch_main": {PerMinute: 20, Burst: 5},
	"worldline_journey":     {PerMinute: 60, Burst: 10},
	"worldline_stat":        {PerMinute: 120, Burst: 20},
	"worldline_eternal":     {PerMinute: 120, Burst: 20},
	"worldline_turns_when":  {PerMinute: 30, Burst: 5},
	"worldline_report":      {PerMinute: 120, Burst: 20},
	"worldline_graph":       {PerMinute: 20, Burst: 5},
	"worldline_backup":      {PerMinute: 2, Burst: 1},
}

// Server wraps the MCP SDK server around one engine.
type Server struct {
	server       *sdk.Server
	engine       *engine.Engine
	settings     *config.Config
	logger       *slog.Logger
	root         string
	auditLogger  *AuditLogger
	toolLimiters ratelimit.ToolLimiters
	retention    backup.Retention
}

// Config holds server configuration.
type Config struct {
	Name    string // Server name (e.g., "worldline")
	Version string // Server version
	Root    string // Project root directory

	// Engine is required. The server closes it on Close.
	Engine *engine.Engine

	// Settings supplies backup locations and retention. Nil means defaults.
	Settings *config.Config

	Logger *slog.Logger
}

// NewServer creates a new MCP server with worldline tools.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	retention, err := settings.Retention()
	if err != nil {
		return nil, fmt.Errorf("backup retention: %w", err)
	}

	mcpServer := sdk.NewServer(&sdk.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &sdk.ServerOptions{
		InitializedHandler: func(ctx context.Context, req *sdk.InitializedRequest) {
			logger.Debug("mcp client initialized")
		},
	})

	audit, err := OpenAuditLog(cfg.Root)
	if err != nil {
		logger.Warn("audit log disabled", "error", err)
	}

	s := &Server{
		server:       mcpServer,
		engine:       cfg.Engine,
		settings:     settings,
		logger:       logger,
		root:         cfg.Root,
		auditLogger:  audit,
		toolLimiters: ratelimit.NewToolLimiters(toolLimits),
		retention:    retention,
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Run starts the MCP server over stdio transport.
// This blocks until the client disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	notifySignals(sigChan)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case <-sigChan:
			s.logger.Info("mcp server interrupted")
			cancel()
		case <-ctx.Done():
		}
	}()

	return s.server.Run(ctx, &sdk.StdioTransport{})
}

// Close checkpoints and closes the engine and the audit log.
func (s *Server) Close() error {
	return errors.Join(s.engine.Close(context.Background()), s.auditLogger.Close())
}
