package mcp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/nvandessel/worldline/internal/backup"
	"github.com/nvandessel/worldline/internal/pathutil"
	"github.com/nvandessel/worldline/internal/ratelimit"
	"github.com/nvandessel/worldline/internal/store"
	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/nvandessel/worldline/internal/visualization"
)

// maxRunTurns bounds a single worldline_run call.
const maxRunTurns = 1000

// registerTools registers all worldline MCP tools with the server.
func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_status",
		Description: "Show the time cursor, the main branch, the seed, every character and the branch tree",
	}, s.handleStatus)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_run",
		Description: "Advance the simulation by one or more turns; turns already simulated are replayed",
	}, s.handleRun)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_travel",
		Description: "Move the time cursor to a branch and tick; one past the highest branch forks a new branch",
	}, s.handleTravel)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_back",
		Description: "Undo the last time travel",
	}, s.handleBack)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_switch_main",
		Description: "Switch to a named root branch, creating it when it does not exist",
	}, s.handleSwitchMain)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_journey",
		Description: "Schedule a thing to travel along portals to a destination place",
	}, s.handleJourney)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_stat",
		Description: "Read, write or delete stats of a character, place or thing at the time cursor",
	}, s.handleStat)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_eternal",
		Description: "Read, write or delete values that do not vary with time",
	}, s.handleEternal)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_turns_when",
		Description: "List the ticks of the current branch at which a comparison over stats held",
	}, s.handleTurnsWhen)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_report",
		Description: "Show which rules fired during a simulated turn",
	}, s.handleReport)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_graph",
		Description: "Render a character's graph in DOT (Graphviz), JSON, or interactive HTML format at any time",
	}, s.handleGraph)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "worldline_backup",
		Description: "Write every stored fact to a compressed, checksummed backup file",
	}, s.handleBackup)
}

// registerResources registers MCP resources for auto-loading into context.
func (s *Server) registerResources() {
	s.server.AddResource(&sdk.Resource{
		URI:         "worldline://status",
		Name:        "worldline-status",
		Description: "Where the time cursor is, which branches exist and which characters live in the world.",
		MIMEType:    "text/markdown",
	}, s.handleStatusResource)
}

func (s *Server) handleStatusResource(ctx context.Context, req *sdk.ReadResourceRequest) (*sdk.ReadResourceResult, error) {
	st, err := s.engine.Status()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("# Worldline\n\n")
	fmt.Fprintf(&sb, "**Now:** branch %d (%s), tick %d\n", st.Now.Branch, st.BranchName, st.Now.Tick)
	fmt.Fprintf(&sb, "**Main branch:** %s\n", st.MainBranch)
	fmt.Fprintf(&sb, "**Seed:** %d\n\n", st.Seed)

	sb.WriteString("## Characters\n\n")
	if len(st.Characters) == 0 {
		sb.WriteString("_none_\n")
	}
	for _, c := range st.Characters {
		fmt.Fprintf(&sb, "- %s\n", c)
	}

	sb.WriteString("\n## Branches\n\n")
	for _, b := range st.Branches {
		if b.Root() {
			fmt.Fprintf(&sb, "- %d `%s` root, ends at %d\n", b.ID, b.Name, b.End)
			continue
		}
		fmt.Fprintf(&sb, "- %d `%s` forked from %d at %d, ends at %d\n", b.ID, b.Name, b.Parent, b.ForkTick, b.End)
	}

	return &sdk.ReadResourceResult{
		Contents: []*sdk.ResourceContents{
			{
				URI:      "worldline://status",
				MIMEType: "text/markdown",
				Text:     sb.String(),
			},
		},
	}, nil
}

// handleStatus implements the worldline_status tool.
func (s *Server) handleStatus(ctx context.Context, req *sdk.CallToolRequest, args StatusInput) (_ *sdk.CallToolResult, _ StatusOutput, retErr error) {
	defer s.audit("worldline_status", nil)(&retErr)

	if err := ratelimit.CheckLimit(s.toolLimiters, "worldline_status"); err != nil {
		return nil, StatusOutput{}, err
	}

	st, err := s.engine.Status()
	if err != nil {
		return nil, StatusOutput{}, fmt.Errorf("status: %w", err)
	}
	return nil, StatusOutput{
		Status:  st,
		Message: fmt.Sprintf("At %s on %q; %d branches, %d characters", st.Now, st.BranchName, len(st.Branches), len(st.Characters)),
	}, nil
}

// handleRun implements the worldline_run tool.
func (s *Server) handleRun(ctx context.Context, req *sdk.CallToolRequest, args RunInput) (_ *sdk.CallToolResult, _ RunOutput, retErr error) {
	defer s.audit("worldline_run", map[string]any{
		"turns": args.Turns,
	})(&retErr)

	n := args.Turns
	if n == 0 {
		n = 1
	}
	if n < 0 || n > maxRunTurns {
		return nil, RunOutput{}, fmt.Errorf("'turns' must be between 1 and %d", maxRunTurns)
	}
	// Every turn costs a token.
	if err := ratelimit.Charge(s.toolLimiters, "worldline_run", n); err != nil {
		return nil, RunOutput{}, err
	}

	results, err := s.engine.Run(ctx, n)
	out := RunOutput{Turns: results, Now: s.engine.Now()}
	for _, r := range results {
		out.Fired += r.Fired
		if r.Replayed {
			out.Replayed++
		}
	}
	if err != nil {
		return nil, RunOutput{}, fmt.Errorf("turn %d of %d failed: %w", len(results)+1, n, err)
	}
	out.Message = fmt.Sprintf("Advanced %d turns to %s: %d actions fired, %d turns replayed", len(results), out.Now, out.Fired, out.Replayed)
	s.logger.Info("turns advanced", "turns", len(results), "now", out.Now.String())
	return nil, out, nil
}

// travelOutput describes the cursor after a move.
func (s *Server) travelOutput(moved bool, verb string) (TravelOutput, error) {
	st, err := s.engine.Status()
	if err != nil {
		return TravelOutput{}, err
	}
	return TravelOutput{
		Now:        st.Now,
		BranchName: st.BranchName,
		Moved:      moved,
		Message:    fmt.Sprintf("%s %s (%s)", verb, st.Now, st.BranchName),
	}, nil
}

// handleTravel implements the worldline_travel tool.
func (s *Server) handleTravel(ctx context.Context, req *sdk.CallToolRequest, args TravelInput) (_ *sdk.CallToolResult, _ TravelOutput, retErr error) {
	defer s.audit("worldline_travel", map[string]any{
		"branch": args.Branch, "branch_name": args.BranchName, "tick": args.Tick,
	})(&retErr)

	if err := ratelimit.CheckLimit(s.toolLimiters, "worldline_travel"); err != nil {
		return nil, TravelOutput{}, err
	}

	var err error
	if args.BranchName != "" {
		err = s.engine.TimeTravelNamed(args.BranchName, args.Tick)
	} else {
		err = s.engine.TimeTravel(args.Branch, args.Tick)
	}
	if err != nil {
		return nil, TravelOutput{}, fmt.Errorf("time travel: %w", err)
	}

	out, err := s.travelOutput(true, "Traveled to")
	if err != nil {
		return nil, TravelOutput{}, err
	}
	return nil, out, nil
}

// handleBack implements the worldline_back tool.
func (s *Server) handleBack(ctx context.Context, req *sdk.CallToolRequest, args BackInput) (_ *sdk.CallToolResult, _ TravelOutput, retErr error) {
	defer s.audit("worldline_back", nil)(&retErr)

	if err := ratelimit.CheckLimit(s.toolLimiters, "worldline_back"); err != nil {
		return nil, TravelOutput{}, err
	}

	_, moved, err := s.engine.Back()
	if err != nil {
		return nil, TravelOutput{}, fmt.Errorf("back: %w", err)
	}
	verb := "Returned to"
	if !moved {
		verb = "No earlier travel; still at"
	}
	out, err := s.travelOutput(moved, verb)
	if err != nil {
		return nil, TravelOutput{}, err
	}
	return nil, out, nil
}

// handleSwitchMain implements the worldline_switch_main tool.
func (s *Server) handleSwitchMain(ctx context.Context, req *sdk.CallToolRequest, args SwitchMainInput) (_ *sdk.CallToolResult, _ TravelOutput, retErr error) {
	defer s.audit("worldline_switch_main", map[string]any{
		"name": args.Name,
	})(&retErr)

	if err := ratelimit.CheckLimit(s.toolLimiters, "worldline_switch_main"); err != nil {
		return nil, TravelOutput{}, err
	}

	if args.Name == "" {
		return nil, TravelOutput{}, fmt.Errorf("'name' parameter is required")
	}
	if err := s.engine.SwitchMainBranch(args.Name); err != nil {
		return nil, TravelOutput{}, fmt.Errorf("switch main branch: %w", err)
	}
	out, err := s.travelOutput(true, "Switched main branch; now at")
	if err != nil {
		return nil, TravelOutput{}, err
	}
	return nil, out, nil
}

// handleJourney implements the worldline_journey tool.
func (s *Server) handleJourney(ctx context.Context, req *sdk.CallToolRequest, args JourneyInput) (_ *sdk.CallToolResult, _ JourneyOutput, retErr error) {
	defer s.audit("worldline_journey", map[string]any{
		"character": args.Character, "thing": args.Thing, "destination": args.Destination,
	})(&retErr)

	if err := ratelimit.CheckLimit(s.toolLimiters, "worldline_journey"); err != nil {
		return nil, JourneyOutput{}, err
	}

	if args.Character == "" || args.Thing == "" || args.Destination == "" {
		return nil, JourneyOutput{}, fmt.Errorf("'character', 'thing' and 'destination' parameters are required")
	}

	res, err := s.engine.JourneyTo(args.Character, args.Thing, args.Destination)
	if err != nil {
		return nil, JourneyOutput{}, fmt.Errorf("journey: %w", err)
	}

	msg := fmt.Sprintf("%s leaves at tick %d and arrives at %s at tick %d", args.Thing, res.Start, args.Destination, res.Arrive)
	if res.Forked {
		msg += fmt.Sprintf(" on new branch %d", res.Branch)
	}
	return nil, JourneyOutput{Result: res, Message: msg}, nil
}

// jsonValue turns integral JSON numbers into integers so that stats written
// over MCP compare equal to stats written by rules.
func jsonValue(v any) any {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jsonValue(e)
		}
		return out
	}
	return v
}

// handleStat implements the worldline_stat tool.
func (s *Server) handleStat(ctx context.Context, req *sdk.CallToolRequest, args StatInput) (_ *sdk.CallToolResult, _ StatOutput, retErr error) {
	defer s.audit("worldline_stat", map[string]any{
		"ref": args.Ref, "name": args.Name, "value": args.Value, "delete": args.Delete,
	})(&retErr)

	if err := ratelimit.CheckLimit(s.toolLimiters, "worldline_stat"); err != nil {
		return nil, StatOutput{}, err
	}

	if args.Ref == "" {
		return nil, StatOutput{}, fmt.Errorf("'ref' parameter is required")
	}
	out := StatOutput{Ref: args.Ref, At: s.engine.Now().String()}

	if args.Name == "" {
		if args.Value != nil || args.Delete {
			return nil, StatOutput{}, fmt.Errorf("'name' parameter is required to write a stat")
		}
		stats, err := s.engine.Stats(args.Ref)
		if err != nil {
			return nil, StatOutput{}, fmt.Errorf("read stats: %w", err)
		}
		out.Stats = stats
		out.Found = len(stats) > 0
		out.Message = fmt.Sprintf("%s has %d stats at %s", args.Ref, len(stats), out.At)
		return nil, out, nil
	}

	switch {
	case args.Delete:
		if err := s.engine.SetStat(args.Ref, args.Name, nil); err != nil {
			return nil, StatOutput{}, fmt.Errorf("delete stat: %w", err)
		}
		out.Message = fmt.Sprintf("Deleted %s.%s at %s", args.Ref, args.Name, out.At)
		return nil, out, nil
	case args.Value != nil:
		v := jsonValue(args.Value)
		if err := s.engine.SetStat(args.Ref, args.Name, v); err != nil {
			return nil, StatOutput{}, fmt.Errorf("write stat: %w", err)
		}
		out.Value, out.Found = v, true
		out.Message = fmt.Sprintf("Set %s.%s = %v at %s", args.Ref, args.Name, v, out.At)
		return nil, out, nil
	}

	v, ok, err := s.engine.Stat(args.Ref, args.Name)
	if err != nil {
		return nil, StatOutput{}, fmt.Errorf("read stat: %w", err)
	}
	out.Value, out.Found = v, ok
	if ok {
		out.Message = fmt.Sprintf("%s.%s = %v at %s", args.Ref, args.Name, v, out.At)
	} else {
		out.Message = fmt.Sprintf("%s.%s is unset at %s", args.Ref, args.Name, out.At)
	}
	return nil, out, nil
}

// handleEternal implements the worldline_eternal tool.
func (s *Server) handleEternal(ctx context.Context, req *sdk.CallToolRequest, args EternalInput) (_ *sdk.CallToolResult, _ EternalOutput, retErr error) {
	defer s.audit("worldline_eternal", map[string]any{
		"key": args.Key, "value": args.Value, "delete": args.Delete,
	})(&retErr)

	if err := ratelimit.CheckLimit(s.toolLimiters, "worldline_eternal"); err != nil {
		return nil, EternalOutput{}, err
	}

	eternal := s.engine.Eternal()
	if args.Key == "" {
		if args.Value != nil || args.Delete {
			return nil, EternalOutput{}, fmt.Errorf("'key' parameter is required to write a value")
		}
		all := eternal.All()
		return nil, EternalOutput{
			Values:  all,
			Found:   len(all) > 0,
			Message: fmt.Sprintf("%d eternal keys", len(all)),
		}, nil
	}

	switch {
	case args.Delete:
		if err := eternal.Delete(args.Key); err != nil {
			return nil, EternalOutput{}, fmt.Errorf("delete eternal: %w", err)
		}
		return nil, EternalOutput{Message: fmt.Sprintf("Deleted %s", args.Key)}, nil
	case args.Value != nil:
		v := jsonValue(args.Value)
		if err := eternal.Set(args.Key, v); err != nil {
			return nil, EternalOutput{}, fmt.Errorf("write eternal: %w", err)
		}
		return nil, EternalOutput{Value: v, Found: true, Message: fmt.Sprintf("Set %s = %v", args.Key, v)}, nil
	}

	v, ok := eternal.Get(args.Key)
	msg := fmt.Sprintf("%s = %v", args.Key, v)
	if !ok {
		msg = fmt.Sprintf("%s is unset", args.Key)
	}
	return nil, EternalOutput{Value: v, Found: ok, Message: msg}, nil
}

// handleTurnsWhen implements the worldline_turns_when tool.
func (s *Server) handleTurnsWhen(ctx context.Context, req *sdk.CallToolRequest, args TurnsWhenInput) (_ *sdk.CallToolResult, _ TurnsWhenOutput, retErr error) {
	defer s.audit("worldline_turns_when", map[string]any{
		"query": args.Query,
	})(&retErr)

	if err := ratelimit.CheckLimit(s.toolLimiters, "worldline_turns_when"); err != nil {
		return nil, TurnsWhenOutput{}, err
	}

	if strings.TrimSpace(args.Query) == "" {
		return nil, TurnsWhenOutput{}, fmt.Errorf("'query' parameter is required")
	}
	expr, err := s.engine.ParseQuery(args.Query)
	if err != nil {
		return nil, TurnsWhenOutput{}, fmt.Errorf("parse query: %w", err)
	}
	ticks, err := s.engine.TurnsWhen(expr)
	if err != nil {
		return nil, TurnsWhenOutput{}, fmt.Errorf("turns when: %w", err)
	}
	now, err := s.engine.Eval(expr)
	if err != nil {
		return nil, TurnsWhenOutput{}, fmt.Errorf("evaluate query: %w", err)
	}
	if ticks == nil {
		ticks = []int{}
	}
	return nil, TurnsWhenOutput{
		Query:   args.Query,
		Ticks:   ticks,
		Now:     now,
		Message: fmt.Sprintf("Query held at %d ticks; now %v", len(ticks), now),
	}, nil
}

// handleReport implements the worldline_report tool.
func (s *Server) handleReport(ctx context.Context, req *sdk.CallToolRequest, args ReportInput) (_ *sdk.CallToolResult, _ ReportOutput, retErr error) {
	defer s.audit("worldline_report", map[string]any{
		"branch": args.Branch, "tick": args.Tick,
	})(&retErr)

	if err := ratelimit.CheckLimit(s.toolLimiters, "worldline_report"); err != nil {
		return nil, ReportOutput{}, err
	}

	now := s.engine.Now()
	branch, tick := now.Branch, now.Tick-1
	if args.Branch != nil {
		branch = *args.Branch
	}
	if args.Tick != nil {
		tick = *args.Tick
	}
	if tick < 0 {
		return nil, ReportOutput{}, fmt.Errorf("no turn has been simulated before %s", now)
	}

	at := timestream.Time{Branch: branch, Tick: tick}
	rep, ok := s.engine.Report(branch, tick)
	if !ok {
		return nil, ReportOutput{Report: rep, Message: fmt.Sprintf("No turn was simulated at %s", at)}, nil
	}
	return nil, ReportOutput{
		Report:  rep,
		Found:   true,
		Message: fmt.Sprintf("Turn %s: %d actions fired", at, rep.Fired),
	}, nil
}

// handleGraph implements the worldline_graph tool.
func (s *Server) handleGraph(ctx context.Context, req *sdk.CallToolRequest, args GraphInput) (_ *sdk.CallToolResult, _ GraphOutput, retErr error) {
	defer s.audit("worldline_graph", map[string]any{
		"character": args.Character, "format": args.Format, "branch": args.Branch, "tick": args.Tick,
	})(&retErr)

	if err := ratelimit.CheckLimit(s.toolLimiters, "worldline_graph"); err != nil {
		return nil, GraphOutput{}, err
	}

	if args.Character == "" {
		return nil, GraphOutput{}, fmt.Errorf("'character' parameter is required")
	}
	format, err := visualization.ParseFormat(args.Format)
	if err != nil {
		return nil, GraphOutput{}, err
	}

	var at *timestream.Time
	if args.Branch != nil || args.Tick != nil {
		if args.Branch == nil || args.Tick == nil {
			return nil, GraphOutput{}, fmt.Errorf("'branch' and 'tick' must be given together")
		}
		at = &timestream.Time{Branch: *args.Branch, Tick: *args.Tick}
	}

	g, err := visualization.EngineSource{Engine: s.engine}.Graph(args.Character, at)
	if err != nil {
		return nil, GraphOutput{}, fmt.Errorf("capture graph: %w", err)
	}

	out := GraphOutput{
		Format:    string(format),
		At:        g.Time.String(),
		NodeCount: len(g.Nodes),
		EdgeCount: len(g.Edges),
	}
	switch format {
	case visualization.FormatDOT:
		out.Graph = visualization.RenderDOT(g)
	case visualization.FormatJSON:
		out.Graph = visualization.RenderJSON(g)
	case visualization.FormatHTML:
		html, err := visualization.RenderHTML(g, "")
		if err != nil {
			return nil, GraphOutput{}, fmt.Errorf("render HTML: %w", err)
		}
		out.Graph = string(html)
	}
	return nil, out, nil
}

// handleBackup implements the worldline_backup tool.
func (s *Server) handleBackup(ctx context.Context, req *sdk.CallToolRequest, args BackupInput) (_ *sdk.CallToolResult, _ BackupOutput, retErr error) {
	defer s.audit("worldline_backup", map[string]any{
		"output_path": args.OutputPath,
	})(&retErr)

	if err := ratelimit.CheckLimit(s.toolLimiters, "worldline_backup"); err != nil {
		return nil, BackupOutput{}, err
	}

	allowedDirs, err := pathutil.AllowedBackupDirs(s.root, s.settings.BackupDir(s.root))
	if err != nil {
		return nil, BackupOutput{}, fmt.Errorf("failed to determine allowed backup dirs: %w", err)
	}

	outputPath := args.OutputPath
	if outputPath == "" {
		outputPath = backup.GenerateBackupPath(s.settings.BackupDir(s.root))
	}

	var header *backup.Header
	err = s.engine.WithRows(ctx, func(rs store.RowStore) error {
		var err error
		header, err = backup.Backup(ctx, rs, outputPath, allowedDirs...)
		return err
	})
	if err != nil {
		return nil, BackupOutput{}, fmt.Errorf("backup failed: %w", err)
	}

	deleted, err := backup.Prune(filepath.Dir(outputPath), s.retention)
	if err != nil {
		s.logger.Warn("failed to apply backup retention", "error", err)
	}
	pruned := len(deleted)

	var sizeBytes int64
	if info, err := os.Stat(outputPath); err == nil {
		sizeBytes = info.Size()
	} else if !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("stat backup", "error", err)
	}

	return nil, BackupOutput{
		Path:      outputPath,
		Rows:      header.Rows,
		Checksum:  header.Checksum,
		SizeBytes: sizeBytes,
		Pruned:    pruned,
		Message:   fmt.Sprintf("Backup created: %d rows -> %s", header.Rows, pathutil.RedactPath(outputPath)),
	}, nil
}
