package mcp

import (
	"github.com/nvandessel/worldline/internal/engine"
	"github.com/nvandessel/worldline/internal/rules"
	"github.com/nvandessel/worldline/internal/timestream"
	"github.com/nvandessel/worldline/internal/travel"
)

// StatusInput defines the input for worldline_status tool.
type StatusInput struct{}

// StatusOutput defines the output for worldline_status tool.
type StatusOutput struct {
	Status  engine.Status `json:"status" jsonschema:"Cursor position, main branch, seed, characters and branch tree"`
	Message string        `json:"message" jsonschema:"Human-readable summary"`
}

// RunInput defines the input for worldline_run tool.
type RunInput struct {
	Turns int `json:"turns,omitempty" jsonschema:"Number of turns to advance (default: 1, max: 1000)"`
}

// RunOutput defines the output for worldline_run tool.
type RunOutput struct {
	Turns    []engine.TurnResult `json:"turns" jsonschema:"One report per turn advanced"`
	Now      timestream.Time     `json:"now" jsonschema:"Cursor after the last turn"`
	Fired    int                 `json:"fired" jsonschema:"Total rule actions fired"`
	Replayed int                 `json:"replayed" jsonschema:"Turns replayed from history instead of simulated"`
	Message  string              `json:"message" jsonschema:"Human-readable summary"`
}

// TravelInput defines the input for worldline_travel tool.
type TravelInput struct {
	Branch     int    `json:"branch,omitempty" jsonschema:"Branch id to travel to; one past the highest branch forks a new branch"`
	BranchName string `json:"branch_name,omitempty" jsonschema:"Branch name to travel to; takes precedence over branch"`
	Tick       int    `json:"tick" jsonschema:"Tick to travel to"`
}

// TravelOutput defines the output for worldline_travel, worldline_back
// and worldline_switch_main tools.
type TravelOutput struct {
	Now        timestream.Time `json:"now" jsonschema:"Cursor after the move"`
	BranchName string          `json:"branch_name" jsonschema:"Name of the branch the cursor is on"`
	Moved      bool            `json:"moved" jsonschema:"Whether the cursor changed"`
	Message    string          `json:"message" jsonschema:"Human-readable summary"`
}

// BackInput defines the input for worldline_back tool.
type BackInput struct{}

// SwitchMainInput defines the input for worldline_switch_main tool.
type SwitchMainInput struct {
	Name string `json:"name" jsonschema:"Name of the root branch to switch to (created when missing)"`
}

// JourneyInput defines the input for worldline_journey tool.
type JourneyInput struct {
	Character   string `json:"character" jsonschema:"Character that owns the thing"`
	Thing       string `json:"thing" jsonschema:"Thing to send"`
	Destination string `json:"destination" jsonschema:"Place to travel to"`
}

// JourneyOutput defines the output for worldline_journey tool.
type JourneyOutput struct {
	Result  travel.Result `json:"result" jsonschema:"Scheduled path with per-step arrival ticks"`
	Message string        `json:"message" jsonschema:"Human-readable summary"`
}

// StatInput defines the input for worldline_stat tool.
type StatInput struct {
	Ref    string `json:"ref" jsonschema:"Entity reference: character or character.node"`
	Name   string `json:"name,omitempty" jsonschema:"Stat name; empty lists every stat"`
	Value  any    `json:"value,omitempty" jsonschema:"New value to write at the cursor"`
	Delete bool   `json:"delete,omitempty" jsonschema:"Delete the named stat at the cursor"`
}

// StatOutput defines the output for worldline_stat tool.
type StatOutput struct {
	Ref     string         `json:"ref"`
	Stats   map[string]any `json:"stats,omitempty" jsonschema:"Stats of the entity at the cursor"`
	Value   any            `json:"value,omitempty" jsonschema:"Value of the named stat"`
	Found   bool           `json:"found" jsonschema:"Whether the named stat holds a value"`
	At      string         `json:"at" jsonschema:"Cursor the stat was read or written at"`
	Message string         `json:"message" jsonschema:"Human-readable summary"`
}

// EternalInput defines the input for worldline_eternal tool.
type EternalInput struct {
	Key    string `json:"key,omitempty" jsonschema:"Key to read or write; empty lists every key"`
	Value  any    `json:"value,omitempty" jsonschema:"Value to store under key"`
	Delete bool   `json:"delete,omitempty" jsonschema:"Delete key"`
}

// EternalOutput defines the output for worldline_eternal tool.
type EternalOutput struct {
	Values  map[string]any `json:"values,omitempty" jsonschema:"Every key and its value"`
	Value   any            `json:"value,omitempty" jsonschema:"Value stored under key"`
	Found   bool           `json:"found"`
	Message string         `json:"message" jsonschema:"Human-readable summary"`
}

// TurnsWhenInput defines the input for worldline_turns_when tool.
type TurnsWhenInput struct {
	Query string `json:"query" jsonschema:"Comparison over stat references, e.g. physical.kobold.location == \"den\""`
}

// TurnsWhenOutput defines the output for worldline_turns_when tool.
type TurnsWhenOutput struct {
	Query   string `json:"query"`
	Ticks   []int  `json:"ticks" jsonschema:"Ticks of the cursor's branch at which the query holds"`
	Now     bool   `json:"now" jsonschema:"Whether the query holds at the cursor"`
	Message string `json:"message" jsonschema:"Human-readable summary"`
}

// ReportInput defines the input for worldline_report tool.
type ReportInput struct {
	Branch *int `json:"branch,omitempty" jsonschema:"Branch of the turn (default: cursor branch)"`
	Tick   *int `json:"tick,omitempty" jsonschema:"Tick of the turn (default: the tick before the cursor)"`
}

// ReportOutput defines the output for worldline_report tool.
type ReportOutput struct {
	Report  rules.Report `json:"report"`
	Found   bool         `json:"found" jsonschema:"Whether a turn was simulated at that time"`
	Message string       `json:"message" jsonschema:"Human-readable summary"`
}

// GraphInput defines the input for worldline_graph tool.
type GraphInput struct {
	Character string `json:"character" jsonschema:"Character whose graph to render"`
	Format    string `json:"format,omitempty" jsonschema:"Output format: dot, json or html (default: json)"`
	Branch    *int   `json:"branch,omitempty" jsonschema:"Branch to render at (default: cursor)"`
	Tick      *int   `json:"tick,omitempty" jsonschema:"Tick to render at (default: cursor)"`
}

// GraphOutput defines the output for worldline_graph tool.
type GraphOutput struct {
	Format    string `json:"format"`
	Graph     any    `json:"graph" jsonschema:"Rendered graph: DOT string, JSON object or HTML page"`
	At        string `json:"at" jsonschema:"Time the graph was captured at"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}

// BackupInput defines the input for worldline_backup tool.
type BackupInput struct {
	OutputPath string `json:"output_path,omitempty" jsonschema:"Backup file path (default: timestamped file in the backup directory)"`
}

// BackupOutput defines the output for worldline_backup tool.
type BackupOutput struct {
	Path      string `json:"path" jsonschema:"Path of the written backup"`
	Rows      int    `json:"rows" jsonschema:"Rows written"`
	Checksum  string `json:"checksum" jsonschema:"Checksum of the uncompressed payload"`
	SizeBytes int64  `json:"size_bytes" jsonschema:"Size of the backup file"`
	Pruned    int    `json:"pruned" jsonschema:"Old backups removed by the retention policy"`
	Message   string `json:"message" jsonschema:"Human-readable summary"`
}
