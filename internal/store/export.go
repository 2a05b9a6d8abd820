package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// dumpLine is one JSONL line of a dump: a row tagged with its table. Value
// is embedded as raw JSON so dumps stay readable.
type dumpLine struct {
	Table  string          `json:"table"`
	Key    []string        `json:"key"`
	Branch int             `json:"branch"`
	Tick   int             `json:"tick"`
	Value  json.RawMessage `json:"value"`
}

// Dump writes every row of every table to w as JSONL and returns the number
// of rows written.
func Dump(ctx context.Context, rs RowStore, w io.Writer) (int, error) {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	n := 0
	for _, t := range rs.Tables() {
		rows, err := rs.SelectRows(ctx, t.Name, All())
		if err != nil {
			return n, err
		}
		for _, r := range rows {
			line := dumpLine{Table: t.Name, Key: r.Key, Branch: r.Branch, Tick: r.Tick, Value: r.Value}
			if err := enc.Encode(line); err != nil {
				return n, fmt.Errorf("failed to encode %s row: %w", t.Name, err)
			}
			n++
		}
	}
	return n, bw.Flush()
}

// Load reads a Dump and writes its rows into rs in one batch. With replace,
// every table is emptied first; otherwise rows are merged, replacing rows at
// the same coordinates.
func Load(ctx context.Context, rs RowStore, r io.Reader, replace bool) (int, error) {
	byTable := make(map[string][]Row)
	scanner := bufio.NewScanner(r)
	// Increase buffer size for long lines
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var line dumpLine
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			return 0, fmt.Errorf("line %d: %w", lineNum, err)
		}
		byTable[line.Table] = append(byTable[line.Table], Row{
			Key: line.Key, Branch: line.Branch, Tick: line.Tick, Value: []byte(line.Value),
		})
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scanner error: %w", err)
	}

	batch, err := rs.Begin(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range rs.Tables() {
		if replace {
			if err := batch.DeleteRows(t.Name, All()); err != nil {
				_ = batch.Rollback()
				return 0, err
			}
		}
		rows := byTable[t.Name]
		delete(byTable, t.Name)
		if err := batch.InsertRows(t.Name, rows); err != nil {
			_ = batch.Rollback()
			return 0, err
		}
		n += len(rows)
	}
	if len(byTable) > 0 {
		_ = batch.Rollback()
		var names []string
		for name := range byTable {
			names = append(names, name)
		}
		return 0, fmt.Errorf("dump tables %v: %w", names, ErrUnknownTable)
	}
	if err := batch.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
