// Package logging holds worldline's two outputs: a leveled slog logger for
// operational messages on stderr, and the turn log, one JSON line per
// completed turn in .worldline/turns.jsonl.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace sits below debug. Rule firings and journey writes are logged
// at this level.
const LevelTrace = slog.LevelDebug - 4

var levels = map[string]slog.Level{
	"trace":   LevelTrace,
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// ParseLevel maps a level name, in any case, to a slog.Level. Unknown names
// mean info.
func ParseLevel(s string) slog.Level {
	if lvl, ok := levels[strings.ToLower(s)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// NewLogger returns a text logger writing to w at the named level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: labelTrace,
	}))
}

func labelTrace(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Trace logs msg at LevelTrace. A nil logger is a no-op.
func Trace(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// TurnLogFile is the turn log's name inside the data directory.
const TurnLogFile = "turns.jsonl"

// TurnRecord is one line of the turn log.
type TurnRecord struct {
	Time     time.Time `json:"time"`
	Branch   int       `json:"branch"`
	Tick     int       `json:"tick"`
	Fired    int       `json:"fired"`
	Replayed bool      `json:"replayed,omitempty"`
	// Forked is the branch a paradox moved the turn to, or -1.
	Forked int `json:"forked"`
	Events any `json:"events,omitempty"`
}

// TurnLogger appends TurnRecords to a file. It is safe for concurrent use,
// and a nil *TurnLogger discards everything.
type TurnLogger struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

// OpenTurnLog opens dir/turns.jsonl for appending, creating dir.
func OpenTurnLog(dir string) (*TurnLogger, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating turn log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, TurnLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening turn log: %w", err)
	}
	return &TurnLogger{f: f, enc: json.NewEncoder(f)}, nil
}

// TurnLogEnabled reports whether a world logging at level, or with the turn
// log forced on, keeps a turn log.
func TurnLogEnabled(level string, forced bool) bool {
	return forced || ParseLevel(level) < slog.LevelInfo
}

// Log appends rec, stamping the current time when rec has none.
func (tl *TurnLogger) Log(rec TurnRecord) {
	if tl == nil {
		return
	}
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.f != nil {
		_ = tl.enc.Encode(rec)
	}
}

// Close closes the file. Later records are dropped.
func (tl *TurnLogger) Close() error {
	if tl == nil {
		return nil
	}
	tl.mu.Lock()
	defer tl.mu.Unlock()
	if tl.f == nil {
		return nil
	}
	err := tl.f.Close()
	tl.f = nil
	return err
}
