package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/nvandessel/worldline/internal/pathutil"
)

// AuditFileName is the JSONL file under .worldline that tool calls are
// appended to.
const AuditFileName = "audit.jsonl"

// AuditEntry records one tool call and where it left the cursor. It never
// carries stat values, queries or paths; see sanitizeToolParams.
type AuditEntry struct {
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	DurationMs int64             `json:"duration_ms"`
	Status     string            `json:"status"` // "success" or "error"
	Error      string            `json:"error,omitempty"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	Params     map[string]string `json:"params,omitempty"`
}

// Moved reports whether the call changed the world time.
func (e AuditEntry) Moved() bool { return e.From != e.To }

// AuditLogger appends entries to <root>/.worldline/audit.jsonl. It is safe
// for concurrent use, and a nil *AuditLogger discards everything.
type AuditLogger struct {
	mu   sync.Mutex
	file *os.File
}

// OpenAuditLog opens the audit log of the world at root, creating it with
// owner-only permissions.
func OpenAuditLog(root string) (*AuditLogger, error) {
	if root == "" {
		return nil, fmt.Errorf("audit log needs a root directory")
	}
	path := filepath.Join(root, pathutil.DirName, AuditFileName)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &AuditLogger{file: f}, nil
}

// Log appends entry as one JSON line. Write failures are dropped.
func (a *AuditLogger) Log(entry AuditEntry) {
	if a == nil {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		_, _ = a.file.Write(append(line, '\n'))
	}
}

// Close closes the log file.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// safeValueParams are parameters whose values are logged verbatim.
var safeValueParams = map[string]bool{
	"turns":       true,
	"branch":      true,
	"branch_name": true,
	"tick":        true,
	"format":      true,
	"mode":        true,
	"delete":      true,
	"name":        true,
}

// presenceOnlyParams are logged as "(set)" because their values may carry
// world content or filesystem paths.
var presenceOnlyParams = map[string]bool{
	"ref":         true,
	"value":       true,
	"key":         true,
	"query":       true,
	"character":   true,
	"thing":       true,
	"destination": true,
	"output_path": true,
}

// sanitizeToolParams reduces tool parameters to loggable metadata. Unset
// parameters are skipped and unknown ones are never logged.
// "_param_count" counts the parameters that were set.
func sanitizeToolParams(params map[string]any) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string)
	set := 0
	for key, raw := range params {
		val, ok := paramValue(raw)
		if !ok {
			continue
		}
		set++
		switch {
		case safeValueParams[key]:
			out[key] = fmt.Sprint(val)
		case presenceOnlyParams[key]:
			out[key] = "(set)"
		}
	}
	out["_param_count"] = strconv.Itoa(set)
	return out
}

// paramValue dereferences optional integers and reports whether v was set.
func paramValue(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case *int:
		if x == nil {
			return nil, false
		}
		return *x, true
	case string:
		return x, x != ""
	case bool:
		return x, x
	case int:
		return x, x != 0
	}
	return v, true
}

// audit starts recording a call to tool. Handlers defer the returned
// function with a pointer to their error result:
//
//	defer s.audit("worldline_run", params)(&retErr)
func (s *Server) audit(tool string, params map[string]any) func(*error) {
	start := time.Now()
	from := s.engine.Now().String()
	return func(errp *error) {
		entry := AuditEntry{
			Timestamp:  start,
			Tool:       tool,
			DurationMs: time.Since(start).Milliseconds(),
			Status:     "success",
			From:       from,
			To:         s.engine.Now().String(),
			Params:     sanitizeToolParams(params),
		}
		if errp != nil && *errp != nil {
			entry.Status = "error"
			entry.Error = (*errp).Error()
		}
		s.auditLogger.Log(entry)
	}
}
