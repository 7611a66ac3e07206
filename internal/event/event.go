// Package event decodes the change notifications hosts send on stdin.
package event

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ChangeEvent is the normalized form of a host tool notification.
type ChangeEvent struct {
	ToolName     string         `json:"tool_name"`
	ToolInput    map[string]any `json:"tool_input"`
	ToolResponse map[string]any `json:"tool_response"`
	Cwd          string         `json:"cwd"`
}

// Empty reports whether nothing was decoded.
func (e *ChangeEvent) Empty() bool {
	return e.ToolName == "" && len(e.ToolInput) == 0 && len(e.ToolResponse) == 0
}

// wire accepts both the current and the legacy field names.
type wire struct {
	ToolName     *string         `json:"tool_name"`
	Tool         *string         `json:"tool"`
	ToolInput    json.RawMessage `json:"tool_input"`
	Params       json.RawMessage `json:"params"`
	Input        json.RawMessage `json:"input"`
	ToolResponse json.RawMessage `json:"tool_response"`
	Result       json.RawMessage `json:"result"`
	Cwd          *string         `json:"cwd"`
}

// Decode reads one event from r. Empty input, invalid JSON and non-object
// payloads all yield the empty event; only read failures are errors.
func Decode(r io.Reader, logger *slog.Logger) (*ChangeEvent, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading event: %w", err)
	}
	ev := &ChangeEvent{ToolInput: map[string]any{}, ToolResponse: map[string]any{}}
	if strings.TrimSpace(string(raw)) == "" {
		logger.Debug("empty event payload")
		return ev, nil
	}

	var w wire
	if err := json.Unmarshal(raw, &w); err != nil {
		logger.Debug("invalid event payload", "error", err, "bytes", len(raw))
		return ev, nil
	}

	switch {
	case w.ToolName != nil:
		ev.ToolName = *w.ToolName
	case w.Tool != nil:
		ev.ToolName = *w.Tool
	}
	ev.ToolInput = firstObject(w.ToolInput, w.Params, w.Input)
	ev.ToolResponse = firstObject(w.ToolResponse, w.Result)

	if w.Cwd != nil && *w.Cwd != "" {
		ev.Cwd = *w.Cwd
	} else if pwd := os.Getenv("PWD"); pwd != "" {
		ev.Cwd = pwd
	} else if wd, err := os.Getwd(); err == nil {
		ev.Cwd = wd
	}
	return ev, nil
}

// firstObject returns the first candidate that decodes to a non-empty JSON
// object, or an empty map.
func firstObject(candidates ...json.RawMessage) map[string]any {
	for _, c := range candidates {
		if len(c) == 0 {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(c, &m); err == nil && len(m) > 0 {
			return m
		}
	}
	return map[string]any{}
}

// InputString returns a string field of the tool input.
func (e *ChangeEvent) InputString(keys ...string) string {
	for _, k := range keys {
		if s, ok := e.ToolInput[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// TargetPath is the file the tool acted on, if any.
func (e *ChangeEvent) TargetPath() string {
	return e.InputString("file_path", "path")
}

// ProjectDir resolves the directory the event refers to. Candidates are
// the event cwd, $PWD and the process cwd; the first that exists wins.
func (e *ChangeEvent) ProjectDir() string {
	var candidates []string
	if e != nil {
		candidates = append(candidates, e.Cwd)
	}
	candidates = append(candidates, os.Getenv("PWD"))
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, wd)
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		p, err := filepath.Abs(expandHome(c))
		if err != nil {
			continue
		}
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			p = resolved
		}
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
	}
	wd, _ := os.Getwd()
	return wd
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
