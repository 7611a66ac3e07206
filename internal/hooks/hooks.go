// Package hooks installs the host settings that route tool events to nexus.
package hooks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lucasnoah/nexus/internal/fsutil"
)

// EditMatcher selects the tools that modify files.
const EditMatcher = "Edit|Write|MultiEdit"

// HookHandler represents a single hook handler within an event group.
type HookHandler struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// HookGroup is a set of handlers for the tools its matcher selects.
type HookGroup struct {
	Matcher string        `json:"matcher,omitempty"`
	Hooks   []HookHandler `json:"hooks"`
}

// Config is the hooks section of .claude/settings.local.json.
type Config struct {
	Hooks map[string][]HookGroup `json:"hooks"`
}

// Generate builds the PostToolUse hooks: the gate after file edits, and
// self-heal plus auto-learn after every tool.
func Generate(bin string) *Config {
	if bin == "" {
		bin = ResolveBinary()
	}
	return &Config{
		Hooks: map[string][]HookGroup{
			"PostToolUse": {
				{Matcher: EditMatcher, Hooks: []HookHandler{{Type: "command", Command: bin + " gate", Timeout: 1200}}},
				{Hooks: []HookHandler{
					{Type: "command", Command: bin + " heal"},
					{Type: "command", Command: bin + " learn"},
				}},
			},
		},
	}
}

// ResolveBinary returns the absolute path of the running executable,
// falling back to "nexus" on PATH.
func ResolveBinary() string {
	if exe, err := os.Executable(); err == nil {
		if abs, err := filepath.EvalSymlinks(exe); err == nil {
			return abs
		}
		return exe
	}
	return "nexus"
}

// Write merges cfg into <workdir>/.claude/settings.local.json, keeping
// every other settings key.
func Write(workdir string, cfg *Config) (string, error) {
	dir := filepath.Join(workdir, ".claude")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create .claude dir: %w", err)
	}
	path := filepath.Join(dir, "settings.local.json")

	existing := make(map[string]any)
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return "", fmt.Errorf("parse %s: %w", path, err)
		}
	}
	existing["hooks"] = cfg.Hooks

	if err := fsutil.WriteJSON(path, existing); err != nil {
		return "", fmt.Errorf("write settings file: %w", err)
	}
	return path, nil
}
