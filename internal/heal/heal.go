// Package heal turns failed tool calls into incidents and fix tasks, and
// learns from every tool call it observes.
package heal

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/lucasnoah/nexus/internal/event"
	"github.com/lucasnoah/nexus/internal/fixqueue"
	"github.com/lucasnoah/nexus/internal/incident"
	"github.com/lucasnoah/nexus/internal/patterns"
)

// Pattern types written by the learner.
const (
	PatternToolSuccess = "tool_use_success"
	PatternToolFailure = "tool_use_failure"
)

const maxCommandSignature = 80

// IncidentRecorder persists incidents.
type IncidentRecorder interface {
	Record(ctx context.Context, inc incident.Incident) (incident.Incident, error)
}

// FixEnqueuer turns incidents into fix tasks.
type FixEnqueuer interface {
	Add(ctx context.Context, inc incident.Incident) (fixqueue.Task, error)
}

// PatternRecorder stores observations.
type PatternRecorder interface {
	Add(ctx context.Context, obs patterns.Observation) error
}

// EventLogger mirrors operations into the history ledger.
type EventLogger interface {
	LogEvent(ctx context.Context, kind string, payload map[string]any) error
}

// Healer handles post-tool events. Events may be nil.
type Healer struct {
	Incidents IncidentRecorder
	Fixes     FixEnqueuer
	Patterns  PatternRecorder
	Events    EventLogger
	Logger    *slog.Logger
}

// HealResult is printed by `nexus heal`.
type HealResult struct {
	OK         bool   `json:"ok"`
	Message    string `json:"message,omitempty"`
	IncidentID string `json:"incident_id,omitempty"`
	Class      string `json:"incident_class,omitempty"`
	Signature  string `json:"signature,omitempty"`
	FixTaskID  string `json:"fix_task_id,omitempty"`
}

// LearnResult is printed by `nexus learn`.
type LearnResult struct {
	OK          bool   `json:"ok"`
	Message     string `json:"message,omitempty"`
	PatternType string `json:"pattern_type,omitempty"`
	Signature   string `json:"signature,omitempty"`
}

func (h *Healer) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return h.Logger
}

// Handle records an incident and a fix task when ev reports a failed tool
// call. Successful calls are acknowledged without touching any store.
func (h *Healer) Handle(ctx context.Context, ev *event.ChangeEvent) (*HealResult, error) {
	if ev == nil || ev.Empty() {
		return &HealResult{OK: true, Message: "empty_event"}, nil
	}
	toolName := ev.ToolName
	if toolName == "" {
		toolName = "unknown_tool"
	}
	if !incident.ResponseFailed(ev.ToolResponse) {
		return &HealResult{OK: true, Message: toolName + " succeeded"}, nil
	}

	cwd := ev.ProjectDir()
	class := incident.Classify(ev.ToolResponse)
	inc := incident.Incident{
		Source:       incident.SourceSelfHeal,
		Class:        class,
		Signature:    incident.Signature(class, ev.ToolResponse),
		Error:        incident.ErrorText(ev.ToolResponse),
		ToolName:     toolName,
		ToolInput:    ev.ToolInput,
		ToolResponse: ev.ToolResponse,
		Cwd:          cwd,
		FilePath:     ev.TargetPath(),
	}
	if class == incident.ImportError {
		if stderr, ok := ev.ToolResponse["stderr"].(string); ok {
			inc.ModuleName = incident.MissingModule(stderr)
		}
	}

	inc, err := h.Incidents.Record(ctx, inc)
	if err != nil {
		return nil, err
	}

	obs := patterns.Observation{
		Type:         "incident:" + string(class),
		Signature:    inc.Signature,
		Example:      inc,
		SuggestedFix: "Review incident, apply deterministic fix, rerun verify_cmd.",
		VerifyCmd:    []string{"nexus", "fix", "process-one"},
		Outcome:      patterns.Failure,
		Meta:         map[string]any{"tool_name": toolName, "cwd": cwd},
	}
	if err := h.Patterns.Add(ctx, obs); err != nil {
		h.logger().Warn("pattern record failed", "incident", inc.ID, "error", err)
	}

	res := &HealResult{OK: true, IncidentID: inc.ID, Class: string(class), Signature: inc.Signature}
	t, err := h.Fixes.Add(ctx, inc)
	if err != nil {
		h.logger().Error("fix task enqueue failed", "incident", inc.ID, "error", err)
	} else {
		res.FixTaskID = t.ID
	}
	return res, nil
}

// Learn records a success or failure observation for every tool call.
func (h *Healer) Learn(ctx context.Context, ev *event.ChangeEvent) (*LearnResult, error) {
	if ev == nil || ev.Empty() {
		return &LearnResult{OK: true, Message: "empty_event"}, nil
	}
	toolName := ev.ToolName
	if toolName == "" {
		toolName = "unknown"
	}
	resp := ev.ToolResponse
	success := !incident.ExplicitFailure(resp)
	typ, outcome := PatternToolSuccess, patterns.Success
	if !success {
		typ, outcome = PatternToolFailure, patterns.Failure
	}
	cwd := ev.ProjectDir()
	sig := ToolSignature(toolName, ev)

	obs := patterns.Observation{
		Type:      typ,
		Signature: sig,
		Example: map[string]any{
			"tool_name":  toolName,
			"tool_input": ev.ToolInput,
			"tool_response": map[string]any{
				"success":   resp["success"],
				"exit_code": resp["exit_code"],
				"error":     resp["error"],
			},
			"cwd": cwd,
		},
		SuggestedFix: "Reuse successful signatures; inspect failures for deterministic corrections.",
		VerifyCmd:    []string{"nexus", "report"},
		Outcome:      outcome,
		Meta:         map[string]any{"tool_name": toolName},
	}
	if err := h.Patterns.Add(ctx, obs); err != nil {
		return nil, err
	}

	if h.Events != nil {
		payload := map[string]any{"tool_name": toolName, "success": success, "cwd": cwd}
		if err := h.Events.LogEvent(ctx, "operation", payload); err != nil {
			h.logger().Warn("history ledger write failed", "error", err)
		}
	}
	return &LearnResult{OK: true, PatternType: typ, Signature: sig}, nil
}

// ToolSignature groups tool calls: shell commands by their first 80
// characters, file tools by path and everything else by tool name.
func ToolSignature(toolName string, ev *event.ChangeEvent) string {
	switch toolName {
	case "Bash":
		cmd := strings.TrimSpace(ev.InputString("command", "cmd"))
		if cmd == "" {
			return "bash:unknown"
		}
		if r := []rune(cmd); len(r) > maxCommandSignature {
			cmd = string(r[:maxCommandSignature])
		}
		return "bash:" + cmd
	case "Edit", "Write", "Read":
		path := ev.InputString("file_path", "path")
		if path == "" {
			path = "unknown"
		}
		return strings.ToLower(toolName) + ":" + path
	case "":
		return "tool:unknown"
	}
	return "tool:" + toolName
}
