package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func executeCommand(args ...string) (string, error) {
	return executeWithInput("", args...)
}

func executeWithInput(stdin string, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// isolate points every store at a fresh directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	state := filepath.Join(home, "state")
	t.Setenv("HOME", home)
	t.Setenv("NEXUS_STATE_DIR", state)
	t.Setenv("NEXUS_LOG_FILE", filepath.Join(home, "nexus.log"))
	t.Setenv("NEXUS_GATE_RUNNING", "")
	t.Setenv("NEXUS_OTEL_STDOUT", "")
	return state
}

func TestVersionCommand(t *testing.T) {
	SetVersion("test-version")
	out, err := executeCommand("version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "test-version") {
		t.Errorf("expected version output to contain 'test-version', got: %s", out)
	}
}

func TestRootHelp(t *testing.T) {
	out, err := executeCommand("--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expectedSubcommands := []string{
		"gate", "heal", "learn", "fix", "task", "incidents", "patterns",
		"history", "analytics", "report", "status", "hooks", "config", "version",
	}
	for _, sub := range expectedSubcommands {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing subcommand %q", sub)
		}
	}
}

func TestSubcommandHelp(t *testing.T) {
	groups := map[string][]string{
		"fix":     {"stats", "list", "process-one", "watch"},
		"task":    {"start", "close", "status"},
		"history": {"checks", "events", "reset"},
		"config":  {"show", "init", "validate"},
		"hooks":   {"install"},
	}
	for group, subs := range groups {
		for _, sub := range subs {
			out, err := executeCommand(group, sub, "--help")
			if err != nil {
				t.Errorf("%s %s --help failed: %v", group, sub, err)
			}
			if out == "" {
				t.Errorf("%s %s --help produced no output", group, sub)
			}
		}
	}
}

func TestGateCommand_NothingToCheckPasses(t *testing.T) {
	isolate(t)
	project := t.TempDir()
	input, _ := json.Marshal(map[string]any{"tool_name": "Edit", "cwd": project})

	out, err := executeWithInput(string(input), "gate")
	if err != nil {
		t.Fatalf("gate: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"passed": true`) {
		t.Errorf("expected pass verdict, got:\n%s", out)
	}
}

func TestGateCommand_RecursionGuard(t *testing.T) {
	state := isolate(t)
	t.Setenv("NEXUS_GATE_RUNNING", "1")
	out, err := executeWithInput(`{"tool_name":"Write"}`, "gate")
	if err != nil {
		t.Fatalf("gate: %v", err)
	}
	if !strings.Contains(out, "recursion_guard") {
		t.Errorf("expected skipped verdict, got:\n%s", out)
	}
	if _, err := os.Stat(state); !os.IsNotExist(err) {
		t.Errorf("guarded gate created the state dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(state), "nexus.log")); !os.IsNotExist(err) {
		t.Errorf("guarded gate opened the log file: %v", err)
	}
}

func TestHealCommand_RecordsIncident(t *testing.T) {
	state := isolate(t)
	input := `{"tool_name":"Bash","tool_input":{"command":"cat missing.txt"},"tool_response":{"exit_code":1,"stderr":"cat: missing.txt: No such file or directory"}}`

	out, err := executeWithInput(input, "heal")
	if err != nil {
		t.Fatalf("heal: %v\n%s", err, out)
	}
	if !strings.Contains(out, "incident:file_not_found") {
		t.Errorf("unexpected heal output:\n%s", out)
	}
	for _, name := range []string{"incidents.jsonl", "fix_queue.jsonl", "patterns.json"} {
		if _, err := os.Stat(filepath.Join(state, name)); err != nil {
			t.Errorf("%s not written: %v", name, err)
		}
	}
}

func TestTaskLifecycle(t *testing.T) {
	isolate(t)
	if out, err := executeCommand("task", "start", "ship", "the", "gate"); err != nil {
		t.Fatalf("task start: %v\n%s", err, out)
	}
	if _, err := executeCommand("task", "start", "another"); err == nil || !strings.Contains(err.Error(), "still active") {
		t.Errorf("second start err = %v", err)
	}
	out, err := executeCommand("task", "status")
	if err != nil {
		t.Fatalf("task status: %v", err)
	}
	if !strings.Contains(out, "ship the gate") {
		t.Errorf("status missing goal:\n%s", out)
	}
	out, err = executeCommand("task", "close", "--success", "--note", "done")
	if err != nil {
		t.Fatalf("task close: %v\n%s", err, out)
	}
	if !strings.Contains(out, `"status": "completed"`) {
		t.Errorf("close output:\n%s", out)
	}
}

func TestHooksInstall(t *testing.T) {
	dir := t.TempDir()
	out, err := executeCommand("hooks", "install", dir, "--bin", "/opt/nexus")
	if err != nil {
		t.Fatalf("hooks install: %v", err)
	}
	if !strings.Contains(out, "settings.local.json") {
		t.Errorf("output = %q", out)
	}
	data, err := os.ReadFile(filepath.Join(dir, ".claude", "settings.local.json"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "/opt/nexus gate") {
		t.Errorf("settings missing gate hook:\n%s", data)
	}
}

func TestReportCommand(t *testing.T) {
	state := isolate(t)
	out, err := executeCommand("report", "--format", "json")
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.Contains(out, `"quality_score"`) {
		t.Errorf("report output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(state, "quality_report.json")); err != nil {
		t.Errorf("report not written: %v", err)
	}
}

func TestConfigValidateDefaults(t *testing.T) {
	isolate(t)
	if out, err := executeCommand("config", "validate"); err != nil {
		t.Fatalf("config validate: %v\n%s", err, out)
	}
}

func TestExitError(t *testing.T) {
	var err error = &ExitError{Code: 2}
	var exit *ExitError
	if !errors.As(err, &exit) || exit.Code != 2 {
		t.Fatalf("errors.As failed for %v", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	_, err := executeCommand("nonexistent")
	if err == nil {
		t.Error("expected error for unknown command, got nil")
	}
}
