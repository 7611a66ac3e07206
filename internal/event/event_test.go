package event

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestDecodeCurrentFields(t *testing.T) {
	in := `{"tool_name":"Edit","tool_input":{"file_path":"a.py"},"tool_response":{"success":true},"cwd":"/work","session_id":"x"}`
	ev, err := Decode(strings.NewReader(in), nil)
	if err != nil {
		t.Fatal(err)
	}
	want := &ChangeEvent{
		ToolName:     "Edit",
		ToolInput:    map[string]any{"file_path": "a.py"},
		ToolResponse: map[string]any{"success": true},
		Cwd:          "/work",
	}
	if diff := cmp.Diff(want, ev); diff != "" {
		t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeLegacyFields(t *testing.T) {
	in := `{"tool":"Bash","params":{"command":"ls"},"result":{"exit_code":1,"stderr":"boom"},"cwd":"/w"}`
	ev, err := Decode(strings.NewReader(in), nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.ToolName != "Bash" {
		t.Errorf("expected tool name Bash, got %q", ev.ToolName)
	}
	if ev.InputString("command") != "ls" {
		t.Errorf("expected params mapped to tool_input, got %v", ev.ToolInput)
	}
	if ev.ToolResponse["stderr"] != "boom" {
		t.Errorf("expected result mapped to tool_response, got %v", ev.ToolResponse)
	}

	ev, _ = Decode(strings.NewReader(`{"tool":"Read","input":{"path":"x"}}`), nil)
	if ev.TargetPath() != "x" {
		t.Errorf("expected input mapped to tool_input, got %v", ev.ToolInput)
	}
}

func TestDecodeCwdFallsBackToPWD(t *testing.T) {
	t.Setenv("PWD", "/from/pwd")
	ev, err := Decode(strings.NewReader(`{"tool_name":"Write"}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Cwd != "/from/pwd" {
		t.Errorf("expected $PWD fallback, got %q", ev.Cwd)
	}
}

func TestDecodeEmptyAndInvalid(t *testing.T) {
	for _, in := range []string{"", "   \n", "not json", "[1,2]"} {
		ev, err := Decode(strings.NewReader(in), nil)
		if err != nil {
			t.Fatalf("Decode(%q) error: %v", in, err)
		}
		if !ev.Empty() {
			t.Errorf("Decode(%q) should be empty, got %+v", in, ev)
		}
	}
}

func TestTargetPathPrefersFilePath(t *testing.T) {
	ev := &ChangeEvent{ToolInput: map[string]any{"path": "b", "file_path": "a"}}
	if got := ev.TargetPath(); got != "a" {
		t.Errorf("TargetPath() = %q, want a", got)
	}
}

func TestProjectDirSkipsMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PWD", dir)
	ev := &ChangeEvent{Cwd: filepath.Join(dir, "does-not-exist")}
	got := ev.ProjectDir()
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Errorf("ProjectDir() = %q, want %q", got, want)
	}
}
