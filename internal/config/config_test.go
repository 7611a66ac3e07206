package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
state_dir: /tmp/nexus-state
log:
  level: debug
gate:
  diff_limit: 500
  check_timeout: "120s"
  test_timeout: "10m"
  disable:
    - npm_test
  ignore:
    - "dist/**"
  keep_snapshots: 5
fix:
  verify_timeout: "60"
  output_tail: 2000
task:
  auto_close:
    enabled: true
    min_passes: 2
    cooldown: "5m"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nexus.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StateDir != "/tmp/nexus-state" {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
	if cfg.Gate.DiffLimit != 500 || cfg.Gate.KeepSnapshots != 5 {
		t.Errorf("Gate = %+v", cfg.Gate)
	}
	if len(cfg.Gate.Disable) != 1 || cfg.Gate.Disable[0] != "npm_test" {
		t.Errorf("Gate.Disable = %v", cfg.Gate.Disable)
	}
	if cfg.Fix.OutputTail != 2000 {
		t.Errorf("Fix.OutputTail = %d", cfg.Fix.OutputTail)
	}
	if got := Duration(cfg.Fix.VerifyTimeout, 0); got != time.Minute {
		t.Errorf("verify timeout = %v, want 1m", got)
	}

	p := cfg.Task.AutoClose.Policy()
	if !p.Enabled || p.MinPasses != 2 || p.Cooldown != 5*time.Minute {
		t.Errorf("policy = %+v", p)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate: %v", errs)
	}
}

func TestLoad_DefaultsKeepUnsetKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, "gate:\n  diff_limit: 50\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gate.DiffLimit != 50 {
		t.Errorf("DiffLimit = %d", cfg.Gate.DiffLimit)
	}
	if cfg.Gate.CheckTimeout != "300s" || cfg.Gate.TestTimeout != "900s" {
		t.Errorf("timeouts = %q/%q", cfg.Gate.CheckTimeout, cfg.Gate.TestTimeout)
	}
	if cfg.Gate.KeepSnapshots != 20 || cfg.Fix.OutputTail != 4000 {
		t.Errorf("defaults lost: %+v %+v", cfg.Gate, cfg.Fix)
	}
	if cfg.Task.AutoClose.Enabled {
		t.Error("auto-close must default to off")
	}
	if !cfg.History.Enabled {
		t.Error("history should default to on")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("NEXUS_GATE_DIFF_LIMIT", "75")
	t.Setenv("NEXUS_STATE_DIR", "/tmp/from-env")
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gate.DiffLimit != 75 {
		t.Errorf("DiffLimit = %d, want 75", cfg.Gate.DiffLimit)
	}
	if cfg.StateDir != "/tmp/from-env" {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "gate: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate_Errors(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "chatty"
	cfg.Gate.DiffLimit = 0
	cfg.Gate.Disable = []string{"ruff", "eslint"}
	cfg.Gate.CheckTimeout = "soon"
	cfg.Task.AutoClose.MinPasses = 0

	errs := Validate(cfg)
	want := []string{"log.level", "gate.diff_limit", "gate.disable[1]", "gate.check_timeout", "task.auto_close.min_passes"}
	if len(errs) != len(want) {
		t.Fatalf("got %d errors, want %d: %v", len(errs), len(want), errs)
	}
	for i, field := range want {
		if errs[i].Field != field {
			t.Errorf("errs[%d].Field = %q, want %q", i, errs[i].Field, field)
		}
	}
}

func TestValidate_Defaults(t *testing.T) {
	if errs := Validate(Default()); len(errs) != 0 {
		t.Errorf("defaults invalid: %v", errs)
	}
}

func TestWriteDefaultAndMarshal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatal(err)
	}
	if err := WriteDefault(path); err == nil {
		t.Error("second WriteDefault should refuse to overwrite")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "diff_limit: 200") || !strings.Contains(string(data), "auto_close:") {
		t.Errorf("unexpected YAML:\n%s", data)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Gate.DiffLimit != 200 {
		t.Errorf("round trip DiffLimit = %d", cfg.Gate.DiffLimit)
	}
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{"90s": 90 * time.Second, "120": 2 * time.Minute, "1h": time.Hour}
	for in, want := range tests {
		got, err := ParseDuration(in)
		if err != nil || got != want {
			t.Errorf("ParseDuration(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseDuration("later"); err == nil {
		t.Error("expected error")
	}
	if got := Duration("", 5*time.Second); got != 5*time.Second {
		t.Errorf("Duration fallback = %v", got)
	}
}
