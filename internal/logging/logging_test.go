package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	for in, ok := range map[string]bool{"": true, "DEBUG": true, "warning": true, "error": true, "loud": false} {
		_, err := ParseLevel(in)
		if (err == nil) != ok {
			t.Errorf("ParseLevel(%q) err = %v", in, err)
		}
	}
}

func TestNewWritesFileAndStderr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nexus.log")
	var stderr bytes.Buffer
	logger, closer, err := New(Options{Level: "info", File: path, Stderr: &stderr})
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("gate run", "passed", true)
	logger.Warn("rollback failed", "method", "git_checkout")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("file lines = %d, want 2:\n%s", len(lines), data)
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if rec["msg"] != "gate run" || rec["passed"] != true {
		t.Errorf("record = %v", rec)
	}

	out := stderr.String()
	if strings.Contains(out, "gate run") {
		t.Errorf("info leaked to stderr: %q", out)
	}
	if !strings.Contains(out, "rollback failed") || strings.Contains(out, "time=") {
		t.Errorf("stderr = %q", out)
	}
}

func TestNewWithoutSinksDiscards(t *testing.T) {
	logger, closer, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	logger.Error("dropped")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestTeeWithAttrs(t *testing.T) {
	var a, b bytes.Buffer
	logger := slog.New(Tee(slog.NewTextHandler(&a, nil), slog.NewTextHandler(&b, nil))).With("component", "fixqueue")
	logger.Info("drained")
	for _, buf := range []*bytes.Buffer{&a, &b} {
		if !strings.Contains(buf.String(), "component=fixqueue") {
			t.Errorf("missing attr: %q", buf.String())
		}
	}
}
