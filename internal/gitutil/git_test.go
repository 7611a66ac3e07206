package gitutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type mockGit struct {
	calls   [][]string
	outputs []string
	err     error
	idx     int
}

func (m *mockGit) Run(_ context.Context, _ string, args ...string) (string, error) {
	m.calls = append(m.calls, args)
	if m.err != nil {
		return "", m.err
	}
	if m.idx >= len(m.outputs) {
		return "", nil
	}
	out := m.outputs[m.idx]
	m.idx++
	return out, nil
}

const sampleDiff = `diff --git a/app.py b/app.py
index 83db48f..bf269f4 100644
--- a/app.py
+++ b/app.py
@@ -1,4 +1,5 @@
 import os
-import sys
+import json
+import re
 
 def main():
diff --git a/README.md b/README.md
index 1111111..2222222 100644
--- a/README.md
+++ b/README.md
@@ -1,2 +1,1 @@
 title
-old line
`

func TestParseDiffStat(t *testing.T) {
	s, err := ParseDiffStat(sampleDiff)
	if err != nil {
		t.Fatalf("ParseDiffStat: %v", err)
	}
	if s.Added != 2 || s.Deleted != 2 || s.Files != 2 {
		t.Errorf("unexpected stat %+v", s)
	}
	if s.Delta() != 4 {
		t.Errorf("expected delta 4, got %d", s.Delta())
	}
}

func TestParseDiffStatEmpty(t *testing.T) {
	s, err := ParseDiffStat("  \n")
	if err != nil || s != (Stat{}) {
		t.Errorf("expected zero stat, got %+v %v", s, err)
	}
}

func TestChangedFiles(t *testing.T) {
	git := &mockGit{outputs: []string{"a.py\n\nsrc/b.ts"}}
	files, err := New(git).ChangedFiles(context.Background(), "/repo")
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || files[0] != "a.py" || files[1] != "src/b.ts" {
		t.Errorf("unexpected files %v", files)
	}
	if got := git.calls[0]; len(got) != 2 || got[0] != "diff" || got[1] != "--name-only" {
		t.Errorf("unexpected git args %v", got)
	}
}

func TestDiscardChanges(t *testing.T) {
	git := &mockGit{}
	if err := New(git).DiscardChanges(context.Background(), "/repo"); err != nil {
		t.Fatal(err)
	}
	want := []string{"checkout", "--", "."}
	got := git.calls[0]
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestDiffStatPropagatesError(t *testing.T) {
	git := &mockGit{err: errors.New("not a repo")}
	if _, err := New(git).DiffStat(context.Background(), "/x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestIsRepo(t *testing.T) {
	dir := t.TempDir()
	if IsRepo(dir) {
		t.Fatal("empty dir reported as repo")
	}
	if err := os.WriteFile(filepath.Join(dir, ".git"), []byte("gitdir: elsewhere\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if !IsRepo(dir) {
		t.Fatal("expected .git file to count")
	}
}
