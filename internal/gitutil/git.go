// Package gitutil wraps the handful of git commands the quality gate needs.
package gitutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// Runner runs git with args in dir and returns trimmed stdout.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// ExecRunner shells out to the git binary.
type ExecRunner struct {
	// Env is appended to the inherited environment.
	Env []string
}

func (e *ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), e.Env...)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// Repo exposes the git queries used against a working tree.
type Repo struct {
	git Runner
}

// New creates a Repo. A nil runner uses ExecRunner.
func New(git Runner) *Repo {
	if git == nil {
		git = &ExecRunner{}
	}
	return &Repo{git: git}
}

// IsRepo reports whether root carries a .git entry (directory or file, so
// worktrees and submodules count).
func IsRepo(root string) bool {
	_, err := os.Stat(filepath.Join(root, ".git"))
	return err == nil
}

// ChangedFiles lists tracked files with unstaged modifications.
func (r *Repo) ChangedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := r.git.Run(ctx, dir, "diff", "--name-only")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// Stat is the size of the working-tree diff.
type Stat struct {
	Added   int `json:"lines_added"`
	Deleted int `json:"lines_deleted"`
	Files   int `json:"files"`
}

// Delta is the total number of touched lines.
func (s Stat) Delta() int { return s.Added + s.Deleted }

// DiffStat measures the unstaged diff in dir.
func (r *Repo) DiffStat(ctx context.Context, dir string) (Stat, error) {
	out, err := r.git.Run(ctx, dir, "diff", "--no-color", "--no-ext-diff")
	if err != nil {
		return Stat{}, err
	}
	return ParseDiffStat(out)
}

// ParseDiffStat counts added and deleted lines in a unified multi-file diff.
// A changed line counts once on each side, matching git's numstat.
func ParseDiffStat(diff string) (Stat, error) {
	if strings.TrimSpace(diff) == "" {
		return Stat{}, nil
	}
	if !strings.HasSuffix(diff, "\n") {
		diff += "\n"
	}
	fileDiffs, err := godiff.ParseMultiFileDiff([]byte(diff))
	if err != nil {
		return Stat{}, fmt.Errorf("parse diff: %w", err)
	}
	var s Stat
	for _, fd := range fileDiffs {
		st := fd.Stat()
		s.Added += int(st.Added + st.Changed)
		s.Deleted += int(st.Deleted + st.Changed)
		s.Files++
	}
	return s, nil
}

// DiscardChanges reverts every tracked modification under dir.
func (r *Repo) DiscardChanges(ctx context.Context, dir string) error {
	_, err := r.git.Run(ctx, dir, "checkout", "--", ".")
	return err
}
