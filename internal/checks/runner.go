package checks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lucasnoah/nexus/internal/gitutil"
)

// DefaultTimeout applies when a Spec carries none.
const DefaultTimeout = 300 * time.Second

// DefaultTestTimeout bounds test-suite checks.
const DefaultTestTimeout = 900 * time.Second

// TimeoutExitCode is reported for a command killed by its deadline.
const TimeoutExitCode = 124

// DefaultOutputTail is how much of stdout/stderr a Result keeps.
const DefaultOutputTail = 4000

// ErrToolMissing means the check's executable could not be found.
var ErrToolMissing = errors.New("tool not installed")

// Result holds the structured output of a check run.
type Result struct {
	Name       string         `json:"name"`
	Kind       Kind           `json:"kind"`
	OK         bool           `json:"ok"`
	Signature  string         `json:"signature,omitempty"`
	ExitCode   int            `json:"exit_code"`
	TimedOut   bool           `json:"timed_out,omitempty"`
	DurationMs int            `json:"duration_ms"`
	Summary    string         `json:"summary"`
	Findings   any            `json:"findings,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Stdout     string         `json:"stdout,omitempty"`
	Stderr     string         `json:"stderr,omitempty"`
}

// Spec is one planned check.
type Spec struct {
	Kind    Kind
	Argv    []string
	Timeout time.Duration
	// Limit is the maximum diff size for KindDiffLimit.
	Limit int
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, argv []string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner with os/exec.
type ExecRunner struct {
	// Env is appended to the inherited environment of every command.
	Env []string
}

func (e *ExecRunner) Run(ctx context.Context, dir string, argv []string) (string, string, int, error) {
	if len(argv) == 0 {
		return "", "", -1, fmt.Errorf("exec: empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.WaitDelay = 5 * time.Second

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			exitCode = exitErr.ExitCode()
		} else {
			if errors.Is(err, exec.ErrNotFound) {
				return "", "", -1, fmt.Errorf("exec %s: %w", argv[0], ErrToolMissing)
			}
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// DiffStater measures the working-tree diff for the diff-limit check.
type DiffStater interface {
	DiffStat(ctx context.Context, dir string) (gitutil.Stat, error)
}

// Runner executes checks and parses their output.
type Runner struct {
	cmd        CommandRunner
	diff       DiffStater
	outputTail int
}

// NewRunner creates a Runner with the given command runner. diff may be nil,
// in which case diff-limit checks are skipped.
func NewRunner(cmd CommandRunner, diff DiffStater) *Runner {
	return &Runner{cmd: cmd, diff: diff, outputTail: DefaultOutputTail}
}

// Run executes a single check in dir. ErrToolMissing is returned when the
// check cannot run at all; every other failure, timeouts included, is
// reported as a failing Result.
func (r *Runner) Run(ctx context.Context, dir string, spec Spec) (*Result, error) {
	if spec.Kind == KindDiffLimit {
		return r.runDiffLimit(ctx, dir, spec)
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(runCtx, dir, spec.Argv)
	durationMs := int(time.Since(start).Milliseconds())

	res := &Result{
		Name:       string(spec.Kind),
		Kind:       spec.Kind,
		DurationMs: durationMs,
	}

	switch {
	case err != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.ExitCode = TimeoutExitCode
		res.TimedOut = true
		res.Summary = fmt.Sprintf("timeout after %s", timeout)
		res.Stdout = Tail(stdout, r.outputTail)
		res.Stderr = fmt.Sprintf("timeout: %s exceeded %s", strings.Join(spec.Argv, " "), timeout)
	case err != nil && errors.Is(err, ErrToolMissing):
		return nil, err
	case err != nil:
		res.ExitCode = exitCode
		res.Summary = err.Error()
		res.Stdout = Tail(stdout, r.outputTail)
		res.Stderr = Tail(stderr, r.outputTail)
	default:
		parsed := spec.Kind.parser().Parse(stdout, stderr, exitCode)
		res.ExitCode = exitCode
		res.OK = exitCode == 0 && parsed.Passed
		res.Summary = parsed.Summary
		res.Findings = parsed.Findings
		res.Stdout = Tail(stdout, r.outputTail)
		res.Stderr = Tail(stderr, r.outputTail)
	}

	res.Detail = map[string]any{"returncode": res.ExitCode}
	if !res.OK {
		res.Signature = spec.Kind.Signature(res)
	}
	return res, nil
}

func (r *Runner) runDiffLimit(ctx context.Context, dir string, spec Spec) (*Result, error) {
	if r.diff == nil {
		return nil, fmt.Errorf("diff limit: %w", ErrToolMissing)
	}
	start := time.Now()
	stat, err := r.diff.DiffStat(ctx, dir)
	if err != nil {
		return &Result{
			Name:       string(KindDiffLimit),
			Kind:       KindDiffLimit,
			OK:         true,
			DurationMs: int(time.Since(start).Milliseconds()),
			Summary:    "diff unavailable: " + err.Error(),
			Detail:     map[string]any{"delta": 0, "error": err.Error()},
		}, nil
	}
	delta := stat.Delta()
	res := &Result{
		Name:       string(KindDiffLimit),
		Kind:       KindDiffLimit,
		OK:         delta <= spec.Limit,
		DurationMs: int(time.Since(start).Milliseconds()),
		Summary:    fmt.Sprintf("%d lines changed (limit %d)", delta, spec.Limit),
		Detail: map[string]any{
			"delta":         delta,
			"limit":         spec.Limit,
			"lines_added":   stat.Added,
			"lines_deleted": stat.Deleted,
			"files":         stat.Files,
		},
	}
	if !res.OK {
		res.Signature = KindDiffLimit.Signature(res)
	}
	return res, nil
}

// Tail keeps the last n bytes of s without splitting a UTF-8 sequence.
func Tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	s = s[len(s)-n:]
	for len(s) > 0 && !utf8.RuneStart(s[0]) {
		s = s[1:]
	}
	return s
}
