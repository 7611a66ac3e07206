// Package fixqueue holds the fix tasks derived from incidents and runs their
// verification commands.
package fixqueue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lucasnoah/nexus/internal/checks"
	"github.com/lucasnoah/nexus/internal/fsutil"
	"github.com/lucasnoah/nexus/internal/ids"
	"github.com/lucasnoah/nexus/internal/incident"
	"github.com/lucasnoah/nexus/internal/patterns"
	"github.com/lucasnoah/nexus/internal/telemetry"
)

// Status of a fix task.
type Status string

const (
	Pending   Status = "pending"
	Attempted Status = "attempted"
	Completed Status = "completed"
	Failed    Status = "failed"
)

// NoPendingTask is the ProcessOne status for an empty queue.
const NoPendingTask = "no_pending_task"

// Exit codes reported when the verify command could not produce one.
const (
	ExitTimeout      = checks.TimeoutExitCode
	ExitNotRunnable  = 126
	ExitToolNotFound = 127
)

var (
	ErrTaskNotFound      = errors.New("fix task not found")
	ErrInvalidTransition = errors.New("invalid fix task transition")
)

var transitions = map[Status][]Status{
	Pending:   {Attempted},
	Attempted: {Completed, Failed},
}

// HistoryEntry is one status change of a task.
type HistoryEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Status    Status         `json:"status"`
	Note      string         `json:"note,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

// Task is one queued remediation.
type Task struct {
	ID           string            `json:"id"`
	Timestamp    time.Time         `json:"timestamp"`
	Incident     incident.Incident `json:"incident"`
	SuggestedFix string            `json:"suggested_fix"`
	VerifyCmd    []string          `json:"verify_cmd"`
	Cwd          string            `json:"cwd,omitempty"`
	Status       Status            `json:"status"`
	Attempts     int               `json:"attempts"`
	CreatedBy    string            `json:"created_by"`
	Meta         map[string]any    `json:"meta"`
	History      []HistoryEntry    `json:"history"`
	LastUpdated  time.Time         `json:"last_updated,omitzero"`
	Result       map[string]any    `json:"result,omitempty"`
}

// Outcome is what ProcessOne reports.
type Outcome struct {
	Status      string   `json:"status"`
	TaskID      string   `json:"task_id,omitempty"`
	VerifyCmd   []string `json:"verify_cmd,omitempty"`
	ReturnCode  int      `json:"returncode"`
	DurationSec float64  `json:"duration_sec"`
	Stdout      string   `json:"stdout,omitempty"`
	Stderr      string   `json:"stderr,omitempty"`
}

// PatternRecorder stores terminal task outcomes.
type PatternRecorder interface {
	Add(ctx context.Context, obs patterns.Observation) error
}

// MetricsRecorder tracks verification outcomes.
type MetricsRecorder interface {
	RecordFixVerification(ctx context.Context, success bool, durationSec float64) error
}

// Options tunes a Queue. Zero values pick the defaults.
type Options struct {
	VerifyTimeout time.Duration
	OutputTail    int
	Telemetry     *telemetry.Provider
	Logger        *slog.Logger
}

// Queue is the fix_queue.jsonl store.
type Queue struct {
	path     string
	cmd      checks.CommandRunner
	patterns PatternRecorder
	metrics  MetricsRecorder
	tel      *telemetry.Provider
	logger   *slog.Logger
	now      func() time.Time

	verifyTimeout time.Duration
	outputTail    int
}

// New creates a Queue. patterns and metrics may be nil.
func New(path string, cmd checks.CommandRunner, pr PatternRecorder, mr MetricsRecorder, opts Options) *Queue {
	q := &Queue{
		path:          path,
		cmd:           cmd,
		patterns:      pr,
		metrics:       mr,
		tel:           opts.Telemetry,
		logger:        opts.Logger,
		now:           time.Now,
		verifyTimeout: opts.VerifyTimeout,
		outputTail:    opts.OutputTail,
	}
	if q.logger == nil {
		q.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if q.verifyTimeout <= 0 {
		q.verifyTimeout = checks.DefaultTimeout
	}
	if q.outputTail <= 0 {
		q.outputTail = checks.DefaultOutputTail
	}
	return q
}

// Path returns the queue file location.
func (q *Queue) Path() string { return q.path }

// Add plans a fix for inc and appends it as a pending task.
func (q *Queue) Add(ctx context.Context, inc incident.Incident) (Task, error) {
	plan := PlanFor(inc)
	now := q.now().UTC()
	createdBy := inc.Source
	if createdBy == "" {
		createdBy = incident.SourceSelfHeal
	}
	t := Task{
		ID:           ids.New("fix", now),
		Timestamp:    now,
		Incident:     inc,
		SuggestedFix: plan.SuggestedFix,
		VerifyCmd:    plan.VerifyCmd,
		Cwd:          inc.Cwd,
		Status:       Pending,
		CreatedBy:    createdBy,
		Meta:         map[string]any{},
		History:      []HistoryEntry{{Timestamp: now, Status: Pending, Note: "task_created"}},
	}
	err := fsutil.WithLock(ctx, q.path, func() error {
		return fsutil.AppendJSONL(q.path, t)
	})
	if err != nil {
		return t, fmt.Errorf("appending fix task: %w", err)
	}
	q.logger.Info("fix task queued", "id", t.ID, "incident", inc.ID, "verify_cmd", strings.Join(t.VerifyCmd, " "))
	return t, nil
}

func (q *Queue) load() ([]Task, error) {
	tasks, skipped, err := fsutil.ReadJSONL[Task](q.path)
	if skipped > 0 {
		q.logger.Debug("skipped malformed fix task lines", "count", skipped)
	}
	if err != nil {
		return nil, fmt.Errorf("reading fix queue: %w", err)
	}
	return tasks, nil
}

// List returns tasks in file order, filtered by status when non-empty.
func (q *Queue) List(status Status) ([]Task, error) {
	tasks, err := q.load()
	if err != nil {
		return nil, err
	}
	if status == "" {
		return tasks, nil
	}
	var out []Task
	for _, t := range tasks {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

// Next returns the first pending task, or nil.
func (q *Queue) Next() (*Task, error) {
	tasks, err := q.load()
	if err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].Status == Pending {
			return &tasks[i], nil
		}
	}
	return nil, nil
}

// UpdateStatus moves a task along its lifecycle and rewrites the queue.
func (q *Queue) UpdateStatus(ctx context.Context, id string, status Status, result map[string]any) (*Task, error) {
	var updated *Task
	err := fsutil.WithLock(ctx, q.path, func() error {
		tasks, err := q.load()
		if err != nil {
			return err
		}
		idx := -1
		for i := range tasks {
			if tasks[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fmt.Errorf("%s: %w", id, ErrTaskNotFound)
		}
		t := &tasks[idx]
		if !allowed(t.Status, status) {
			return fmt.Errorf("%s: %s -> %s: %w", id, t.Status, status, ErrInvalidTransition)
		}

		now := q.now().UTC()
		t.Status = status
		if status == Attempted {
			t.Attempts++
		}
		t.LastUpdated = now
		if result != nil {
			t.Result = result
		}
		t.History = append(t.History, HistoryEntry{Timestamp: now, Status: status, Result: result})
		if err := writeTasks(q.path, tasks); err != nil {
			return err
		}
		updated = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	if status == Completed || status == Failed {
		q.recordPattern(ctx, updated, result)
	}
	return updated, nil
}

func writeTasks(path string, tasks []Task) error {
	if err := fsutil.WriteJSONL(path, tasks); err != nil {
		return fmt.Errorf("rewriting fix queue: %w", err)
	}
	return nil
}

func allowed(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (q *Queue) recordPattern(ctx context.Context, t *Task, result map[string]any) {
	if q.patterns == nil {
		return
	}
	outcome := patterns.Failure
	if t.Status == Completed {
		outcome = patterns.Success
	}
	obs := patterns.Observation{
		Type:      "fix_task_" + string(t.Status),
		Signature: patternKey(t.Incident),
		Example: map[string]any{
			"task_id":  t.ID,
			"incident": t.Incident,
			"result":   result,
		},
		SuggestedFix: t.SuggestedFix,
		VerifyCmd:    t.VerifyCmd,
		Outcome:      outcome,
		Meta:         map[string]any{"status": string(t.Status)},
	}
	if err := q.patterns.Add(ctx, obs); err != nil {
		q.logger.Warn("recording fix pattern failed", "task", t.ID, "error", err)
	}
}

func patternKey(inc incident.Incident) string {
	for _, s := range []string{inc.Signature, inc.FailedCheck, string(inc.Class)} {
		if s != "" {
			return s
		}
	}
	return "fix_task"
}

// ProcessOne verifies the first pending task.
func (q *Queue) ProcessOne(ctx context.Context, executor string) (*Outcome, error) {
	task, err := q.Next()
	if err != nil {
		return nil, err
	}
	if task == nil {
		return &Outcome{Status: NoPendingTask}, nil
	}

	verify := task.VerifyCmd
	if len(verify) == 0 {
		verify = []string{"echo", "missing_verify_cmd"}
	}

	ctx, span := q.tel.Start(ctx, "fix.process_one",
		attribute.String("fix.task_id", task.ID),
		attribute.String("fix.verify_cmd", strings.Join(verify, " ")),
	)
	defer span.End()

	if _, err := q.UpdateStatus(ctx, task.ID, Attempted, map[string]any{
		"executor":   executor,
		"verify_cmd": verify,
	}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	stdout, stderr, rc := q.verify(ctx, task.Cwd, verify)
	duration := round4(time.Since(start).Seconds())

	final := Failed
	if rc == 0 {
		final = Completed
	}
	result := map[string]any{
		"executor":     executor,
		"verify_cmd":   verify,
		"returncode":   rc,
		"stdout":       stdout,
		"stderr":       stderr,
		"duration_sec": duration,
	}
	if _, err := q.UpdateStatus(ctx, task.ID, final, result); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if q.metrics != nil {
		if err := q.metrics.RecordFixVerification(ctx, final == Completed, duration); err != nil {
			q.logger.Warn("metrics update failed", "task", task.ID, "error", err)
		}
	}
	q.tel.FixVerification(ctx, string(final), duration)
	span.SetAttributes(attribute.String("fix.status", string(final)), attribute.Int("fix.returncode", rc))
	q.logger.Info("fix task verified", "id", task.ID, "status", final, "returncode", rc, "duration_sec", duration)

	return &Outcome{
		Status:      string(final),
		TaskID:      task.ID,
		VerifyCmd:   verify,
		ReturnCode:  rc,
		DurationSec: duration,
		Stdout:      stdout,
		Stderr:      stderr,
	}, nil
}

// verify runs argv and maps every way it can go wrong onto an exit code.
func (q *Queue) verify(ctx context.Context, cwd string, argv []string) (string, string, int) {
	if cwd != "" {
		if info, err := os.Stat(cwd); err != nil || !info.IsDir() {
			q.logger.Warn("fix task cwd missing, using process cwd", "cwd", cwd)
			cwd = ""
		}
	}
	runCtx, cancel := context.WithTimeout(ctx, q.verifyTimeout)
	defer cancel()

	stdout, stderr, rc, err := q.cmd.Run(runCtx, cwd, argv)
	switch {
	case err == nil:
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		rc = ExitTimeout
		stderr = fmt.Sprintf("timeout: %s exceeded %s", strings.Join(argv, " "), q.verifyTimeout)
	case errors.Is(err, checks.ErrToolMissing):
		rc = ExitToolNotFound
		stderr = err.Error()
	default:
		rc = ExitNotRunnable
		stderr = err.Error()
	}
	return checks.Tail(stdout, q.outputTail), checks.Tail(stderr, q.outputTail), rc
}

// Stats counts tasks by status. The four lifecycle statuses and total are
// always present.
func (q *Queue) Stats() (map[string]int, error) {
	tasks, err := q.load()
	if err != nil {
		return nil, err
	}
	counts := map[string]int{
		string(Pending):   0,
		string(Attempted): 0,
		string(Completed): 0,
		string(Failed):    0,
		"total":           0,
	}
	for _, t := range tasks {
		s := t.Status
		if s == "" {
			s = Pending
		}
		counts[string(s)]++
		counts["total"]++
	}
	return counts, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
