// Package gate runs the quality checks after a change, rolls the change
// back when a check fails and records what happened.
package gate

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/lucasnoah/nexus/internal/checks"
	"github.com/lucasnoah/nexus/internal/db"
	"github.com/lucasnoah/nexus/internal/event"
	"github.com/lucasnoah/nexus/internal/fixqueue"
	"github.com/lucasnoah/nexus/internal/gitutil"
	"github.com/lucasnoah/nexus/internal/ids"
	"github.com/lucasnoah/nexus/internal/incident"
	"github.com/lucasnoah/nexus/internal/metrics"
	"github.com/lucasnoah/nexus/internal/patterns"
	"github.com/lucasnoah/nexus/internal/snapshot"
	"github.com/lucasnoah/nexus/internal/task"
	"github.com/lucasnoah/nexus/internal/telemetry"
)

// EnvRunning marks a process tree that is already inside a gate run.
const EnvRunning = "NEXUS_GATE_RUNNING"

// Exit codes of `nexus gate`.
const (
	ExitPass = 0
	ExitFail = 2
)

// Pattern types and signatures recorded per run.
const (
	PatternPass   = "quality_gate_pass"
	PatternFail   = "quality_gate_fail"
	PassSignature = "quality_gate:all_checks_passed"
	FailSignature = "quality_gate:unknown_fail"
)

const errorTail = 2000

// SkipRecursion is the Skipped marker for a guarded run.
const SkipRecursion = "recursion_guard"

// Config holds the gate's tunables.
type Config struct {
	DiffLimit    int
	CheckTimeout time.Duration
	TestTimeout  time.Duration
	Disable      []string
	Ignore       []string
	SnapshotKeep int
}

// SuiteRunner executes planned checks.
type SuiteRunner interface {
	RunSuite(ctx context.Context, dir string, specs []checks.Spec) *checks.SuiteResult
}

// ChangeLister lists modified tracked files.
type ChangeLister interface {
	ChangedFiles(ctx context.Context, dir string) ([]string, error)
}

// Snapshotter captures and restores the working tree.
type Snapshotter interface {
	Capture(root string, changed []string) (*snapshot.Snapshot, error)
	Restore(ctx context.Context, root, snapDir string) (string, error)
	Prune(keep int) (int, error)
}

// IncidentRecorder persists incidents.
type IncidentRecorder interface {
	Record(ctx context.Context, inc incident.Incident) (incident.Incident, error)
}

// FixEnqueuer turns incidents into fix tasks.
type FixEnqueuer interface {
	Add(ctx context.Context, inc incident.Incident) (fixqueue.Task, error)
}

// PatternRecorder stores gate outcomes.
type PatternRecorder interface {
	Add(ctx context.Context, obs patterns.Observation) error
}

// MetricsRecorder counts gate runs.
type MetricsRecorder interface {
	RecordGateRun(ctx context.Context, result metrics.LastResult, failedCheck string, rolledBack bool) error
}

// TaskTracker is notified of every verdict.
type TaskTracker interface {
	OnGatePass(ctx context.Context, toolName, root string, checks []incident.CheckSummary) (*task.Task, error)
	OnGateFail(ctx context.Context, signature string) (*task.Task, error)
}

// CheckLogger writes check runs to the history ledger.
type CheckLogger interface {
	LogCheckRun(ctx context.Context, r db.CheckRun) error
}

// Deps are the collaborators of a Gate. Git, History and Telemetry may be
// nil.
type Deps struct {
	Runner    SuiteRunner
	Git       ChangeLister
	Snapshots Snapshotter
	Incidents IncidentRecorder
	Fixes     FixEnqueuer
	Patterns  PatternRecorder
	Metrics   MetricsRecorder
	Tasks     TaskTracker
	History   CheckLogger
	Telemetry *telemetry.Provider
	Logger    *slog.Logger

	// Plan selects the checks; defaults to checks.Plan.
	Plan func(checks.PlanOpts) []checks.Spec
	// IsRepo reports a version-controlled root; defaults to gitutil.IsRepo.
	IsRepo func(root string) bool
}

// Result is the JSON verdict printed by `nexus gate`.
type Result struct {
	Passed          bool                    `json:"passed"`
	Skipped         string                  `json:"skipped,omitempty"`
	RolledBack      bool                    `json:"rolled_back,omitempty"`
	RollbackMethod  string                  `json:"rollback_method,omitempty"`
	Checks          []incident.CheckSummary `json:"checks"`
	SkippedChecks   []checks.Kind           `json:"skipped_checks,omitempty"`
	FailedCheck     string                  `json:"failed_check,omitempty"`
	FailedSignature string                  `json:"failed_signature,omitempty"`
	SuggestedAction string                  `json:"suggested_action,omitempty"`
	IncidentID      string                  `json:"incident_id,omitempty"`
	FixTaskID       string                  `json:"fix_task_id,omitempty"`
	Root            string                  `json:"root,omitempty"`
	ChangedFiles    []string                `json:"changed_files,omitempty"`
	ElapsedSec      float64                 `json:"elapsed_sec"`
}

// ExitCode maps the verdict onto the process exit code.
func (r *Result) ExitCode() int {
	if r.Passed || r.Skipped != "" {
		return ExitPass
	}
	return ExitFail
}

// Gate orchestrates one quality gate run per change event.
type Gate struct {
	cfg     Config
	d       Deps
	logger  *slog.Logger
	running atomic.Bool
}

// New creates a Gate.
func New(cfg Config, d Deps) *Gate {
	if d.Plan == nil {
		d.Plan = checks.Plan
	}
	if d.IsRepo == nil {
		d.IsRepo = gitutil.IsRepo
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gate{cfg: cfg, d: d, logger: logger}
}

// Guarded reports that this process was started by a running gate.
func Guarded() bool {
	return os.Getenv(EnvRunning) == "1"
}

// SkippedResult is the verdict of a gate that declined to run.
func SkippedResult() *Result {
	return &Result{Passed: true, Skipped: SkipRecursion, Checks: []incident.CheckSummary{}}
}

// Run evaluates ev. Auxiliary store failures are logged and never change
// the verdict; the returned error is always nil unless ctx is cancelled
// before any check ran.
func (g *Gate) Run(ctx context.Context, ev *event.ChangeEvent) (*Result, error) {
	if Guarded() || !g.running.CompareAndSwap(false, true) {
		return SkippedResult(), nil
	}
	defer g.running.Store(false)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ev == nil {
		ev = &event.ChangeEvent{}
	}

	start := time.Now()
	root := FindRoot(ev.ProjectDir())
	versioned := g.d.IsRepo(root)
	toolName := ev.ToolName
	if toolName == "" {
		toolName = "unknown_tool"
	}

	ctx, span := g.d.Telemetry.Start(ctx, "gate.run",
		attribute.String("gate.root", root),
		attribute.String("gate.tool", toolName),
	)
	defer span.End()

	changed := g.changedFiles(ctx, root, versioned, ev)
	snap, err := g.d.Snapshots.Capture(root, changed)
	if err != nil {
		g.logger.Warn("snapshot capture failed", "root", root, "error", err)
	}

	specs := g.d.Plan(checks.PlanOpts{
		Root:         root,
		Changed:      changed,
		Versioned:    versioned,
		DiffLimit:    g.cfg.DiffLimit,
		CheckTimeout: g.cfg.CheckTimeout,
		TestTimeout:  g.cfg.TestTimeout,
		Disabled:     g.cfg.Disable,
	})
	suite := g.d.Runner.RunSuite(ctx, root, specs)

	runID := ids.New("run", start.UTC())
	summaries := make([]incident.CheckSummary, 0, len(suite.Results))
	outcomes := make([]metrics.CheckOutcome, 0, len(suite.Results))
	for _, r := range suite.Results {
		summaries = append(summaries, incident.CheckSummary{Name: r.Name, OK: r.OK, Signature: r.Signature, Detail: r.Detail})
		outcomes = append(outcomes, metrics.CheckOutcome{Name: r.Name, OK: r.OK})
		g.d.Telemetry.CheckDuration(ctx, r.Name, r.OK, r.DurationMs)
		g.logCheck(ctx, db.CheckRun{
			RunID:      runID,
			Root:       root,
			ToolName:   toolName,
			CheckName:  r.Name,
			Passed:     r.OK,
			ExitCode:   r.ExitCode,
			DurationMs: r.DurationMs,
			Signature:  r.Signature,
			Summary:    r.Summary,
		})
	}

	res := &Result{
		Passed:        suite.Passed,
		Checks:        summaries,
		SkippedChecks: suite.Skipped,
		Root:          root,
		ChangedFiles:  changed,
	}

	if suite.Passed {
		g.onPass(ctx, ev, res, toolName, outcomes)
	} else {
		snapDir := ""
		if snap != nil {
			snapDir = snap.Dir
		}
		g.onFail(ctx, ev, res, toolName, outcomes, suite.FirstFailure(), snapDir, versioned)
	}

	if keep := g.cfg.SnapshotKeep; keep > 0 {
		if _, err := g.d.Snapshots.Prune(keep); err != nil {
			g.logger.Warn("snapshot prune failed", "error", err)
		}
	}

	g.d.Telemetry.GateRun(ctx, res.Passed)
	span.SetAttributes(attribute.Bool("gate.passed", res.Passed), attribute.Int("gate.checks", len(summaries)))
	res.ElapsedSec = math.Round(time.Since(start).Seconds()*1000) / 1000
	g.logger.Info("gate run", "root", root, "passed", res.Passed, "checks", len(summaries), "failed_check", res.FailedCheck)
	return res, nil
}

func (g *Gate) onPass(ctx context.Context, ev *event.ChangeEvent, res *Result, toolName string, outcomes []metrics.CheckOutcome) {
	if err := g.d.Metrics.RecordGateRun(ctx, metrics.LastResult{Passed: true, Checks: outcomes, ToolName: toolName}, "", false); err != nil {
		g.logger.Warn("metrics update failed", "error", err)
	}
	g.recordPattern(ctx, ev, res, toolName, PatternPass, PassSignature,
		"Continue implementation; keep changes small and covered by checks.", patterns.Success)
	if _, err := g.d.Tasks.OnGatePass(ctx, toolName, res.Root, res.Checks); err != nil {
		g.logger.Warn("task progress update failed", "error", err)
	}
}

func (g *Gate) onFail(ctx context.Context, ev *event.ChangeEvent, res *Result, toolName string, outcomes []metrics.CheckOutcome, failed *checks.Result, snapDir string, versioned bool) {
	if failed == nil {
		failed = &checks.Result{Name: "quality_gate", Signature: FailSignature}
	}
	if failed.Signature == "" {
		failed.Signature = FailSignature
	}
	res.FailedCheck = failed.Name
	res.FailedSignature = failed.Signature
	res.SuggestedAction = failed.Kind.Guidance()

	method, err := g.restore(ctx, res.Root, snapDir, versioned)
	if err != nil {
		g.logger.Error("rollback failed", "root", res.Root, "method", method, "error", err)
	}
	res.RolledBack = true
	res.RollbackMethod = method
	g.d.Telemetry.Rollback(ctx, method)

	inc := incident.Incident{
		Source:          incident.SourceQualityGate,
		Class:           incident.Class(failed.Name),
		Signature:       failed.Signature,
		Error:           failureText(failed),
		FailedCheck:     failed.Name,
		ToolName:        toolName,
		ToolInput:       ev.ToolInput,
		ToolResponse:    ev.ToolResponse,
		Cwd:             res.Root,
		FilePath:        ev.TargetPath(),
		Checks:          res.Checks,
		RollbackMethod:  method,
		SuggestedAction: res.SuggestedAction,
	}
	recorded, err := g.d.Incidents.Record(ctx, inc)
	if err != nil {
		g.logger.Error("incident record failed", "error", err)
	} else {
		inc = recorded
		res.IncidentID = recorded.ID
	}

	g.recordPattern(ctx, ev, res, toolName, PatternFail, failed.Signature, res.SuggestedAction, patterns.Failure)

	if t, err := g.d.Fixes.Add(ctx, inc); err != nil {
		g.logger.Error("fix task enqueue failed", "error", err)
	} else {
		res.FixTaskID = t.ID
	}

	if err := g.d.Metrics.RecordGateRun(ctx, metrics.LastResult{Passed: false, Checks: outcomes, ToolName: toolName}, failed.Name, true); err != nil {
		g.logger.Warn("metrics update failed", "error", err)
	}
	if _, err := g.d.Tasks.OnGateFail(ctx, failed.Signature); err != nil {
		g.logger.Warn("task failure note failed", "error", err)
	}
}

func (g *Gate) restore(ctx context.Context, root, snapDir string, versioned bool) (string, error) {
	if snapDir == "" && !versioned {
		return snapshot.MethodSnapshotMissing, nil
	}
	return g.d.Snapshots.Restore(ctx, root, snapDir)
}

func (g *Gate) recordPattern(ctx context.Context, ev *event.ChangeEvent, res *Result, toolName, typ, sig, suggestion string, outcome patterns.Outcome) {
	obs := patterns.Observation{
		Type:      typ,
		Signature: sig,
		Example: map[string]any{
			"tool_name":     toolName,
			"tool_input":    ev.ToolInput,
			"changed_files": res.ChangedFiles,
			"checks":        res.Checks,
			"cwd":           res.Root,
		},
		SuggestedFix: suggestion,
		VerifyCmd:    []string{"nexus", "gate"},
		Outcome:      outcome,
		Meta: map[string]any{
			"tool_name":           toolName,
			"changed_files_count": len(res.ChangedFiles),
		},
	}
	if err := g.d.Patterns.Add(ctx, obs); err != nil {
		g.logger.Warn("pattern record failed", "type", typ, "error", err)
	}
}

func (g *Gate) changedFiles(ctx context.Context, root string, versioned bool, ev *event.ChangeEvent) []string {
	var files []string
	if versioned && g.d.Git != nil {
		diff, err := g.d.Git.ChangedFiles(ctx, root)
		if err != nil {
			g.logger.Warn("git diff failed", "root", root, "error", err)
		}
		files = append(files, diff...)
	}
	if p := ev.TargetPath(); p != "" {
		if rel := relativeTo(root, p); rel != "" {
			files = append(files, rel)
		}
	}
	return filterChanged(files, g.cfg.Ignore)
}

func (g *Gate) logCheck(ctx context.Context, r db.CheckRun) {
	if g.d.History == nil {
		return
	}
	if err := g.d.History.LogCheckRun(ctx, r); err != nil {
		g.logger.Warn("history ledger write failed", "check", r.CheckName, "error", err)
	}
}

func failureText(r *checks.Result) string {
	for _, s := range []string{r.Stderr, r.Stdout, r.Summary} {
		if s != "" {
			return checks.Tail(s, errorTail)
		}
	}
	return "quality gate failure"
}
