// Package task tracks the single active unit of work and its lifecycle log.
package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/lucasnoah/nexus/internal/fsutil"
	"github.com/lucasnoah/nexus/internal/ids"
	"github.com/lucasnoah/nexus/internal/incident"
	"github.com/lucasnoah/nexus/internal/metrics"
)

// Task statuses.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Lifecycle events written to tasks.jsonl.
const (
	EventStarted  = "task_started"
	EventProgress = "task_progress"
	EventClosed   = "task_closed"
)

const (
	recentChecksLimit = 10
	notesLimit        = 20
)

// ErrNoActiveTask is returned by Close when nothing is active.
var ErrNoActiveTask = errors.New("no active task")

// ActiveTaskError is returned by Start while another task is active.
type ActiveTaskError struct {
	ID string
}

func (e *ActiveTaskError) Error() string {
	return "active task already exists: " + e.ID
}

// CheckRun is one gate pass recorded against the task.
type CheckRun struct {
	TS     time.Time               `json:"ts"`
	Checks []incident.CheckSummary `json:"checks"`
}

// Task is the current_task.json document.
type Task struct {
	ID             string     `json:"id"`
	Goal           string     `json:"goal"`
	Status         string     `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ProgressEvents int        `json:"progress_events"`
	Notes          []string   `json:"notes"`
	RecentChecks   []CheckRun `json:"recent_checks,omitempty"`
	LastGatePassAt time.Time  `json:"last_quality_gate_pass_at,omitzero"`
	LastGateFailAt time.Time  `json:"last_quality_gate_fail_at,omitzero"`
	EndedAt        time.Time  `json:"ended_at,omitzero"`
	DurationSec    float64    `json:"duration_sec,omitempty"`
	CloseNote      string     `json:"close_note,omitempty"`
}

// Event is one line of tasks.jsonl.
type Event struct {
	Event     string                  `json:"event"`
	Timestamp time.Time               `json:"timestamp"`
	Task      *Task                   `json:"task,omitempty"`
	TaskID    string                  `json:"task_id,omitempty"`
	ToolName  string                  `json:"tool_name,omitempty"`
	Cwd       string                  `json:"cwd,omitempty"`
	Checks    []incident.CheckSummary `json:"checks,omitempty"`
}

// MetricsStore is the part of the metrics store the manager needs.
type MetricsStore interface {
	Load() (*metrics.Metrics, error)
	RecordTaskClose(ctx context.Context, success bool, durationSec float64) error
	RecordTaskProgress(ctx context.Context) error
}

// QueueStats reports fix queue counts for Status.
type QueueStats interface {
	Stats() (map[string]int, error)
}

// EventLogger mirrors lifecycle events into the history ledger.
type EventLogger interface {
	LogEvent(ctx context.Context, kind string, payload map[string]any) error
}

// Options configures a Manager.
type Options struct {
	AutoClose AutoClosePolicy
	Events    EventLogger
	Logger    *slog.Logger
	Now       func() time.Time
}

// Manager owns current_task.json and tasks.jsonl.
type Manager struct {
	currentPath string
	logPath     string
	metrics     MetricsStore
	queue       QueueStats
	events      EventLogger
	policy      AutoClosePolicy
	logger      *slog.Logger
	now         func() time.Time
}

// NewManager creates a Manager rooted at stateDir. queue may be nil.
func NewManager(stateDir string, m MetricsStore, queue QueueStats, opts Options) *Manager {
	mgr := &Manager{
		currentPath: filepath.Join(stateDir, "current_task.json"),
		logPath:     filepath.Join(stateDir, "tasks.jsonl"),
		metrics:     m,
		queue:       queue,
		events:      opts.Events,
		policy:      opts.AutoClose,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if mgr.logger == nil {
		mgr.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if mgr.now == nil {
		mgr.now = time.Now
	}
	return mgr
}

// LogPath returns the lifecycle log location.
func (m *Manager) LogPath() string { return m.logPath }

// Current returns the active task, or nil.
func (m *Manager) Current() (*Task, error) {
	var t Task
	err := fsutil.ReadJSON(m.currentPath, &t)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, err
		}
		m.logger.Warn("current task unreadable, treating as none", "path", m.currentPath, "error", err)
		return nil, nil
	}
	if t.ID == "" || t.Status != StatusActive {
		return nil, nil
	}
	return &t, nil
}

// Start makes goal the active task.
func (m *Manager) Start(ctx context.Context, goal string) (*Task, error) {
	var started *Task
	err := fsutil.WithLock(ctx, m.currentPath, func() error {
		cur, err := m.Current()
		if err != nil {
			return err
		}
		if cur != nil {
			return &ActiveTaskError{ID: cur.ID}
		}
		now := m.now().UTC()
		t := &Task{
			ID:        ids.New("task", now),
			Goal:      goal,
			Status:    StatusActive,
			StartedAt: now,
			UpdatedAt: now,
			Notes:     []string{},
		}
		if err := fsutil.WriteJSON(m.currentPath, t); err != nil {
			return fmt.Errorf("saving current task: %w", err)
		}
		started = t
		return m.appendEvent(ctx, Event{Event: EventStarted, Timestamp: now, Task: t})
	})
	if err != nil {
		return nil, err
	}
	m.logEvent(ctx, EventStarted, map[string]any{"task_id": started.ID, "goal": goal})
	m.logger.Info("task started", "id", started.ID, "goal", goal)
	return started, nil
}

// Close ends the active task.
func (m *Manager) Close(ctx context.Context, success bool, note string) (*Task, error) {
	var closed *Task
	err := fsutil.WithLock(ctx, m.currentPath, func() error {
		cur, err := m.Current()
		if err != nil {
			return err
		}
		if cur == nil {
			return ErrNoActiveTask
		}
		now := m.now().UTC()
		cur.Status = StatusFailed
		if success {
			cur.Status = StatusCompleted
		}
		cur.EndedAt = now
		cur.UpdatedAt = now
		cur.DurationSec = round4(now.Sub(cur.StartedAt).Seconds())
		cur.CloseNote = note

		if err := m.appendEvent(ctx, Event{Event: EventClosed, Timestamp: now, Task: cur}); err != nil {
			return err
		}
		if err := os.Remove(m.currentPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing current task: %w", err)
		}
		closed = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := m.metrics.RecordTaskClose(ctx, success, closed.DurationSec); err != nil {
		m.logger.Warn("metrics update failed", "task", closed.ID, "error", err)
	}
	m.logEvent(ctx, EventClosed, map[string]any{
		"task_id":      closed.ID,
		"success":      success,
		"duration_sec": closed.DurationSec,
		"note":         note,
	})
	m.logger.Info("task closed", "id", closed.ID, "status", closed.Status, "duration_sec", closed.DurationSec)
	return closed, nil
}

// OnGatePass records progress on the active task. It returns nil when no
// task is active, and the closed task when the auto-close policy fires.
func (m *Manager) OnGatePass(ctx context.Context, toolName, root string, checks []incident.CheckSummary) (*Task, error) {
	var updated *Task
	err := fsutil.WithLock(ctx, m.currentPath, func() error {
		cur, err := m.Current()
		if err != nil || cur == nil {
			return err
		}
		now := m.now().UTC()
		cur.ProgressEvents++
		cur.UpdatedAt = now
		cur.LastGatePassAt = now
		cur.RecentChecks = append(cur.RecentChecks, CheckRun{TS: now, Checks: checks})
		if n := len(cur.RecentChecks); n > recentChecksLimit {
			cur.RecentChecks = cur.RecentChecks[n-recentChecksLimit:]
		}
		if err := fsutil.WriteJSON(m.currentPath, cur); err != nil {
			return fmt.Errorf("saving current task: %w", err)
		}
		updated = cur
		return m.appendEvent(ctx, Event{
			Event:     EventProgress,
			Timestamp: now,
			TaskID:    cur.ID,
			ToolName:  toolName,
			Cwd:       root,
			Checks:    checks,
		})
	})
	if err != nil || updated == nil {
		return nil, err
	}

	if err := m.metrics.RecordTaskProgress(ctx); err != nil {
		m.logger.Warn("metrics update failed", "task", updated.ID, "error", err)
	}

	if m.policy.shouldClose(updated, m.now().UTC()) {
		return m.Close(ctx, true, "auto-closed after repeated quality_gate passes")
	}
	return updated, nil
}

// OnGateFail notes a gate failure on the active task. It returns nil when
// no task is active.
func (m *Manager) OnGateFail(ctx context.Context, signature string) (*Task, error) {
	var updated *Task
	err := fsutil.WithLock(ctx, m.currentPath, func() error {
		cur, err := m.Current()
		if err != nil || cur == nil {
			return err
		}
		now := m.now().UTC()
		cur.UpdatedAt = now
		cur.LastGateFailAt = now
		cur.Notes = append(cur.Notes, "quality_gate_fail:"+signature)
		if n := len(cur.Notes); n > notesLimit {
			cur.Notes = cur.Notes[n-notesLimit:]
		}
		if err := fsutil.WriteJSON(m.currentPath, cur); err != nil {
			return fmt.Errorf("saving current task: %w", err)
		}
		updated = cur
		return nil
	})
	return updated, err
}

// Report is the combined view printed by `task status`.
type Report struct {
	CurrentTask *Task            `json:"current_task"`
	Metrics     *metrics.Metrics `json:"metrics"`
	FixQueue    map[string]int   `json:"fix_queue"`
}

// Status combines the current task, the metrics and the fix queue counts.
func (m *Manager) Status() (*Report, error) {
	cur, err := m.Current()
	if err != nil {
		return nil, err
	}
	met, err := m.metrics.Load()
	if err != nil {
		return nil, fmt.Errorf("loading metrics: %w", err)
	}
	r := &Report{CurrentTask: cur, Metrics: met, FixQueue: map[string]int{}}
	if m.queue != nil {
		stats, err := m.queue.Stats()
		if err != nil {
			return nil, fmt.Errorf("loading fix queue stats: %w", err)
		}
		r.FixQueue = stats
	}
	return r, nil
}

// Events returns the lifecycle log.
func (m *Manager) Events() ([]Event, error) {
	events, skipped, err := fsutil.ReadJSONL[Event](m.logPath)
	if skipped > 0 {
		m.logger.Debug("skipped malformed task events", "count", skipped)
	}
	return events, err
}

func (m *Manager) appendEvent(ctx context.Context, ev Event) error {
	err := fsutil.WithLock(ctx, m.logPath, func() error {
		return fsutil.AppendJSONL(m.logPath, ev)
	})
	if err != nil {
		return fmt.Errorf("appending task event: %w", err)
	}
	return nil
}

func (m *Manager) logEvent(ctx context.Context, kind string, payload map[string]any) {
	if m.events == nil {
		return
	}
	if err := m.events.LogEvent(ctx, kind, payload); err != nil {
		m.logger.Warn("history ledger write failed", "event", kind, "error", err)
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
