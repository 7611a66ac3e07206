// Package incident records classified failures in an append-only log.
package incident

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/lucasnoah/nexus/internal/fsutil"
	"github.com/lucasnoah/nexus/internal/ids"
)

// Class groups incidents by root cause. Gate failures use the failing
// check's name as their class.
type Class string

const (
	PermissionDenied Class = "permission_denied"
	FileNotFound     Class = "file_not_found"
	ImportError      Class = "import_error"
	SyntaxError      Class = "syntax_error"
	Timeout          Class = "timeout"
	ToolFailure      Class = "tool_failure"
)

// Sources of incidents.
const (
	SourceQualityGate = "quality_gate"
	SourceSelfHeal    = "self_heal"
)

// CheckSummary is the per-check record embedded in gate incidents.
type CheckSummary struct {
	Name      string         `json:"name"`
	OK        bool           `json:"ok"`
	Signature string         `json:"signature,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Incident is an immutable record of a detected failure.
type Incident struct {
	ID              string         `json:"id"`
	Timestamp       time.Time      `json:"timestamp"`
	Source          string         `json:"source"`
	Class           Class          `json:"incident_class"`
	Signature       string         `json:"signature"`
	Error           string         `json:"error,omitempty"`
	FailedCheck     string         `json:"failed_check,omitempty"`
	ToolName        string         `json:"tool_name,omitempty"`
	ToolInput       map[string]any `json:"tool_input,omitempty"`
	ToolResponse    map[string]any `json:"tool_response,omitempty"`
	Cwd             string         `json:"cwd,omitempty"`
	FilePath        string         `json:"file_path,omitempty"`
	ModuleName      string         `json:"module_name,omitempty"`
	Checks          []CheckSummary `json:"checks,omitempty"`
	RollbackMethod  string         `json:"rollback_method,omitempty"`
	SuggestedAction string         `json:"suggested_action,omitempty"`
	Status          string         `json:"status"`
}

// MetricsRecorder receives a notification for every recorded incident.
type MetricsRecorder interface {
	RecordIncident(ctx context.Context) error
}

// Store appends incidents to incidents.jsonl.
type Store struct {
	path    string
	metrics MetricsRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore creates a Store. metrics may be nil.
func NewStore(path string, metrics MetricsRecorder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{path: path, metrics: metrics, logger: logger, now: time.Now}
}

// Path returns the incident log location.
func (s *Store) Path() string { return s.path }

// Record assigns an id and timestamp when missing, appends the incident and
// counts it as open.
func (s *Store) Record(ctx context.Context, inc Incident) (Incident, error) {
	if inc.Timestamp.IsZero() {
		inc.Timestamp = s.now().UTC()
	}
	if inc.ID == "" {
		inc.ID = ids.New("inc", inc.Timestamp)
	}
	if inc.Status == "" {
		inc.Status = "open"
	}

	if err := fsutil.WithLock(ctx, s.path, func() error {
		return fsutil.AppendJSONL(s.path, inc)
	}); err != nil {
		return inc, err
	}
	if s.metrics != nil {
		if err := s.metrics.RecordIncident(ctx); err != nil {
			s.logger.Warn("metrics update failed", "incident", inc.ID, "error", err)
		}
	}
	s.logger.Info("incident recorded", "id", inc.ID, "class", inc.Class, "signature", inc.Signature)
	return inc, nil
}

// List returns every readable incident in log order.
func (s *Store) List() ([]Incident, error) {
	items, skipped, err := fsutil.ReadJSONL[Incident](s.path)
	if skipped > 0 {
		s.logger.Debug("skipped malformed incident lines", "count", skipped)
	}
	return items, err
}

// Recent returns the last n incidents, newest last.
func (s *Store) Recent(n int) ([]Incident, error) {
	items, err := s.List()
	if err != nil {
		return nil, err
	}
	if n > 0 && len(items) > n {
		items = items[len(items)-n:]
	}
	return items, nil
}
