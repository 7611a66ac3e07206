// Package metrics persists the pipeline's durable counters and running means.
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/lucasnoah/nexus/internal/fsutil"
)

// SchemaVersion is written into new metrics documents.
const SchemaVersion = "1"

// CheckOutcome is the compact per-check record kept in LastResult.
type CheckOutcome struct {
	Name string `json:"name"`
	OK   bool   `json:"ok"`
}

// UnmarshalJSON also accepts the older [name, ok] pair form.
func (c *CheckOutcome) UnmarshalJSON(b []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(b, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("check outcome: want [name, ok], got %d elements", len(pair))
		}
		var out CheckOutcome
		if err := json.Unmarshal(pair[0], &out.Name); err != nil {
			return fmt.Errorf("check outcome name: %w", err)
		}
		if err := json.Unmarshal(pair[1], &out.OK); err != nil {
			return fmt.Errorf("check outcome ok: %w", err)
		}
		*c = out
		return nil
	}
	type plain CheckOutcome
	var out plain
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*c = CheckOutcome(out)
	return nil
}

// LastResult summarizes the most recent gate run.
type LastResult struct {
	Passed   bool           `json:"passed"`
	Checks   []CheckOutcome `json:"checks"`
	ToolName string         `json:"tool_name,omitempty"`
}

// Metrics is the persisted aggregate. Keys this version does not know about
// survive a load/save cycle.
type Metrics struct {
	Version     string    `json:"version"`
	Created     time.Time `json:"created,omitzero"`
	LastUpdated time.Time `json:"last_updated,omitzero"`

	Runs            int         `json:"runs"`
	RollbackCount   int         `json:"rollback_count"`
	LastFailedCheck string      `json:"last_failed_check,omitempty"`
	LastResult      *LastResult `json:"last_result,omitempty"`
	LastRun         time.Time   `json:"last_run,omitzero"`

	TasksCompleted     int     `json:"tasks_completed"`
	TasksSuccessful    int     `json:"tasks_successful"`
	TasksFailed        int     `json:"tasks_failed"`
	TaskProgressEvents int     `json:"task_progress_events"`
	SuccessRate        float64 `json:"success_rate"`

	IncidentsTotal int `json:"incidents_total"`
	IncidentsOpen  int `json:"incidents_open"`
	FixesCompleted int `json:"fixes_completed"`
	FixesFailed    int `json:"fixes_failed"`

	MeanTimeToCloseTask *float64 `json:"mean_time_to_close_task"`
	MeanTimeToVerifyFix *float64 `json:"mean_time_to_verify_fix"`

	extra   map[string]json.RawMessage
	invalid []string
}

type document Metrics

// knownKeys are the JSON names of the typed fields.
var knownKeys = func() map[string]bool {
	keys := make(map[string]bool)
	t := reflect.TypeFor[document]()
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}()

// UnmarshalJSON decodes the known fields one key at a time and stashes the
// rest. A value of the wrong type leaves only its own field at the zero
// value; the key is reported by Invalid.
func (m *Metrics) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var d document
	var invalid []string
	extra := make(map[string]json.RawMessage)
	for k, v := range raw {
		if !knownKeys[k] {
			extra[k] = v
			continue
		}
		one, err := json.Marshal(map[string]json.RawMessage{k: v})
		if err != nil {
			return err
		}
		prev := d
		if err := json.Unmarshal(one, &d); err != nil {
			d = prev
			invalid = append(invalid, k)
		}
	}
	*m = Metrics(d)
	if len(extra) > 0 {
		m.extra = extra
	}
	slices.Sort(invalid)
	m.invalid = invalid
	return nil
}

// Invalid lists the keys whose stored values could not be decoded.
func (m *Metrics) Invalid() []string {
	return m.invalid
}

// MarshalJSON writes the known fields plus any preserved unknown keys.
func (m Metrics) MarshalJSON() ([]byte, error) {
	out, err := fieldSet(document(m))
	if err != nil {
		return nil, err
	}
	for k, v := range m.extra {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return json.Marshal(out)
}

func fieldSet(d document) (map[string]json.RawMessage, error) {
	b, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Extra returns the raw value of an unrecognized key.
func (m *Metrics) Extra(key string) (json.RawMessage, bool) {
	v, ok := m.extra[key]
	return v, ok
}

// Defaults returns a zeroed aggregate stamped with now.
func Defaults(now time.Time) *Metrics {
	return &Metrics{
		Version:     SchemaVersion,
		Created:     now.UTC(),
		LastUpdated: now.UTC(),
	}
}

// Store reads and rewrites metrics.json.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewStore creates a Store backed by path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{path: path, logger: logger, now: time.Now}
}

// Path returns the metrics document location.
func (s *Store) Path() string { return s.path }

// Load returns the persisted metrics with defaults applied. A missing or
// unparseable document yields defaults; a single mistyped key only resets
// that key. success_rate is re-derived from the task counters.
func (s *Store) Load() (*Metrics, error) {
	var m Metrics
	err := fsutil.ReadJSON(s.path, &m)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		return Defaults(s.now()), nil
	default:
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, err
		}
		s.logger.Warn("metrics document unreadable, using defaults", "path", s.path, "error", err)
		return Defaults(s.now()), nil
	}
	if m.Version == "" {
		m.Version = SchemaVersion
	}
	if m.Created.IsZero() {
		m.Created = s.now().UTC()
	}
	if len(m.invalid) > 0 {
		s.logger.Warn("metrics keys reset to defaults", "path", s.path, "keys", m.invalid)
		m.invalid = nil
	}
	m.SuccessRate = 0
	if m.TasksCompleted > 0 {
		m.SuccessRate = round4(float64(m.TasksSuccessful) / float64(m.TasksCompleted))
	}
	return &m, nil
}

// Update applies fn to the current metrics under the store lock and
// persists the result.
func (s *Store) Update(ctx context.Context, fn func(*Metrics)) (*Metrics, error) {
	var out *Metrics
	err := fsutil.WithLock(ctx, s.path, func() error {
		m, err := s.Load()
		if err != nil {
			return err
		}
		fn(m)
		m.LastUpdated = s.now().UTC()
		if err := fsutil.WriteJSON(s.path, m); err != nil {
			return err
		}
		out = m
		return nil
	})
	return out, err
}

// RecordGateRun counts a gate run and remembers its outcome.
func (s *Store) RecordGateRun(ctx context.Context, result LastResult, failedCheck string, rolledBack bool) error {
	_, err := s.Update(ctx, func(m *Metrics) {
		m.Runs++
		m.LastResult = &result
		m.LastRun = s.now().UTC()
		if failedCheck != "" {
			m.LastFailedCheck = failedCheck
		}
		if rolledBack {
			m.RollbackCount++
		}
	})
	return err
}

// RecordIncident counts a newly opened incident.
func (s *Store) RecordIncident(ctx context.Context) error {
	_, err := s.Update(ctx, func(m *Metrics) {
		m.IncidentsTotal++
		m.IncidentsOpen++
	})
	return err
}

// RecordFixVerification counts a verified fix and folds its duration into
// the running mean. A success closes one open incident.
func (s *Store) RecordFixVerification(ctx context.Context, success bool, durationSec float64) error {
	_, err := s.Update(ctx, func(m *Metrics) {
		if success {
			m.FixesCompleted++
			m.IncidentsOpen = max(0, m.IncidentsOpen-1)
		} else {
			m.FixesFailed++
		}
		n := m.FixesCompleted + m.FixesFailed
		m.MeanTimeToVerifyFix = ptr(runningMean(m.MeanTimeToVerifyFix, n, durationSec))
	})
	return err
}

// RecordTaskClose counts a closed unit of work.
func (s *Store) RecordTaskClose(ctx context.Context, success bool, durationSec float64) error {
	_, err := s.Update(ctx, func(m *Metrics) {
		m.TasksCompleted++
		if success {
			m.TasksSuccessful++
		} else {
			m.TasksFailed++
		}
		m.SuccessRate = round4(float64(m.TasksSuccessful) / float64(m.TasksCompleted))
		m.MeanTimeToCloseTask = ptr(runningMean(m.MeanTimeToCloseTask, m.TasksCompleted, durationSec))
	})
	return err
}

// RecordTaskProgress bumps the process-wide progress counter.
func (s *Store) RecordTaskProgress(ctx context.Context) error {
	_, err := s.Update(ctx, func(m *Metrics) {
		m.TaskProgressEvents++
	})
	return err
}

// runningMean folds x into a mean over n samples, x being the nth.
func runningMean(prev *float64, n int, x float64) float64 {
	if prev == nil || n <= 1 {
		return round4(x)
	}
	return round4((*prev*float64(n-1) + x) / float64(n))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func ptr(v float64) *float64 { return &v }
