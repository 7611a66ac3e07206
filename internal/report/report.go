// Package report scores how much of the pipeline has been exercised and
// writes quality_report.json.
package report

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lucasnoah/nexus/internal/fsutil"
	"github.com/lucasnoah/nexus/internal/metrics"
	"github.com/lucasnoah/nexus/internal/patterns"
)

// FileName is the report written into the state directory.
const FileName = "quality_report.json"

// MaxScore is the best achievable score.
const MaxScore = 100

// Section weights.
const (
	pointsStatePersistence = 20
	pointsPatternLearning  = 20
	pointsFixVerification  = 15
	pointsSelfHealing      = 10
	pointsTaskExecution    = 15
	pointsQualityGate      = 20
)

// MetricsLoader reads the metrics document.
type MetricsLoader interface {
	Path() string
	Load() (*metrics.Metrics, error)
}

// PatternLoader reads the pattern document.
type PatternLoader interface {
	Path() string
	Load(ctx context.Context) (*patterns.Document, error)
}

// Sources locates the inputs of a report.
type Sources struct {
	Metrics   MetricsLoader
	Patterns  PatternLoader
	Incidents string
	FixQueue  string
	TaskLog   string
}

// Evidence supports one scored section.
type Evidence struct {
	Points int            `json:"points"`
	Note   string         `json:"note,omitempty"`
	Facts  map[string]any `json:"facts,omitempty"`
}

// Priority is a suggested next step.
type Priority struct {
	Priority string   `json:"priority"`
	Item     string   `json:"item"`
	Actions  []string `json:"actions"`
}

// Totals are the raw counters behind the score.
type Totals struct {
	Runs           int `json:"runs"`
	Rollbacks      int `json:"rollbacks"`
	IncidentsTotal int `json:"incidents_total"`
	FixesCompleted int `json:"fixes_completed"`
	FixesFailed    int `json:"fixes_failed"`
	TasksCompleted int `json:"tasks_completed"`
	Patterns       int `json:"patterns"`
	FixTasks       int `json:"fix_tasks"`
	TaskEvents     int `json:"task_events"`
}

// Report is the scored summary.
type Report struct {
	Timestamp      time.Time           `json:"timestamp"`
	Version        string              `json:"version"`
	QualityScore   int                 `json:"quality_score"`
	MaxScore       int                 `json:"max_score"`
	Percentage     float64             `json:"percentage"`
	Evidence       map[string]Evidence `json:"evidence"`
	Metrics        Totals              `json:"metrics"`
	Assessment     string              `json:"assessment"`
	NextPriorities []Priority          `json:"next_priorities"`
}

// Generate builds a report from the current state.
func Generate(ctx context.Context, src Sources, version string, now time.Time) (*Report, error) {
	_, metricsErr := os.Stat(src.Metrics.Path())
	_, patternsErr := os.Stat(src.Patterns.Path())
	persisted := metricsErr == nil && patternsErr == nil

	m, err := src.Metrics.Load()
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	doc, err := src.Patterns.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}

	t := Totals{
		Runs:           m.Runs,
		Rollbacks:      m.RollbackCount,
		IncidentsTotal: m.IncidentsTotal,
		FixesCompleted: m.FixesCompleted,
		FixesFailed:    m.FixesFailed,
		TasksCompleted: m.TasksCompleted,
		Patterns:       doc.TotalObservations(),
		FixTasks:       countLines(src.FixQueue),
		TaskEvents:     countLines(src.TaskLog),
	}
	incidentLines := countLines(src.Incidents)

	ev := make(map[string]Evidence)
	if persisted {
		ev["state_persistence"] = Evidence{Points: pointsStatePersistence, Facts: map[string]any{
			"metrics_version":  m.Version,
			"patterns_version": doc.Version,
		}}
	} else {
		ev["state_persistence"] = Evidence{Note: "Missing metrics or pattern document"}
	}

	if t.Patterns > 0 {
		ev["pattern_learning"] = Evidence{Points: pointsPatternLearning, Facts: map[string]any{
			"total_patterns": t.Patterns,
			"pattern_types":  len(doc.Patterns),
		}}
	} else {
		ev["pattern_learning"] = Evidence{Note: "No patterns learned"}
	}

	if verified := t.FixesCompleted + t.FixesFailed; verified > 0 {
		facts := map[string]any{"verifications": verified, "fixes_completed": t.FixesCompleted}
		if m.MeanTimeToVerifyFix != nil {
			facts["mean_time_to_verify_fix"] = *m.MeanTimeToVerifyFix
		}
		ev["fix_verification"] = Evidence{Points: pointsFixVerification, Facts: facts}
	} else {
		ev["fix_verification"] = Evidence{Note: "No fix verified"}
	}

	switch {
	case t.IncidentsTotal > 0 && t.FixTasks > 0:
		ev["self_healing"] = Evidence{Points: pointsSelfHealing, Facts: map[string]any{
			"incidents_total":  t.IncidentsTotal,
			"incidents_logged": incidentLines,
			"fix_tasks":        t.FixTasks,
		}}
	case t.IncidentsTotal > 0:
		ev["self_healing"] = Evidence{
			Points: pointsSelfHealing / 2,
			Note:   "Incidents logged; no fix task generated",
			Facts:  map[string]any{"incidents_total": t.IncidentsTotal, "incidents_logged": incidentLines},
		}
	default:
		ev["self_healing"] = Evidence{Note: "No incidents"}
	}

	if t.TasksCompleted > 0 {
		ev["task_execution"] = Evidence{Points: pointsTaskExecution, Facts: map[string]any{
			"tasks_completed":  t.TasksCompleted,
			"tasks_successful": m.TasksSuccessful,
			"tasks_failed":     m.TasksFailed,
			"task_events":      t.TaskEvents,
		}}
	} else {
		ev["task_execution"] = Evidence{Note: "No completed tasks"}
	}

	if t.Runs > 0 {
		ev["quality_gate"] = Evidence{Points: pointsQualityGate, Facts: map[string]any{
			"runs":              t.Runs,
			"rollbacks":         t.Rollbacks,
			"last_failed_check": m.LastFailedCheck,
		}}
	} else {
		ev["quality_gate"] = Evidence{Note: "No quality gate runs"}
	}

	score := 0
	for _, e := range ev {
		score += e.Points
	}
	return &Report{
		Timestamp:      now.UTC(),
		Version:        version,
		QualityScore:   score,
		MaxScore:       MaxScore,
		Percentage:     math.Round(float64(score)/MaxScore*1000) / 10,
		Evidence:       ev,
		Metrics:        t,
		Assessment:     Assessment(score),
		NextPriorities: priorities(ev),
	}, nil
}

// Write stores r as <stateDir>/quality_report.json.
func Write(stateDir string, r *Report) (string, error) {
	path := filepath.Join(stateDir, FileName)
	return path, fsutil.WriteJSON(path, r)
}

// Assessment labels a score.
func Assessment(score int) string {
	switch {
	case score >= 90:
		return "Expert autonomous agent"
	case score >= 75:
		return "Advanced autonomous system"
	case score >= 60:
		return "Intermediate agentic framework"
	case score >= 40:
		return "Basic agent scaffolding"
	}
	return "Prototype only"
}

func priorities(ev map[string]Evidence) []Priority {
	out := []Priority{}
	if ev["pattern_learning"].Points == 0 {
		out = append(out, Priority{"CRITICAL", "Enable Pattern Learning", []string{"Record patterns from quality gate/self-heal/fix queue"}})
	}
	if ev["task_execution"].Points == 0 {
		out = append(out, Priority{"HIGH", "Track Task Lifecycle", []string{"Use nexus task start/close and update metrics"}})
	}
	if ev["self_healing"].Points == 0 {
		out = append(out, Priority{"HIGH", "Process Incidents", []string{"Generate incidents and run fix verification loop"}})
	}
	if ev["fix_verification"].Points == 0 {
		out = append(out, Priority{"MEDIUM", "Verify Fixes", []string{"Run nexus fix process-one or nexus fix watch"}})
	}
	return out
}

func countLines(path string) int {
	if path == "" {
		return 0
	}
	n, err := fsutil.CountLines(path)
	if err != nil {
		return 0
	}
	return n
}

var sectionOrder = []string{"state_persistence", "pattern_learning", "fix_verification", "self_healing", "task_execution", "quality_gate"}

// Render prints a human-readable summary of r.
func Render(w io.Writer, r *Report, now time.Time) error {
	fmt.Fprintf(w, "Quality score: %d/%d (%.1f%%) %s\n", r.QualityScore, r.MaxScore, r.Percentage, r.Assessment)
	fmt.Fprintf(w, "Generated %s\n\n", humanize.RelTime(r.Timestamp, now, "ago", "from now"))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SECTION\tPOINTS\tNOTE")
	for _, name := range sectionOrder {
		e := r.Evidence[name]
		fmt.Fprintf(tw, "%s\t%d\t%s\n", name, e.Points, e.Note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	t := r.Metrics
	fmt.Fprintf(w, "\ngate runs %s, rollbacks %s, incidents %s, fixes %s ok / %s failed, patterns %s\n",
		humanize.Comma(int64(t.Runs)), humanize.Comma(int64(t.Rollbacks)), humanize.Comma(int64(t.IncidentsTotal)),
		humanize.Comma(int64(t.FixesCompleted)), humanize.Comma(int64(t.FixesFailed)), humanize.Comma(int64(t.Patterns)))
	for _, p := range r.NextPriorities {
		fmt.Fprintf(w, "[%s] %s\n", p.Priority, p.Item)
	}
	return nil
}
