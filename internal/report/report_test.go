package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/nexus/internal/metrics"
	"github.com/lucasnoah/nexus/internal/patterns"
)

func sources(dir string) Sources {
	return Sources{
		Metrics:   metrics.NewStore(filepath.Join(dir, "metrics.json"), nil),
		Patterns:  patterns.NewStore(filepath.Join(dir, "patterns.json"), nil),
		Incidents: filepath.Join(dir, "incidents.jsonl"),
		FixQueue:  filepath.Join(dir, "fix_queue.jsonl"),
		TaskLog:   filepath.Join(dir, "tasks.jsonl"),
	}
}

func TestGenerate_EmptyState(t *testing.T) {
	dir := t.TempDir()
	r, err := Generate(context.Background(), sources(dir), "test", time.Now())
	require.NoError(t, err)

	assert.Equal(t, 0, r.QualityScore)
	assert.Equal(t, "Prototype only", r.Assessment)
	assert.Len(t, r.NextPriorities, 4)
	assert.Equal(t, "CRITICAL", r.NextPriorities[0].Priority)
}

func TestGenerate_FullyExercised(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := sources(dir)
	m := src.Metrics.(*metrics.Store)
	p := src.Patterns.(*patterns.Store)

	require.NoError(t, m.RecordGateRun(ctx, metrics.LastResult{Passed: false}, "ruff", true))
	require.NoError(t, m.RecordIncident(ctx))
	require.NoError(t, m.RecordFixVerification(ctx, true, 1.5))
	require.NoError(t, m.RecordTaskClose(ctx, true, 30))
	require.NoError(t, p.Add(ctx, patterns.Observation{Type: "quality_gate_fail", Signature: "ruff:F401", Outcome: patterns.Failure}))
	require.NoError(t, os.WriteFile(src.FixQueue, []byte("{\"id\":\"fix_1\"}\n"), 0o644))

	r, err := Generate(ctx, src, "test", time.Now())
	require.NoError(t, err)

	assert.Equal(t, MaxScore, r.QualityScore)
	assert.Equal(t, 100.0, r.Percentage)
	assert.Equal(t, "Expert autonomous agent", r.Assessment)
	assert.Empty(t, r.NextPriorities)
	assert.Equal(t, 1, r.Metrics.Patterns)
	assert.Equal(t, 1, r.Metrics.FixTasks)

	path, err := Write(dir, r)
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestGenerate_IncidentsWithoutFixes(t *testing.T) {
	ctx := context.Background()
	src := sources(t.TempDir())
	require.NoError(t, src.Metrics.(*metrics.Store).RecordIncident(ctx))

	r, err := Generate(ctx, src, "test", time.Now())
	require.NoError(t, err)
	assert.Equal(t, pointsSelfHealing/2, r.Evidence["self_healing"].Points)
}

func TestAssessment(t *testing.T) {
	cases := map[int]string{
		95: "Expert autonomous agent",
		75: "Advanced autonomous system",
		60: "Intermediate agentic framework",
		40: "Basic agent scaffolding",
		10: "Prototype only",
	}
	for score, want := range cases {
		assert.Equal(t, want, Assessment(score), "score %d", score)
	}
}

func TestRender(t *testing.T) {
	now := time.Now()
	r := &Report{
		Timestamp:      now.Add(-time.Hour),
		QualityScore:   40,
		MaxScore:       MaxScore,
		Percentage:     40,
		Assessment:     Assessment(40),
		Evidence:       map[string]Evidence{"quality_gate": {Points: 20}},
		Metrics:        Totals{Runs: 1234},
		NextPriorities: []Priority{{Priority: "HIGH", Item: "Track Task Lifecycle"}},
	}
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, r, now))
	out := buf.String()
	for _, want := range []string{"40/100", "1 hour ago", "gate runs 1,234", "[HIGH] Track Task Lifecycle", "quality_gate"} {
		assert.True(t, strings.Contains(out, want), "missing %q in:\n%s", want, out)
	}
}
