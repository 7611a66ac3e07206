package patterns

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "patterns.json"), nil)
}

func assertConsistent(t *testing.T, d *Document) {
	t.Helper()
	for typ, agg := range d.Patterns {
		sum := 0
		for _, b := range agg.BySignature {
			sum += b.Count
			assert.LessOrEqual(t, b.SuccessCount+b.FailureCount, b.Count, "signature counts in %s", typ)
		}
		assert.Equal(t, agg.TotalCount, sum, "per-signature sum for %s", typ)
		assert.Equal(t, agg.TotalCount, agg.SuccessCount+agg.FailureCount+agg.Uncounted(), "totals for %s", typ)
		assert.GreaterOrEqual(t, agg.Uncounted(), 0)
	}
}

func TestAddObservationCounts(t *testing.T) {
	d := NewDocument(time.Now())
	d.AddObservation(Observation{Type: "quality_gate_fail", Signature: "ruff:F401", Outcome: Failure})
	d.AddObservation(Observation{Type: "quality_gate_fail", Signature: "ruff:F401", Outcome: Success, SuggestedFix: "drop import"})
	d.AddObservation(Observation{Type: "quality_gate_fail", Signature: "pytest:fail", Outcome: "weird"})
	d.AddObservation(Observation{Type: "", Signature: "  "})

	agg := d.Patterns["quality_gate_fail"]
	require.NotNil(t, agg)
	assert.Equal(t, 3, agg.TotalCount)
	assert.Equal(t, 1, agg.SuccessCount)
	assert.Equal(t, 1, agg.FailureCount)
	assert.Equal(t, 1, agg.Uncounted())
	assert.Equal(t, "drop import", agg.BySignature["ruff:F401"].SuggestedFix)

	unknown := d.Patterns["unknown"]
	require.NotNil(t, unknown)
	assert.Contains(t, unknown.BySignature, "unknown")
	assertConsistent(t, d)
}

func TestAddObservationKeepsLatestNonEmpty(t *testing.T) {
	d := NewDocument(time.Now())
	d.AddObservation(Observation{Type: "t", Signature: "s", SuggestedFix: "first", VerifyCmd: []string{"a"}, Meta: map[string]any{"k": 1}})
	d.AddObservation(Observation{Type: "t", Signature: "s"})
	b := d.Patterns["t"].BySignature["s"]
	assert.Equal(t, "first", b.SuggestedFix)
	assert.Equal(t, []string{"a"}, b.VerifyCmd)
	assert.Equal(t, map[string]any{"k": 1}, b.Meta)

	d.AddObservation(Observation{Type: "t", Signature: "s", SuggestedFix: "second"})
	assert.Equal(t, "second", b.SuggestedFix)
}

func TestExampleRingDropsOldest(t *testing.T) {
	d := NewDocument(time.Now())
	for i := 0; i < ExampleLimit+3; i++ {
		d.AddObservation(Observation{Type: "t", Signature: "s", Example: i, Outcome: Failure})
	}
	b := d.Patterns["t"].BySignature["s"]
	require.Len(t, b.Examples, ExampleLimit)
	assert.Equal(t, 3, b.Examples[0].Example)
	assert.Equal(t, ExampleLimit+2, b.Examples[ExampleLimit-1].Example)
	assert.Equal(t, ExampleLimit+3, b.Count)
}

func TestStoreAddPersists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, Observation{Type: "quality_gate_pass", Signature: "quality_gate:all_checks_passed", Outcome: Success}))
	require.NoError(t, s.Add(ctx, Observation{Type: "quality_gate_pass", Signature: "quality_gate:all_checks_passed", Outcome: Success}))

	d, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, d.Patterns["quality_gate_pass"].SuccessCount)
	assertConsistent(t, d)
}

func TestLoadMigratesLegacyOnce(t *testing.T) {
	s := newTestStore(t)
	legacy := `{
  "version": "3.0",
  "patterns": {
    "tool_errors": [
      {"error": "boom", "outcome": "FAILURE", "timestamp": "2024-01-02T03:04:05Z"},
      {"command": "ls", "outcome": "success"},
      {"pattern_type": "odd"},
      {"signature": "boom", "outcome": "failure", "suggested_fix": "retry"},
      "not-an-object"
    ],
    "single": {"outcome": "success", "note": "bare"}
  }
}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(legacy), 0o644))

	d, err := s.Load(context.Background())
	require.NoError(t, err)
	assertConsistent(t, d)

	te := d.Patterns["tool_errors"]
	require.NotNil(t, te)
	assert.Equal(t, 4, te.TotalCount)
	assert.Equal(t, 2, te.BySignature["boom"].Count)
	assert.Equal(t, 2, te.BySignature["boom"].FailureCount)
	assert.Equal(t, "retry", te.BySignature["boom"].SuggestedFix)
	assert.Equal(t, 1, te.BySignature["ls"].SuccessCount)
	assert.Equal(t, 1, te.BySignature["odd"].Count)
	assert.Equal(t, 1, d.Patterns["single"].BySignature["single"].SuccessCount)

	// The migrated form is on disk, so a second load is a plain read.
	raw, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	again, migrated, err := Migrate(raw, time.Now())
	require.NoError(t, err)
	assert.False(t, migrated)
	if diff := cmp.Diff(d.Top("", 0), again.Top("", 0)); diff != "" {
		t.Errorf("second load differs (-first +second):\n%s", diff)
	}
}

func TestMigrateKeepsNestedTypesInMixedDocument(t *testing.T) {
	raw := `{"patterns": {
  "fix_task_completed": {"total_count": 1, "success_count": 1, "failure_count": 0,
    "by_signature": {"ruff:F401": {"count": 1, "success_count": 1, "failure_count": 0, "examples": []}}},
  "old": [{"signature": "x"}]
}}`
	d, migrated, err := Migrate([]byte(raw), time.Now())
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Equal(t, 1, d.Patterns["fix_task_completed"].BySignature["ruff:F401"].SuccessCount)
	assert.Equal(t, 1, d.Patterns["old"].TotalCount)
	assertConsistent(t, d)
}

func TestCorruptDocumentResets(t *testing.T) {
	for name, body := range map[string]string{
		"not json":       `{"patterns": [`,
		"patterns array": `{"patterns": [1, 2]}`,
		"patterns str":   `{"patterns": "nope"}`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			require.NoError(t, os.WriteFile(s.Path(), []byte(body), 0o644))

			d, err := s.Load(context.Background())
			require.NoError(t, err)
			assert.Empty(t, d.Patterns)

			require.NoError(t, s.Add(context.Background(), Observation{Type: "t", Signature: "s", Outcome: Failure}))
			d, err = s.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, d.Patterns["t"].TotalCount)
		})
	}
}

func TestNullSignatureBucketIsDropped(t *testing.T) {
	s := newTestStore(t)
	body := `{"patterns": {"quality_gate_fail": {"total_count": 3, "success_count": 1,
		"by_signature": {"py_compileall:fail": null, "ruff:F401": {"count": 2, "success_count": 1}}}}}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(body), 0o644))

	d, err := s.Load(context.Background())
	require.NoError(t, err)
	agg := d.Patterns["quality_gate_fail"]
	require.NotNil(t, agg)
	assert.NotContains(t, agg.BySignature, "py_compileall:fail")
	assert.Equal(t, 2, agg.TotalCount)
	assertConsistent(t, d)

	require.NoError(t, s.Add(context.Background(), Observation{
		Type: "quality_gate_fail", Signature: "py_compileall:fail", Outcome: Failure,
	}))
	d, err = s.Load(context.Background())
	require.NoError(t, err)
	agg = d.Patterns["quality_gate_fail"]
	assert.Equal(t, 1, agg.BySignature["py_compileall:fail"].Count)
	assert.Equal(t, 3, agg.TotalCount)
	assertConsistent(t, d)
	assert.Len(t, d.Top("quality_gate_fail", 0), 2)
}

func TestTopOrdering(t *testing.T) {
	d := NewDocument(time.Now())
	for i := 0; i < 3; i++ {
		d.AddObservation(Observation{Type: "a", Signature: "most"})
	}
	d.AddObservation(Observation{Type: "b", Signature: "least"})
	d.AddObservation(Observation{Type: "a", Signature: "mid"})
	d.AddObservation(Observation{Type: "a", Signature: "mid"})

	top := d.Top("", 2)
	require.Len(t, top, 2)
	assert.Equal(t, "most", top[0].Signature)
	assert.Equal(t, "mid", top[1].Signature)

	onlyB := d.Top("b", 0)
	require.Len(t, onlyB, 1)
	assert.Equal(t, "least", onlyB[0].Signature)
	assert.Equal(t, 6, d.TotalObservations())
}
