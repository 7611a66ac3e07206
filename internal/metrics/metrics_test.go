package metrics

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "metrics.json"), nil)
}

func TestLoadMissingReturnsDefaults(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, m.Version)
	assert.Zero(t, m.Runs)
	assert.Nil(t, m.MeanTimeToVerifyFix)
}

func TestLoadPartialDocumentAppliesDefaults(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"runs": 4}`), 0o644))

	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 4, m.Runs)
	assert.Equal(t, SchemaVersion, m.Version)
	assert.False(t, m.Created.IsZero())
	assert.Zero(t, m.IncidentsOpen)
}

func TestLoadCorruptDocumentFallsBack(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"runs": `), 0o644))

	m, err := s.Load()
	require.NoError(t, err)
	assert.Zero(t, m.Runs)
}

func TestUnknownKeysSurviveRewrite(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.Path(), []byte(`{"runs": 1, "agent_performance": {"a": 1}}`), 0o644))

	_, err := s.Update(context.Background(), func(m *Metrics) { m.Runs++ })
	require.NoError(t, err)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, float64(2), raw["runs"])
	assert.Contains(t, raw, "agent_performance")
}

func TestLoadLegacyCheckPairs(t *testing.T) {
	s := newTestStore(t)
	body := `{"runs": 41, "rollback_count": 7, "incidents_total": 9,
		"last_result": {"passed": true, "checks": [["ruff", true], ["pytest", false]]}}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(body), 0o644))

	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 41, m.Runs)
	assert.Equal(t, 7, m.RollbackCount)
	assert.Equal(t, 9, m.IncidentsTotal)
	require.NotNil(t, m.LastResult)
	assert.Equal(t, []CheckOutcome{{Name: "ruff", OK: true}, {Name: "pytest", OK: false}}, m.LastResult.Checks)
}

func TestMistypedKeyResetsOnlyItself(t *testing.T) {
	s := newTestStore(t)
	body := `{"runs": 41, "rollback_count": "seven", "incidents_total": 9,
		"last_result": {"passed": true, "checks": [["ruff"]]}, "agent_performance": {"a": 1}}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(body), 0o644))

	_, err := s.Update(context.Background(), func(m *Metrics) { m.Runs++ })
	require.NoError(t, err)

	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 42, m.Runs)
	assert.Zero(t, m.RollbackCount)
	assert.Equal(t, 9, m.IncidentsTotal)
	assert.Nil(t, m.LastResult)
	_, ok := m.Extra("agent_performance")
	assert.True(t, ok)
}

func TestLoadRederivesSuccessRate(t *testing.T) {
	s := newTestStore(t)
	body := `{"tasks_completed": 4, "tasks_successful": 3, "success_rate": 0.1}`
	require.NoError(t, os.WriteFile(s.Path(), []byte(body), 0o644))

	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 0.75, m.SuccessRate)
}

func TestRecordGateRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordGateRun(ctx, LastResult{Passed: true, Checks: []CheckOutcome{{Name: "ruff", OK: true}}}, "", false))
	require.NoError(t, s.RecordGateRun(ctx, LastResult{Passed: false}, "pytest", true))

	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, m.Runs)
	assert.Equal(t, 1, m.RollbackCount)
	assert.Equal(t, "pytest", m.LastFailedCheck)
	require.NotNil(t, m.LastResult)
	assert.False(t, m.LastResult.Passed)
	assert.False(t, m.LastRun.IsZero())
}

func TestFixVerificationClosesIncidents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordIncident(ctx))
	require.NoError(t, s.RecordFixVerification(ctx, true, 2))
	require.NoError(t, s.RecordFixVerification(ctx, true, 4))
	require.NoError(t, s.RecordFixVerification(ctx, false, 3))

	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, m.IncidentsTotal)
	assert.Equal(t, 0, m.IncidentsOpen, "open incidents never go negative")
	assert.Equal(t, 2, m.FixesCompleted)
	assert.Equal(t, 1, m.FixesFailed)
	require.NotNil(t, m.MeanTimeToVerifyFix)
	assert.InDelta(t, 3.0, *m.MeanTimeToVerifyFix, 1e-9)
}

func TestRecordTaskClose(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordTaskClose(ctx, true, 10))
	require.NoError(t, s.RecordTaskClose(ctx, false, 20))
	require.NoError(t, s.RecordTaskClose(ctx, true, 0.5))

	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, m.TasksCompleted)
	assert.Equal(t, 2, m.TasksSuccessful)
	assert.Equal(t, 1, m.TasksFailed)
	assert.Equal(t, 0.6667, m.SuccessRate)
	require.NotNil(t, m.MeanTimeToCloseTask)
	assert.Equal(t, 10.1667, *m.MeanTimeToCloseTask)
}

func TestRunningMean(t *testing.T) {
	assert.Equal(t, 5.0, runningMean(nil, 1, 5))
	prev := 5.0
	assert.Equal(t, 6.0, runningMean(&prev, 2, 7))
	assert.Equal(t, 0.3333, round4(1.0/3.0))
}
