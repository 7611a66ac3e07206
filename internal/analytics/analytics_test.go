package analytics

import (
	"database/sql"
	"testing"
	"time"

	"github.com/lucasnoah/nexus/internal/db"
)

func testDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func exec(t *testing.T, conn *sql.DB, query string, args ...interface{}) {
	t.Helper()
	if _, err := conn.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func insertRun(t *testing.T, c *sql.DB, runID, check string, passed bool, ms int, sig, ts string) {
	t.Helper()
	exec(t, c, `INSERT INTO check_runs (run_id, root, check_name, passed, exit_code, duration_ms, signature, timestamp) VALUES (?, '/p', ?, ?, 0, ?, ?, ?)`,
		runID, check, passed, ms, sig, ts)
}

// --- QueryCheckFailures ---

func TestQueryCheckFailures(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	insertRun(t, c, "r1", "ruff", false, 100, "ruff:F401", "2024-06-01 10:00:00")
	insertRun(t, c, "r2", "ruff", false, 100, "ruff:F401", "2024-06-01 11:00:00")
	insertRun(t, c, "r3", "ruff", false, 100, "ruff:E302", "2024-06-01 12:00:00")
	insertRun(t, c, "r4", "ruff", true, 100, "", "2024-06-01 13:00:00")
	insertRun(t, c, "r4", "pytest", true, 900, "", "2024-06-01 13:00:00")

	results, err := QueryCheckFailures(d, "")
	if err != nil {
		t.Fatalf("QueryCheckFailures: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	ruff := results[0]
	if ruff.Check != "ruff" {
		t.Fatalf("expected ruff first (most failures), got %q", ruff.Check)
	}
	if ruff.Total != 4 || ruff.Failed != 3 {
		t.Errorf("ruff total/failed = %d/%d, want 4/3", ruff.Total, ruff.Failed)
	}
	if ruff.FailRate != 75.0 {
		t.Errorf("ruff fail rate = %.1f, want 75.0", ruff.FailRate)
	}
	if ruff.TopSignatures != "ruff:F401, ruff:E302" {
		t.Errorf("top signatures = %q", ruff.TopSignatures)
	}
	if results[1].FailRate != 0 {
		t.Errorf("pytest fail rate = %.1f, want 0", results[1].FailRate)
	}
}

func TestQueryCheckFailures_Since(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	insertRun(t, c, "r1", "ruff", false, 100, "ruff:F401", "2024-01-01 10:00:00")
	insertRun(t, c, "r2", "ruff", true, 100, "", "2024-06-01 10:00:00")

	results, err := QueryCheckFailures(d, "2024-06-01")
	if err != nil {
		t.Fatalf("QueryCheckFailures: %v", err)
	}
	if len(results) != 1 || results[0].Total != 1 || results[0].Failed != 0 {
		t.Errorf("unexpected results with since filter: %+v", results)
	}
}

// --- QueryCheckDurations ---

func TestQueryCheckDurations(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	for i, ms := range []int{100, 200, 300, 400, 500} {
		insertRun(t, c, "r"+string(rune('a'+i)), "ruff", true, ms, "", "2024-06-01 10:00:00")
	}
	insertRun(t, c, "ra", "pytest", true, 1000, "", "2024-06-01 10:00:00")

	results, err := QueryCheckDurations(d, "")
	if err != nil {
		t.Fatalf("QueryCheckDurations: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Check != "pytest" || results[1].Check != "ruff" {
		t.Errorf("expected alphabetical order, got %s, %s", results[0].Check, results[1].Check)
	}
	ruff := results[1]
	if ruff.Count != 5 || ruff.Avg != 300 || ruff.P50 != 300 || ruff.P95 != 480 {
		t.Errorf("ruff durations = %+v", ruff)
	}
}

func TestQueryCheckDurations_Empty(t *testing.T) {
	d := testDB(t)

	results, err := QueryCheckDurations(d, "")
	if err != nil {
		t.Fatalf("QueryCheckDurations: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("expected 0 results, got %d", len(results))
	}
}

// --- QueryGateThroughput ---

func TestQueryGateThroughput(t *testing.T) {
	d := testDB(t)
	c := d.Conn()

	// Day 1: r1 passes, r2 fails on one of two checks
	insertRun(t, c, "r1", "ruff", true, 10, "", "2024-06-01 10:00:00")
	insertRun(t, c, "r2", "ruff", true, 10, "", "2024-06-01 11:00:00")
	insertRun(t, c, "r2", "pytest", false, 10, "pytest:fail", "2024-06-01 11:00:01")
	// Day 2: r3 passes
	insertRun(t, c, "r3", "ruff", true, 10, "", "2024-06-02 09:00:00")

	results, err := QueryGateThroughput(d, "")
	if err != nil {
		t.Fatalf("QueryGateThroughput: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 days, got %d", len(results))
	}
	if results[0].Date != "2024-06-01" || results[0].Runs != 2 || results[0].Passed != 1 || results[0].PassRate != 50.0 {
		t.Errorf("day 1 = %+v", results[0])
	}
	if results[1].Runs != 1 || results[1].PassRate != 100.0 {
		t.Errorf("day 2 = %+v", results[1])
	}
}

// --- ParseSince ---

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"7d", "2024-06-03 12:00:00", false},
		{"24h", "2024-06-09 12:00:00", false},
		{"2024-06-01", "2024-06-01 00:00:00", false},
		{"2024-06-01T08:30:00Z", "2024-06-01 08:30:00", false},
		{"last tuesday", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSince(tt.in, now)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSince(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSince(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// --- helpers ---

func TestPercentile(t *testing.T) {
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("percentile(nil) = %f, want 0", got)
	}
	if got := percentile([]float64{5}, 95); got != 5 {
		t.Errorf("percentile single = %f, want 5", got)
	}
	if got := percentile([]float64{1, 2, 3, 4}, 50); got != 2.5 {
		t.Errorf("percentile median = %f, want 2.5", got)
	}
}

func TestPct(t *testing.T) {
	if got := pct(1, 3); got != 33.3 {
		t.Errorf("pct(1,3) = %f, want 33.3", got)
	}
	if got := pct(1, 0); got != 0 {
		t.Errorf("pct(1,0) = %f, want 0", got)
	}
}
