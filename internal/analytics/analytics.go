// Package analytics aggregates the history ledger into check statistics.
package analytics

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DB is the interface for database queries used by analytics.
type DB interface {
	Conn() *sql.DB
}

// sqliteTimestamp is the layout of datetime('now').
const sqliteTimestamp = "2006-01-02 15:04:05"

// timestamp formats to try when parsing --since values
var timestampFormats = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseSince turns a --since value into a ledger timestamp. It accepts a
// relative age ("24h", "7d") or an absolute date or time. Empty stays empty.
func ParseSince(s string, now time.Time) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if strings.HasSuffix(s, "d") {
		if days, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
			return now.UTC().AddDate(0, 0, -days).Format(sqliteTimestamp), nil
		}
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.UTC().Add(-d).Format(sqliteTimestamp), nil
	}
	for _, f := range timestampFormats {
		if t, err := time.Parse(f, s); err == nil {
			return t.Format(sqliteTimestamp), nil
		}
	}
	return "", fmt.Errorf("unrecognized --since value: %q", s)
}

// CheckFailure holds failure stats for a specific check.
type CheckFailure struct {
	Check         string  `json:"check"`
	Total         int     `json:"total"`
	Failed        int     `json:"failed"`
	FailRate      float64 `json:"fail_rate_pct"`
	TopSignatures string  `json:"top_signatures"`
}

// QueryCheckFailures returns which checks fail most and their most common
// failure signatures.
func QueryCheckFailures(database DB, since string) ([]CheckFailure, error) {
	query := `
		SELECT check_name,
			COUNT(*) as total,
			SUM(CASE WHEN passed = 0 THEN 1 ELSE 0 END) as failed
		FROM check_runs
		WHERE 1 = 1`

	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	query += ` GROUP BY check_name ORDER BY failed DESC, check_name`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query check failures: %w", err)
	}
	defer rows.Close()

	var results []CheckFailure
	for rows.Next() {
		var checkName string
		var total, failed int
		if err := rows.Scan(&checkName, &total, &failed); err != nil {
			return nil, fmt.Errorf("scan check failure: %w", err)
		}
		results = append(results, CheckFailure{
			Check:    checkName,
			Total:    total,
			Failed:   failed,
			FailRate: pct(failed, total),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Most common failure signatures per check
	for i := range results {
		sigQuery := `
			SELECT signature, COUNT(*) as cnt
			FROM check_runs
			WHERE check_name = ? AND passed = 0 AND signature != ''`
		sArgs := []interface{}{results[i].Check}
		if since != "" {
			sigQuery += ` AND timestamp >= ?`
			sArgs = append(sArgs, since)
		}
		sigQuery += ` GROUP BY signature ORDER BY cnt DESC, signature LIMIT 2`

		sRows, err := database.Conn().Query(sigQuery, sArgs...)
		if err != nil {
			continue
		}
		var sigs []string
		for sRows.Next() {
			var sig string
			var cnt int
			if err := sRows.Scan(&sig, &cnt); err != nil {
				break
			}
			sigs = append(sigs, sig)
		}
		_ = sRows.Err()
		sRows.Close()
		results[i].TopSignatures = strings.Join(sigs, ", ")
	}

	return results, nil
}

// CheckDuration holds duration stats for a check, in milliseconds.
type CheckDuration struct {
	Check string  `json:"check"`
	Count int     `json:"count"`
	Avg   float64 `json:"avg_ms"`
	P50   float64 `json:"p50_ms"`
	P95   float64 `json:"p95_ms"`
}

// QueryCheckDurations returns average and percentile durations per check.
func QueryCheckDurations(database DB, since string) ([]CheckDuration, error) {
	query := `SELECT check_name, duration_ms FROM check_runs WHERE duration_ms IS NOT NULL`
	args := []interface{}{}
	if since != "" {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query check durations: %w", err)
	}
	defer rows.Close()

	durations := make(map[string][]float64)
	for rows.Next() {
		var check string
		var ms int
		if err := rows.Scan(&check, &ms); err != nil {
			return nil, fmt.Errorf("scan check duration: %w", err)
		}
		durations[check] = append(durations[check], float64(ms))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var results []CheckDuration
	for check, ds := range durations {
		sort.Float64s(ds)
		results = append(results, CheckDuration{
			Check: check,
			Count: len(ds),
			Avg:   avg(ds),
			P50:   percentile(ds, 50),
			P95:   percentile(ds, 95),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Check < results[j].Check
	})
	return results, nil
}

// GateThroughput holds gate run counts per day.
type GateThroughput struct {
	Date     string  `json:"date"`
	Runs     int     `json:"runs"`
	Passed   int     `json:"passed"`
	PassRate float64 `json:"pass_rate_pct"`
}

// QueryGateThroughput returns gate runs per day. A run passes when every
// check recorded under its run id passed.
func QueryGateThroughput(database DB, since string) ([]GateThroughput, error) {
	query := `
		SELECT day, COUNT(*) as runs, SUM(all_passed) as passed
		FROM (
			SELECT run_id, date(MIN(timestamp)) as day, MIN(CAST(passed AS INTEGER)) as all_passed
			FROM check_runs`
	args := []interface{}{}
	if since != "" {
		query += ` WHERE timestamp >= ?`
		args = append(args, since)
	}
	query += `
			GROUP BY run_id
		) sub
		GROUP BY day
		ORDER BY day`

	rows, err := database.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query gate throughput: %w", err)
	}
	defer rows.Close()

	var results []GateThroughput
	for rows.Next() {
		var g GateThroughput
		if err := rows.Scan(&g.Date, &g.Runs, &g.Passed); err != nil {
			return nil, fmt.Errorf("scan gate throughput: %w", err)
		}
		g.PassRate = pct(g.Passed, g.Runs)
		results = append(results, g)
	}
	return results, rows.Err()
}

// --- helpers ---

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return math.Round(sum/float64(len(values))*10) / 10
}

func percentile(sorted []float64, p int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := float64(p) / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper || upper >= len(sorted) {
		return math.Round(sorted[lower]*10) / 10
	}
	weight := rank - float64(lower)
	return math.Round((sorted[lower]*(1-weight)+sorted[upper]*weight)*10) / 10
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
