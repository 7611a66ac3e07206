package patterns

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// AddObservation folds obs into the document in memory.
func (d *Document) AddObservation(obs Observation) {
	typ := normalize(obs.Type)
	sig := normalize(obs.Signature)
	ts := obs.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	if d.Patterns == nil {
		d.Patterns = make(map[string]*Aggregate)
	}
	agg, ok := d.Patterns[typ]
	if !ok {
		agg = &Aggregate{BySignature: make(map[string]*Signature)}
		d.Patterns[typ] = agg
	}
	if agg.BySignature == nil {
		agg.BySignature = make(map[string]*Signature)
	}
	bucket, ok := agg.BySignature[sig]
	if !ok {
		bucket = &Signature{Examples: []Example{}, VerifyCmd: []string{}, Meta: map[string]any{}}
		agg.BySignature[sig] = bucket
	}

	outcome := obs.Outcome
	if outcome == "" {
		outcome = Unknown
	}

	agg.TotalCount++
	agg.LastSeen = ts
	bucket.Count++
	bucket.LastSeen = ts
	switch outcome {
	case Success:
		agg.SuccessCount++
		bucket.SuccessCount++
	case Failure:
		agg.FailureCount++
		bucket.FailureCount++
	}

	if obs.SuggestedFix != "" {
		bucket.SuggestedFix = obs.SuggestedFix
	}
	if len(obs.VerifyCmd) > 0 {
		bucket.VerifyCmd = append([]string(nil), obs.VerifyCmd...)
	}
	if len(obs.Meta) > 0 {
		bucket.Meta = obs.Meta
	}

	bucket.Examples = append(bucket.Examples, Example{Timestamp: ts, Outcome: outcome, Example: obs.Example})
	if n := len(bucket.Examples); n > ExampleLimit {
		bucket.Examples = append([]Example(nil), bucket.Examples[n-ExampleLimit:]...)
	}

	if ts.After(d.LastUpdated) {
		d.LastUpdated = ts
	}
}

func normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return s
}

// Uncounted returns the observations of agg with an unrecognized outcome.
func (a *Aggregate) Uncounted() int {
	return a.TotalCount - a.SuccessCount - a.FailureCount
}

// Ranked is a flattened (type, signature) row.
type Ranked struct {
	Type         string    `json:"type"`
	Signature    string    `json:"signature"`
	Count        int       `json:"count"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	LastSeen     time.Time `json:"last_seen"`
	SuggestedFix string    `json:"suggested_fix,omitempty"`
}

// Top returns up to limit signatures ordered by count, most recent first on
// ties. typ restricts the result to one pattern type when non-empty.
func (d *Document) Top(typ string, limit int) []Ranked {
	var rows []Ranked
	for t, agg := range d.Patterns {
		if typ != "" && t != typ {
			continue
		}
		for sig, b := range agg.BySignature {
			rows = append(rows, Ranked{
				Type:         t,
				Signature:    sig,
				Count:        b.Count,
				SuccessCount: b.SuccessCount,
				FailureCount: b.FailureCount,
				LastSeen:     b.LastSeen,
				SuggestedFix: b.SuggestedFix,
			})
		}
	}
	sortRanked(rows)
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// TotalObservations sums every signature count.
func (d *Document) TotalObservations() int {
	total := 0
	for _, agg := range d.Patterns {
		for _, b := range agg.BySignature {
			total += b.Count
		}
	}
	return total
}

func sortRanked(rows []Ranked) {
	slices.SortFunc(rows, func(a, b Ranked) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := b.LastSeen.Compare(a.LastSeen); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Type, b.Type); c != 0 {
			return c
		}
		return cmp.Compare(a.Signature, b.Signature)
	})
}
