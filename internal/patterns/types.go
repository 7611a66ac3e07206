// Package patterns aggregates outcome statistics keyed by pattern type and
// failure signature.
package patterns

import "time"

// Outcome of a single observation. Anything other than Success or Failure
// is counted toward the totals only.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
	Unknown Outcome = "unknown"
)

// ExampleLimit is the capacity of each signature's example ring.
const ExampleLimit = 8

// SchemaVersion is written into the pattern document.
const SchemaVersion = "2"

// Example is one retained observation.
type Example struct {
	Timestamp time.Time `json:"timestamp"`
	Outcome   Outcome   `json:"outcome"`
	Example   any       `json:"example"`
}

// Signature holds the statistics for one (type, signature) pair.
type Signature struct {
	Count        int            `json:"count"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	LastSeen     time.Time      `json:"last_seen"`
	Examples     []Example      `json:"examples"`
	SuggestedFix string         `json:"suggested_fix"`
	VerifyCmd    []string       `json:"verify_cmd"`
	Meta         map[string]any `json:"meta"`
}

// Aggregate holds the statistics for one pattern type.
type Aggregate struct {
	TotalCount   int                   `json:"total_count"`
	SuccessCount int                   `json:"success_count"`
	FailureCount int                   `json:"failure_count"`
	LastSeen     time.Time             `json:"last_seen"`
	BySignature  map[string]*Signature `json:"by_signature"`
}

// Document is the persisted pattern store.
type Document struct {
	Version     string                `json:"version"`
	Created     time.Time             `json:"created"`
	LastUpdated time.Time             `json:"last_updated"`
	Patterns    map[string]*Aggregate `json:"patterns"`
	Insights    []any                 `json:"insights"`
}

// Observation is a single input to AddObservation.
type Observation struct {
	Type         string
	Signature    string
	Example      any
	SuggestedFix string
	VerifyCmd    []string
	Outcome      Outcome
	Meta         map[string]any
	Timestamp    time.Time
}

// NewDocument returns an empty, valid store.
func NewDocument(now time.Time) *Document {
	return &Document{
		Version:     SchemaVersion,
		Created:     now.UTC(),
		LastUpdated: now.UTC(),
		Patterns:    make(map[string]*Aggregate),
		Insights:    []any{},
	}
}
