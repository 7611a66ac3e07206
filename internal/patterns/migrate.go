package patterns

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrCorrupt marks a pattern document that cannot be interpreted at all.
var ErrCorrupt = errors.New("pattern store corrupt")

// Migrate interprets raw as a pattern document. Documents in the current
// nested schema are returned unchanged with migrated=false. Documents whose
// types hold the legacy flat list (or a single bare object) are rebuilt by
// replaying every legacy entry through AddObservation. An error wrapping
// ErrCorrupt is returned alongside an empty document when raw is unusable.
func Migrate(raw []byte, now time.Time) (doc *Document, migrated bool, err error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return NewDocument(now), false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	var types map[string]json.RawMessage
	if p, ok := top["patterns"]; ok && !isNull(p) {
		if err := json.Unmarshal(p, &types); err != nil {
			return NewDocument(now), false, fmt.Errorf("%w: patterns is not an object", ErrCorrupt)
		}
	} else {
		return NewDocument(now), true, nil
	}

	if allNested(types) {
		var d Document
		if err := json.Unmarshal(raw, &d); err != nil {
			return NewDocument(now), false, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		fillDefaults(&d, now)
		return &d, false, nil
	}

	d := NewDocument(now)
	var created time.Time
	if c, ok := top["created"]; ok && json.Unmarshal(c, &created) == nil && !created.IsZero() {
		d.Created = created
	}

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		value := types[name]
		if isNested(value) {
			var agg Aggregate
			if err := json.Unmarshal(value, &agg); err == nil {
				d.Patterns[name] = &agg
				continue
			}
		}

		var list []json.RawMessage
		if err := json.Unmarshal(value, &list); err == nil {
			for _, item := range list {
				var entry map[string]any
				if json.Unmarshal(item, &entry) != nil || entry == nil {
					continue
				}
				d.AddObservation(legacyObservation(name, entry, false))
			}
			continue
		}

		var entry map[string]any
		if err := json.Unmarshal(value, &entry); err == nil && entry != nil {
			d.AddObservation(legacyObservation(name, entry, true))
		}
	}
	fillDefaults(d, now)
	return d, true, nil
}

// legacyObservation maps one legacy entry onto an Observation. Single bare
// objects are keyed by their type name.
func legacyObservation(typ string, entry map[string]any, bare bool) Observation {
	sig := typ
	if !bare {
		sig = firstString(entry, "signature", "error", "command", "type", "pattern_type")
		if sig == "" {
			sig = typ
		}
	}
	sig = strings.ReplaceAll(strings.TrimSpace(sig), "\n", " ")

	obs := Observation{
		Type:      typ,
		Signature: sig,
		Example:   entry,
		Outcome:   Outcome(strings.ToLower(stringField(entry, "outcome"))),
	}
	obs.SuggestedFix = stringField(entry, "suggested_fix")
	if cmd, ok := entry["verify_cmd"].([]any); ok {
		for _, c := range cmd {
			if s, ok := c.(string); ok {
				obs.VerifyCmd = append(obs.VerifyCmd, s)
			}
		}
	}
	if meta, ok := entry["meta"].(map[string]any); ok {
		obs.Meta = meta
	}
	if ts, err := time.Parse(time.RFC3339, stringField(entry, "timestamp")); err == nil {
		obs.Timestamp = ts
	}
	return obs
}

func firstString(entry map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(entry, k); s != "" {
			return s
		}
	}
	return ""
}

func stringField(entry map[string]any, key string) string {
	switch v := entry[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func allNested(types map[string]json.RawMessage) bool {
	for _, v := range types {
		if !isNested(v) {
			return false
		}
	}
	return true
}

func isNested(v json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(v, &probe); err != nil {
		return false
	}
	_, ok := probe["by_signature"]
	return ok
}

func isNull(v json.RawMessage) bool {
	return strings.TrimSpace(string(v)) == "null"
}

func fillDefaults(d *Document, now time.Time) {
	if d.Version == "" {
		d.Version = SchemaVersion
	}
	if d.Created.IsZero() {
		d.Created = now.UTC()
	}
	if d.Patterns == nil {
		d.Patterns = make(map[string]*Aggregate)
	}
	if d.Insights == nil {
		d.Insights = []any{}
	}
	for typ, agg := range d.Patterns {
		if agg == nil {
			delete(d.Patterns, typ)
			continue
		}
		if agg.BySignature == nil {
			agg.BySignature = make(map[string]*Signature)
		}
		if dropNullSignatures(agg) {
			recount(agg)
		}
	}
}

// dropNullSignatures removes buckets decoded from a JSON null.
func dropNullSignatures(agg *Aggregate) bool {
	dropped := false
	for sig, b := range agg.BySignature {
		if b == nil {
			delete(agg.BySignature, sig)
			dropped = true
		}
	}
	return dropped
}

// recount rebuilds the type totals from the surviving buckets.
func recount(agg *Aggregate) {
	agg.TotalCount, agg.SuccessCount, agg.FailureCount = 0, 0, 0
	for _, b := range agg.BySignature {
		agg.TotalCount += b.Count
		agg.SuccessCount += b.SuccessCount
		agg.FailureCount += b.FailureCount
	}
}
