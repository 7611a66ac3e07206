package ids

import (
	"regexp"
	"testing"
	"time"
)

var idPattern = regexp.MustCompile(`^inc_20240102030405_[0-9a-f]{6}$`)

func TestNewFormat(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	id := New("inc", now)
	if !idPattern.MatchString(id) {
		t.Errorf("unexpected id %q", id)
	}
}

func TestNewUnique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := New("fix", now)
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
