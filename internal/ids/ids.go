// Package ids generates the time-ordered identifiers used for incidents,
// fix tasks, units of work and snapshots.
package ids

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const stampLayout = "20060102150405"

// New returns "<prefix>_<UTC yyyymmddHHMMSS>_<6 hex>".
func New(prefix string, now time.Time) string {
	return prefix + "_" + now.UTC().Format(stampLayout) + "_" + Suffix()
}

// Suffix returns six random lowercase hex characters.
func Suffix() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
}
