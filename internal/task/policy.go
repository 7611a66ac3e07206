package task

import (
	"os"
	"strconv"
	"time"
)

// Environment overrides for the auto-close policy.
const (
	EnvAutoClose          = "NEXUS_TASK_AUTO_CLOSE"
	EnvAutoCloseMinPasses = "NEXUS_TASK_AUTO_CLOSE_MIN_PASSES"
	EnvAutoCloseCooldown  = "NEXUS_TASK_AUTO_CLOSE_COOLDOWN"
)

// AutoClosePolicy closes the active task after repeated gate passes.
type AutoClosePolicy struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MinPasses int           `yaml:"min_passes" mapstructure:"min_passes"`
	Cooldown  time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// DefaultAutoClose is disabled, with three passes and a ten minute
// cool-down once enabled.
func DefaultAutoClose() AutoClosePolicy {
	return AutoClosePolicy{MinPasses: 3, Cooldown: 600 * time.Second}
}

// WithEnv applies the NEXUS_TASK_AUTO_CLOSE* variables on top of p.
// Unparseable values are ignored. A bare number of seconds is accepted for
// the cool-down.
func (p AutoClosePolicy) WithEnv() AutoClosePolicy {
	if v, ok := os.LookupEnv(EnvAutoClose); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			p.Enabled = b
		}
	}
	if v := os.Getenv(EnvAutoCloseMinPasses); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			p.MinPasses = n
		}
	}
	if v := os.Getenv(EnvAutoCloseCooldown); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			p.Cooldown = d
		} else if n, err := strconv.Atoi(v); err == nil {
			p.Cooldown = time.Duration(n) * time.Second
		}
	}
	return p
}

// shouldClose reports whether t qualifies for auto-close at now.
func (p AutoClosePolicy) shouldClose(t *Task, now time.Time) bool {
	if !p.Enabled || t.ProgressEvents < p.MinPasses {
		return false
	}
	if t.LastGateFailAt.IsZero() {
		return true
	}
	return now.Sub(t.LastGateFailAt) > p.Cooldown
}
