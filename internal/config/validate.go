package config

import (
	"fmt"

	"github.com/lucasnoah/nexus/internal/checks"
	"github.com/lucasnoah/nexus/internal/logging"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for semantic errors. It returns every issue
// found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.StateDir == "" {
		errs = append(errs, ValidationError{Field: "state_dir", Message: "is required"})
	}
	if _, err := logging.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, ValidationError{Field: "log.level", Message: err.Error()})
	}

	if cfg.Gate.DiffLimit <= 0 {
		errs = append(errs, ValidationError{Field: "gate.diff_limit", Message: "must be positive"})
	}
	if cfg.Gate.KeepSnapshots < 0 {
		errs = append(errs, ValidationError{Field: "gate.keep_snapshots", Message: "must not be negative"})
	}
	for i, name := range cfg.Gate.Disable {
		if !checks.Kind(name).Valid() {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("gate.disable[%d]", i),
				Message: fmt.Sprintf("unknown check %q", name),
			})
		}
	}

	for _, d := range []struct {
		field string
		value string
	}{
		{"gate.check_timeout", cfg.Gate.CheckTimeout},
		{"gate.test_timeout", cfg.Gate.TestTimeout},
		{"fix.verify_timeout", cfg.Fix.VerifyTimeout},
		{"task.auto_close.cooldown", cfg.Task.AutoClose.Cooldown},
	} {
		parsed, err := ParseDuration(d.value)
		if err != nil || parsed < 0 {
			errs = append(errs, ValidationError{Field: d.field, Message: fmt.Sprintf("invalid duration %q", d.value)})
		}
	}

	if cfg.Fix.OutputTail <= 0 {
		errs = append(errs, ValidationError{Field: "fix.output_tail", Message: "must be positive"})
	}
	if cfg.Task.AutoClose.MinPasses < 1 {
		errs = append(errs, ValidationError{Field: "task.auto_close.min_passes", Message: "must be at least 1"})
	}
	return errs
}
