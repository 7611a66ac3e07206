package config

import (
	"strconv"
	"time"

	"github.com/lucasnoah/nexus/internal/task"
)

// Config is the top-level nexus configuration.
type Config struct {
	StateDir  string          `yaml:"state_dir" mapstructure:"state_dir"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Gate      GateConfig      `yaml:"gate" mapstructure:"gate"`
	Fix       FixConfig       `yaml:"fix" mapstructure:"fix"`
	Task      TaskConfig      `yaml:"task" mapstructure:"task"`
	History   HistoryConfig   `yaml:"history" mapstructure:"history"`
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	File  string `yaml:"file" mapstructure:"file"`
}

// GateConfig tunes the quality gate.
type GateConfig struct {
	DiffLimit     int      `yaml:"diff_limit" mapstructure:"diff_limit"`
	CheckTimeout  string   `yaml:"check_timeout" mapstructure:"check_timeout"`
	TestTimeout   string   `yaml:"test_timeout" mapstructure:"test_timeout"`
	Disable       []string `yaml:"disable" mapstructure:"disable"`
	Ignore        []string `yaml:"ignore" mapstructure:"ignore"`
	KeepSnapshots int      `yaml:"keep_snapshots" mapstructure:"keep_snapshots"`
}

// FixConfig tunes fix verification.
type FixConfig struct {
	VerifyTimeout string `yaml:"verify_timeout" mapstructure:"verify_timeout"`
	OutputTail    int    `yaml:"output_tail" mapstructure:"output_tail"`
}

// TaskConfig holds task lifecycle settings.
type TaskConfig struct {
	AutoClose AutoCloseConfig `yaml:"auto_close" mapstructure:"auto_close"`
}

// AutoCloseConfig is the file form of task.AutoClosePolicy.
type AutoCloseConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	MinPasses int    `yaml:"min_passes" mapstructure:"min_passes"`
	Cooldown  string `yaml:"cooldown" mapstructure:"cooldown"`
}

// HistoryConfig toggles the SQLite ledger.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// TelemetryConfig toggles the stdout OpenTelemetry exporters.
type TelemetryConfig struct {
	Stdout bool `yaml:"stdout" mapstructure:"stdout"`
}

// Policy converts the file form, falling back to the defaults for
// unparseable values.
func (a AutoCloseConfig) Policy() task.AutoClosePolicy {
	p := task.DefaultAutoClose()
	p.Enabled = a.Enabled
	if a.MinPasses > 0 {
		p.MinPasses = a.MinPasses
	}
	if d, err := ParseDuration(a.Cooldown); err == nil {
		p.Cooldown = d
	}
	return p
}

// ParseDuration accepts Go durations and bare seconds.
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

// Duration parses s, returning def when it is empty or invalid.
func Duration(s string, def time.Duration) time.Duration {
	if d, err := ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}
