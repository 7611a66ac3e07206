package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/nexus/internal/checks"
	"github.com/lucasnoah/nexus/internal/config"
	"github.com/lucasnoah/nexus/internal/db"
	"github.com/lucasnoah/nexus/internal/fixqueue"
	"github.com/lucasnoah/nexus/internal/gate"
	"github.com/lucasnoah/nexus/internal/gitutil"
	"github.com/lucasnoah/nexus/internal/heal"
	"github.com/lucasnoah/nexus/internal/incident"
	"github.com/lucasnoah/nexus/internal/logging"
	"github.com/lucasnoah/nexus/internal/metrics"
	"github.com/lucasnoah/nexus/internal/patterns"
	"github.com/lucasnoah/nexus/internal/report"
	"github.com/lucasnoah/nexus/internal/snapshot"
	"github.com/lucasnoah/nexus/internal/task"
	"github.com/lucasnoah/nexus/internal/telemetry"
)

// app holds every store wired against one state directory.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	telemetry *telemetry.Provider
	history   *db.DB

	metrics   *metrics.Store
	patterns  *patterns.Store
	incidents *incident.Store
	fixes     *fixqueue.Queue
	tasks     *task.Manager
	snapshots *snapshot.Manager
	git       *gitutil.Repo
	runner    checks.CommandRunner
}

// newApp loads configuration and opens the stores. The history ledger is
// optional: when it cannot be opened the app runs without it.
func newApp(cmd *cobra.Command) (*app, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
		Stderr: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, nil, err
	}

	ctx := commandContext(cmd)
	tel, err := telemetry.Setup(ctx, cfg.Telemetry.Stdout || telemetry.Enabled(), cmd.ErrOrStderr(), version)
	if err != nil {
		logger.Warn("telemetry setup failed", "error", err)
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel}
	if cfg.History.Enabled {
		a.history = openHistory(cfg.StateDir, logger)
	}

	state := func(name string) string { return filepath.Join(cfg.StateDir, name) }
	git := gitutil.New(&gitutil.ExecRunner{Env: []string{gate.EnvRunning + "=1"}})
	a.git = git
	a.runner = &checks.ExecRunner{Env: []string{gate.EnvRunning + "=1"}}
	a.metrics = metrics.NewStore(state("metrics.json"), logger)
	a.patterns = patterns.NewStore(state("patterns.json"), logger)
	a.incidents = incident.NewStore(state("incidents.jsonl"), a.metrics, logger)
	a.fixes = fixqueue.New(state("fix_queue.jsonl"), a.runner, a.patterns, a.metrics, fixqueue.Options{
		VerifyTimeout: config.Duration(cfg.Fix.VerifyTimeout, checks.DefaultTimeout),
		OutputTail:    cfg.Fix.OutputTail,
		Telemetry:     tel,
		Logger:        logger,
	})
	taskOpts := task.Options{
		AutoClose: cfg.Task.AutoClose.Policy().WithEnv(),
		Logger:    logger,
	}
	if a.history != nil {
		taskOpts.Events = a.history
	}
	a.tasks = task.NewManager(cfg.StateDir, a.metrics, a.fixes, taskOpts)
	a.snapshots = snapshot.NewManager(nil, state("snapshots"), git)

	cleanup := func() {
		shutdownCtx := context.WithoutCancel(ctx)
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
		if a.history != nil {
			_ = a.history.Close()
		}
		_ = logCloser.Close()
	}
	return a, cleanup, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func openHistory(stateDir string, logger *slog.Logger) *db.DB {
	d, err := db.Open(filepath.Join(stateDir, db.FileName))
	if err != nil {
		logger.Warn("history ledger unavailable", "error", err)
		return nil
	}
	if err := d.Migrate(); err != nil {
		logger.Warn("history ledger migration failed", "error", err)
		_ = d.Close()
		return nil
	}
	return d
}

// gate builds the quality gate over the app's stores.
func (a *app) gate() *gate.Gate {
	deps := gate.Deps{
		Runner:    checks.NewRunner(a.runner, a.git),
		Git:       a.git,
		Snapshots: a.snapshots,
		Incidents: a.incidents,
		Fixes:     a.fixes,
		Patterns:  a.patterns,
		Metrics:   a.metrics,
		Tasks:     a.tasks,
		Telemetry: a.telemetry,
		Logger:    a.logger,
	}
	if a.history != nil {
		deps.History = a.history
	}
	g := a.cfg.Gate
	return gate.New(gate.Config{
		DiffLimit:    g.DiffLimit,
		CheckTimeout: config.Duration(g.CheckTimeout, checks.DefaultTimeout),
		TestTimeout:  config.Duration(g.TestTimeout, checks.DefaultTestTimeout),
		Disable:      g.Disable,
		Ignore:       g.Ignore,
		SnapshotKeep: g.KeepSnapshots,
	}, deps)
}

// healer builds the self-heal and auto-learn handler.
func (a *app) healer() *heal.Healer {
	h := &heal.Healer{
		Incidents: a.incidents,
		Fixes:     a.fixes,
		Patterns:  a.patterns,
		Logger:    a.logger,
	}
	if a.history != nil {
		h.Events = a.history
	}
	return h
}

func (a *app) reportSources() report.Sources {
	return report.Sources{
		Metrics:   a.metrics,
		Patterns:  a.patterns,
		Incidents: a.incidents.Path(),
		FixQueue:  a.fixes.Path(),
		TaskLog:   a.tasks.LogPath(),
	}
}
