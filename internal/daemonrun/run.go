package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"

	"upright/internal/config"
	"upright/internal/daemon"
	"upright/internal/decider"
	"upright/internal/ledger"
	"upright/internal/logging"
	"upright/internal/pipeline"
	"upright/internal/preflight"
	"upright/internal/services"
)

// Options configures process runtime behavior.
type Options struct {
	LogLevel string
	// Once drains the initial sweep and exits instead of watching.
	Once bool
}

// Run starts the upright runtime loop. It returns when a signal arrives, or
// when the tree has been drained in Once mode, along with the run's counters.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) (pipeline.Stats, error) {
	if cfg == nil {
		return pipeline.Stats{}, fmt.Errorf("config is required")
	}
	if err := cfg.ValidateRun(); err != nil {
		return pipeline.Stats{}, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return pipeline.Stats{}, err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stamp := time.Now().UTC().Format("20060102T150405.000Z")
	logPath := filepath.Join(cfg.Paths.LogDir, fmt.Sprintf("upright-%s.log", stamp))
	logger, err := logging.NewFromConfig(cfg, opts.LogLevel, uuid.NewString(), logPath)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.LogPath(), logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update upright.log link: %v\n", err)
	}
	logging.PruneRunLogs(logger, cfg.Paths.LogDir, cfg.Logging.RetentionDays, logPath)

	dec, err := decider.New(cfg.Decider, logger)
	if err != nil {
		return pipeline.Stats{}, err
	}
	logConfigSnapshot(logger, cfg, opts)
	if err := runPreflight(signalCtx, logger, cfg, dec); err != nil {
		return pipeline.Stats{}, err
	}

	var journal *ledger.Journal
	if cfg.Journal.Enabled {
		journal, err = ledger.OpenJournal(cfg.JournalPath())
		if err != nil {
			logger.Error("open journal", logging.Error(err), logging.String("journal", cfg.JournalPath()))
			return pipeline.Stats{}, err
		}
	}

	d, err := daemon.New(cfg, dec, journal, logger)
	if err != nil {
		if journal != nil {
			_ = journal.Close()
		}
		return pipeline.Stats{}, fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if opts.Once {
		stats, err := d.RunOnce(signalCtx)
		logRunSummary(logger, stats)
		return stats, err
	}

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that no other upright process owns this input directory"),
		)
		return pipeline.Stats{}, err
	}

	<-signalCtx.Done()
	logger.Info("upright shutting down", logging.Duration("grace", cfg.ShutdownGrace()))
	d.Stop()
	stats := d.Status().Stats
	logRunSummary(logger, stats)
	return stats, nil
}

// runPreflight fails the run when any directory or decider check fails.
func runPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config, dec decider.Decider) error {
	results := preflight.RunAll(ctx, cfg, dec)
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
			continue
		}
		logging.ErrorWithContext(logger, "preflight failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldErrorHint, "run upright check for details"),
		)
	}
	if failed := preflight.Failed(results); len(failed) > 0 {
		return services.Wrap(services.ErrConfiguration, "preflight", failed[0].Name, failed[0].Detail, nil)
	}
	return nil
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config, opts Options) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("input_dir", cfg.Paths.InputDir),
		logging.String("output_dir", cfg.Paths.OutputDir),
		logging.String("disposition", cfg.Pipeline.SourceDisposition),
		logging.Int("workers", cfg.Pipeline.Workers),
		logging.String("decider", cfg.Decider.Kind),
		logging.Bool("invert", cfg.Decider.Invert),
		logging.Bool("journal", cfg.Journal.Enabled),
		logging.Bool("overwrite_existing", cfg.Pipeline.OverwriteExisting),
		logging.Bool("once", opts.Once),
	)
}

func logRunSummary(logger *slog.Logger, stats pipeline.Stats) {
	logger.Info("run summary",
		logging.String(logging.FieldEventType, "run_summary"),
		logging.Int64("discovered", stats.Discovered),
		logging.Int64("completed", stats.Completed),
		logging.Int64("failed", stats.Failed),
		logging.Int64("vanished", stats.Vanished),
		logging.Int64("retried", stats.Retried),
		logging.Int64("interrupted", stats.Interrupted),
	)
}

func ensureCurrentLogPointer(current, target string) error {
	if current == "" || target == "" {
		return nil
	}
	if err := os.Remove(current); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}
