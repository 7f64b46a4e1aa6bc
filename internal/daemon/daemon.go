package daemon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"upright/internal/config"
	"upright/internal/decider"
	"upright/internal/fileutil"
	"upright/internal/ingest"
	"upright/internal/ledger"
	"upright/internal/logging"
	"upright/internal/pipeline"
	"upright/internal/rotator"
	"upright/internal/stability"
)

// Daemon runs the pipeline for one input root and enforces single-instance
// execution per root.
type Daemon struct {
	cfg     *config.Config
	base    *slog.Logger
	logger  *slog.Logger
	journal *ledger.Journal

	ledger      *ledger.Ledger
	coordinator *pipeline.Coordinator

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	watcher *ingest.Watcher
	watchWG sync.WaitGroup
	started time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	InputDir     string
	OutputDir    string
	Started      time.Time
	QueueDepth   int
	Outstanding  int
	Watched      int
	Stats        pipeline.Stats
	Ledger       map[ledger.State]int
	LockFilePath string
	JournalPath  string
}

// LockPath returns the lock file guarding cfg's input root.
func LockPath(cfg *config.Config) string {
	sum := sha256.Sum256([]byte(filepath.Clean(cfg.Paths.InputDir)))
	return filepath.Join(cfg.Paths.StateDir, "upright-"+hex.EncodeToString(sum[:6])+".lock")
}

// New constructs a daemon. journal may be nil when journaling is disabled.
func New(cfg *config.Config, dec decider.Decider, journal *ledger.Journal, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || dec == nil {
		return nil, errors.New("daemon requires config and decider")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	ledgerOpts := []ledger.Option{ledger.WithLogger(logger)}
	if journal != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithRecorder(journal))
	}
	l := ledger.New(ledgerOpts...)

	detector := stability.New(stability.Options{
		Interval: cfg.StabilityInterval(),
		Samples:  cfg.Pipeline.StabilitySamples,
		MaxWait:  cfg.StabilityMaxWait(),
	})
	coordinator, err := pipeline.New(pipeline.OptionsFromConfig(cfg), pipeline.Deps{
		Ledger:     l,
		Stabilizer: detector,
		Decider:    dec,
		Writer:     rotator.New(rotator.OptionsFromConfig(cfg), logger),
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create pipeline: %w", err)
	}

	lockPath := LockPath(cfg)
	return &Daemon{
		cfg:         cfg,
		base:        logger,
		logger:      logging.NewComponentLogger(logger, "daemon"),
		journal:     journal,
		ledger:      l,
		coordinator: coordinator,
		lockPath:    lockPath,
		lock:        flock.New(lockPath),
	}, nil
}

// Start acquires the lock, prepares the output tree, and begins watching and
// processing. It returns once the initial sweep has been queued.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.acquire(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.coordinator.Start(runCtx); err != nil {
		cancel()
		d.release()
		return fmt.Errorf("start pipeline: %w", err)
	}

	watcher, err := ingest.NewWatcher(d.cfg.Paths.InputDir, d.coordinator.Submit, d.base)
	if err != nil {
		cancel()
		d.coordinator.Stop()
		d.release()
		return fmt.Errorf("watch input: %w", err)
	}
	d.watcher = watcher
	d.watchWG.Add(1)
	go func() {
		defer d.watchWG.Done()
		if err := watcher.Run(runCtx); err != nil {
			logging.ErrorWithContext(d.logger, "watcher stopped", "watcher_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "restart upright; new files will not be noticed until then"),
			)
		}
	}()

	queued, err := ingest.Sweep(runCtx, d.cfg.Paths.InputDir, ingest.KindSweep, d.coordinator.Submit)
	if err != nil {
		cancel()
		d.watchWG.Wait()
		d.coordinator.Stop()
		d.release()
		return fmt.Errorf("initial sweep: %w", err)
	}

	d.cancel = cancel
	d.started = time.Now()
	d.running.Store(true)
	d.logger.Info("upright daemon started",
		logging.String("input_dir", d.cfg.Paths.InputDir),
		logging.String("output_dir", d.cfg.Paths.OutputDir),
		logging.Int("swept", queued),
		logging.Int("watched_dirs", len(watcher.WatchList())),
		logging.String("lock", d.lockPath),
	)
	return nil
}

// RunOnce sweeps the input root, drains every resulting item, and returns
// the run's counters. No watcher is installed.
func (d *Daemon) RunOnce(ctx context.Context) (pipeline.Stats, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return pipeline.Stats{}, errors.New("daemon already running")
	}
	if err := d.acquire(ctx); err != nil {
		return pipeline.Stats{}, err
	}
	defer d.release()

	queued, err := ingest.Sweep(ctx, d.cfg.Paths.InputDir, ingest.KindSweep, d.coordinator.Submit)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("sweep: %w", err)
	}
	d.logger.Info("one-shot run started", logging.Int("swept", queued))

	if err := d.coordinator.Start(ctx); err != nil {
		return pipeline.Stats{}, fmt.Errorf("start pipeline: %w", err)
	}
	waitErr := d.coordinator.WaitIdle(ctx)
	d.coordinator.Stop()
	stats := d.coordinator.Stats()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return stats, waitErr
	}
	return stats, nil
}

// Stop halts the watcher, lets in-flight items finish within the shutdown
// grace, and releases the lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.watchWG.Wait()
	d.watcher = nil
	d.coordinator.Stop()
	d.release()
	d.running.Store(false)

	stats := d.coordinator.Stats()
	d.logger.Info("upright daemon stopped",
		logging.Int64("completed", stats.Completed),
		logging.Int64("failed", stats.Failed),
		logging.Int64("vanished", stats.Vanished),
		logging.Duration("uptime", time.Since(d.started)),
	)
}

// Close stops the daemon and closes the journal.
func (d *Daemon) Close() error {
	d.Stop()
	if d.journal != nil {
		return d.journal.Close()
	}
	return nil
}

// Ledger exposes the in-memory ledger for status and tests.
func (d *Daemon) Ledger() *ledger.Ledger {
	return d.ledger
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	watched := 0
	if d.watcher != nil {
		watched = len(d.watcher.WatchList())
	}
	started := d.started
	d.mu.Unlock()

	status := Status{
		Running:      d.running.Load(),
		InputDir:     d.cfg.Paths.InputDir,
		OutputDir:    d.cfg.Paths.OutputDir,
		Started:      started,
		QueueDepth:   d.coordinator.QueueDepth(),
		Outstanding:  d.coordinator.Pending(),
		Watched:      watched,
		Stats:        d.coordinator.Stats(),
		Ledger:       d.ledger.Counts(),
		LockFilePath: d.lockPath,
	}
	if d.journal != nil {
		status.JournalPath = d.journal.Path()
	}
	return status
}

// acquire takes the per-root lock, removes stale temporaries left by an
// interrupted run, and reloads failed paths from the journal.
func (d *Daemon) acquire(ctx context.Context) error {
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another upright instance is already processing %s", d.cfg.Paths.InputDir)
	}

	removed, err := fileutil.RemoveStaleTemps(d.cfg.Paths.OutputDir)
	if err != nil {
		logging.WarnWithContext(d.logger, "stale temp cleanup incomplete", "stale_temp_cleanup",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check permissions on the output directory"),
			logging.String(logging.FieldImpact, "orphaned .upright-*.tmp files may remain"),
		)
	}
	if len(removed) > 0 {
		d.logger.Info("removed stale temporary files", logging.Int("count", len(removed)))
	}

	if d.journal != nil {
		failed, err := d.journal.List(ctx, ledger.StateFailed)
		if err != nil {
			_ = d.lock.Unlock()
			return fmt.Errorf("load journal: %w", err)
		}
		if loaded := d.ledger.Preload(failed); loaded > 0 {
			d.logger.Info("failed paths reloaded from journal",
				logging.Int("count", loaded),
				logging.String("journal", d.journal.Path()),
			)
		}
	}
	return nil
}

func (d *Daemon) release() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}
