package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"upright/internal/config"
	"upright/internal/decider"
	"upright/internal/imagefmt"
	"upright/internal/ingest"
	"upright/internal/ledger"
	"upright/internal/logging"
	"upright/internal/rotator"
	"upright/internal/stability"
)

// Stabilizer waits for a file to stop changing.
type Stabilizer interface {
	Await(ctx context.Context, path string) (stability.Outcome, error)
}

// Writer produces the corrected output and disposes of the source.
type Writer interface {
	Apply(ctx context.Context, req rotator.Request) (rotator.Artifact, error)
}

// Options tunes scheduling.
type Options struct {
	Workers             int
	QueueWarnSize       int
	MaxStabilityRetries int
	MaxDecisionRetries  int
	BackoffBase         time.Duration
	BackoffMax          time.Duration
	// ShutdownGrace bounds how long Stop waits for in-flight items before
	// cancelling them.
	ShutdownGrace time.Duration
}

// OptionsFromConfig derives scheduling options from application config.
func OptionsFromConfig(cfg *config.Config) Options {
	base, maxDelay := cfg.RetryBackoff()
	return Options{
		Workers:             cfg.Pipeline.Workers,
		QueueWarnSize:       cfg.Pipeline.QueueWarnSize,
		MaxStabilityRetries: cfg.Pipeline.MaxStabilityRetries,
		MaxDecisionRetries:  cfg.Pipeline.MaxDecisionRetries,
		BackoffBase:         base,
		BackoffMax:          maxDelay,
		ShutdownGrace:       cfg.ShutdownGrace(),
	}
}

// Deps are the collaborators a Coordinator drives.
type Deps struct {
	Ledger     *ledger.Ledger
	Stabilizer Stabilizer
	Decider    decider.Decider
	Writer     Writer
	Logger     *slog.Logger
}

// Coordinator owns the work queue and the worker pool.
type Coordinator struct {
	opts       Options
	ledger     *ledger.Ledger
	stabilizer Stabilizer
	decider    decider.Decider
	writer     Writer
	logger     *slog.Logger

	queue    *workQueue
	inflight *tracker
	stats    counters

	mu          sync.Mutex
	running     bool
	stopping    bool
	popCancel   context.CancelFunc
	workCancel  context.CancelFunc
	group       *errgroup.Group
	timers      map[*time.Timer]*WorkItem
	queueWarned bool
}

// New constructs a Coordinator. Missing options fall back to one worker and
// no retries.
func New(opts Options, deps Deps) (*Coordinator, error) {
	if deps.Ledger == nil || deps.Stabilizer == nil || deps.Decider == nil || deps.Writer == nil {
		return nil, errors.New("pipeline: ledger, stabilizer, decider, and writer are required")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = opts.BackoffBase
	}
	return &Coordinator{
		opts:       opts,
		ledger:     deps.Ledger,
		stabilizer: deps.Stabilizer,
		decider:    deps.Decider,
		writer:     deps.Writer,
		logger:     logging.NewComponentLogger(deps.Logger, "pipeline"),
		queue:      newWorkQueue(),
		inflight:   newTracker(),
		timers:     make(map[*time.Timer]*WorkItem),
	}, nil
}

// Submit registers a discovery and queues it unless it collapses into an
// existing item. It never blocks. Discoveries arriving after Stop are ignored.
func (c *Coordinator) Submit(d ingest.Discovery) {
	if !imagefmt.IsSupported(d.Path) {
		c.stats.skipped.Add(1)
		return
	}
	c.mu.Lock()
	stopping := c.stopping
	c.mu.Unlock()
	if stopping {
		return
	}

	c.stats.discovered.Add(1)
	if !c.ledger.Offer(d.Path, d.Fresh()) {
		c.stats.collapsed.Add(1)
		return
	}
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}
	item := &WorkItem{
		SourcePath:    ledger.Key(d.Path),
		RelativePath:  d.Rel,
		DiscoveredAt:  at,
		CorrelationID: uuid.NewString(),
		Stage:         StageDiscovered,
	}
	c.logger.Debug("item discovered",
		logging.String(logging.FieldPath, item.SourcePath),
		logging.String(logging.FieldRelPath, item.RelativePath),
		logging.String("trigger", d.Kind.String()),
		logging.String(logging.FieldCorrelationID, item.CorrelationID),
	)
	c.inflight.add()
	if !c.push(item) {
		// Stop won the race after the check above.
		c.ledger.Forget(item.SourcePath)
		c.inflight.done()
	}
}

// Start launches the workers. Stop must be called to release them.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("pipeline already running")
	}

	popCtx, popCancel := context.WithCancel(ctx)
	workCtx, workCancel := context.WithCancel(context.WithoutCancel(ctx))
	group := &errgroup.Group{}
	for i := 0; i < c.opts.Workers; i++ {
		worker := i + 1
		group.Go(func() error {
			c.runWorker(popCtx, workCtx, worker)
			return nil
		})
	}

	c.running = true
	c.stopping = false
	c.popCancel = popCancel
	c.workCancel = workCancel
	c.group = group
	c.logger.Info("pipeline started",
		logging.Int("workers", c.opts.Workers),
		logging.Int("queued", c.queue.Len()),
	)
	return nil
}

// Stop stops dequeuing, waits up to the shutdown grace for in-flight items,
// then cancels whatever is still running. Queued and backing-off items are
// dropped; their ledger entries stay non-terminal.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.stopping = true
	popCancel := c.popCancel
	workCancel := c.workCancel
	group := c.group
	for timer, item := range c.timers {
		timer.Stop()
		delete(c.timers, timer)
		c.dropItem(item)
	}
	c.mu.Unlock()

	popCancel()
	grace := c.opts.ShutdownGrace
	var cancelTimer *time.Timer
	if grace > 0 {
		cancelTimer = time.AfterFunc(grace, workCancel)
	} else {
		workCancel()
	}
	_ = group.Wait()
	if cancelTimer != nil {
		cancelTimer.Stop()
	}
	workCancel()

	for _, item := range c.queue.Drain() {
		c.dropItem(item)
	}
	stats := c.Stats()
	c.logger.Info("pipeline stopped",
		logging.Int64("completed", stats.Completed),
		logging.Int64("failed", stats.Failed),
		logging.Int64("interrupted", stats.Interrupted),
	)
}

// WaitIdle blocks until nothing is queued, in flight, or waiting to retry.
func (c *Coordinator) WaitIdle(ctx context.Context) error {
	select {
	case <-c.inflight.wait():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending reports the number of outstanding work items.
func (c *Coordinator) Pending() int {
	return c.inflight.count()
}

// QueueDepth reports the number of items waiting for a worker.
func (c *Coordinator) QueueDepth() int {
	return c.queue.Len()
}

// Stats returns a snapshot of outcome counters.
func (c *Coordinator) Stats() Stats {
	return c.stats.snapshot()
}

func (c *Coordinator) runWorker(popCtx, workCtx context.Context, worker int) {
	logger := c.logger.With(logging.Int("worker", worker))
	for {
		item, ok := c.queue.Pop(popCtx)
		if !ok {
			logger.Debug("worker exiting")
			return
		}
		if c.process(workCtx, item) {
			continue
		}
		c.inflight.done()
	}
}

// push queues item unless Stop has begun. The check and the push share c.mu
// so nothing lands in the queue after Stop drains it.
func (c *Coordinator) push(item *WorkItem) bool {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return false
	}
	depth := c.queue.Push(item)
	c.mu.Unlock()
	c.checkQueueDepth(depth)
	return true
}

// checkQueueDepth warns once when the queue crosses the configured size and
// re-arms after it drains to half.
func (c *Coordinator) checkQueueDepth(depth int) {
	limit := c.opts.QueueWarnSize
	if limit <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case depth > limit && !c.queueWarned:
		c.queueWarned = true
		logging.WarnWithContext(c.logger, "work queue is growing",
			"queue_backlog",
			logging.Int("queue_depth", depth),
			logging.Int("warn_size", limit),
			logging.String(logging.FieldErrorHint, "increase pipeline.workers or check decider latency"),
			logging.String(logging.FieldImpact, "images wait longer before being corrected"),
		)
	case depth <= limit/2 && c.queueWarned:
		c.queueWarned = false
	}
}

// scheduleRetry returns item to the queue after delay. The item stays
// outstanding while the timer is armed.
func (c *Coordinator) scheduleRetry(item *WorkItem, delay time.Duration) {
	c.stats.retried.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopping {
		c.dropItem(item)
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if _, ok := c.timers[timer]; !ok {
			c.mu.Unlock()
			return
		}
		delete(c.timers, timer)
		c.mu.Unlock()
		if !c.push(item) {
			c.dropItem(item)
		}
	})
	c.timers[timer] = item
}

// dropItem releases an item that will not be processed in this run.
func (c *Coordinator) dropItem(item *WorkItem) {
	c.stats.interrupted.Add(1)
	c.ledger.Forget(item.SourcePath)
	c.inflight.done()
}

// backoff returns the delay before retry number n (1-based).
func (c *Coordinator) backoff(n int) time.Duration {
	delay := c.opts.BackoffBase
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= c.opts.BackoffMax {
			return c.opts.BackoffMax
		}
	}
	if delay > c.opts.BackoffMax {
		return c.opts.BackoffMax
	}
	return delay
}
