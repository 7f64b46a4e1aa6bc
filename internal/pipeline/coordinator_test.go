package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"upright/internal/decider"
	"upright/internal/imagecodec"
	"upright/internal/imagefmt"
	"upright/internal/ingest"
	"upright/internal/ledger"
	"upright/internal/logging"
	"upright/internal/pipeline"
	"upright/internal/rotator"
	"upright/internal/services"
	"upright/internal/stability"
	"upright/internal/testsupport"
)

type stabilizerFunc func(ctx context.Context, path string) (stability.Outcome, error)

func (f stabilizerFunc) Await(ctx context.Context, path string) (stability.Outcome, error) {
	return f(ctx, path)
}

func readyWhenPresent() pipeline.Stabilizer {
	return stabilizerFunc(func(_ context.Context, path string) (stability.Outcome, error) {
		if _, err := os.Stat(path); err != nil {
			return stability.Vanished, nil
		}
		return stability.Ready, nil
	})
}

type recordingWriter struct {
	mu      sync.Mutex
	calls   map[string]int
	active  map[string]int
	overlap bool
	gate    chan struct{}
	err     error
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{calls: make(map[string]int), active: make(map[string]int)}
}

func (w *recordingWriter) Apply(_ context.Context, req rotator.Request) (rotator.Artifact, error) {
	w.mu.Lock()
	w.calls[req.SourcePath]++
	w.active[req.SourcePath]++
	if w.active[req.SourcePath] > 1 {
		w.overlap = true
	}
	gate := w.gate
	w.mu.Unlock()

	if gate != nil {
		<-gate
	}

	w.mu.Lock()
	w.active[req.SourcePath]--
	w.mu.Unlock()
	if w.err != nil {
		return rotator.Artifact{}, w.err
	}
	return rotator.Artifact{SourcePath: req.SourcePath, DestinationPath: req.SourcePath + ".out", Angle: req.Angle}, nil
}

func (w *recordingWriter) count(path string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[path]
}

type harness struct {
	dir    string
	ledger *ledger.Ledger
	coord  *pipeline.Coordinator
}

func newHarness(t *testing.T, opts pipeline.Options, stab pipeline.Stabilizer, dec decider.Decider, writer pipeline.Writer) *harness {
	t.Helper()
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	if opts.BackoffBase == 0 {
		opts.BackoffBase = time.Millisecond
		opts.BackoffMax = 5 * time.Millisecond
	}
	l := ledger.New()
	coord, err := pipeline.New(opts, pipeline.Deps{
		Ledger:     l,
		Stabilizer: stab,
		Decider:    dec,
		Writer:     writer,
		Logger:     logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(coord.Stop)
	return &harness{dir: t.TempDir(), ledger: l, coord: coord}
}

func (h *harness) source(t *testing.T, rel string) string {
	t.Helper()
	path := filepath.Join(h.dir, rel)
	testsupport.WriteFile(t, path, 64)
	return path
}

func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.coord.WaitIdle(ctx); err != nil {
		t.Fatalf("pipeline did not settle: %v (pending=%d)", err, h.coord.Pending())
	}
}

func discovery(path string, kind ingest.Kind) ingest.Discovery {
	return ingest.Discovery{Path: path, Rel: filepath.Base(path), Kind: kind, At: time.Now()}
}

func TestConcurrentCreatesCollapseIntoOneItem(t *testing.T) {
	writer := newRecordingWriter()
	writer.gate = make(chan struct{})
	h := newHarness(t, pipeline.Options{Workers: 8}, readyWhenPresent(), decider.Fixed{Angle: decider.Angle0}, writer)
	path := h.source(t, "burst.jpg")

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			h.coord.Submit(discovery(path, ingest.KindCreate))
		}()
	}
	close(start)
	wg.Wait()
	close(writer.gate)
	h.waitIdle(t)

	if got := writer.count(path); got != 1 {
		t.Fatalf("expected exactly one write, got %d", got)
	}
	if writer.overlap {
		t.Fatal("two workers were writing the same path at once")
	}
	entry, ok := h.ledger.Lookup(path)
	if !ok || entry.State != ledger.StateDone {
		t.Fatalf("expected done entry, got %+v ok=%v", entry, ok)
	}
	stats := h.coord.Stats()
	if stats.Completed != 1 || stats.Collapsed != 99 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestNeverStableFileFailsAsTimedOut(t *testing.T) {
	var awaits atomic.Int32
	stab := stabilizerFunc(func(context.Context, string) (stability.Outcome, error) {
		awaits.Add(1)
		return stability.TimedOut, nil
	})
	writer := newRecordingWriter()
	h := newHarness(t, pipeline.Options{MaxStabilityRetries: 2}, stab, decider.Fixed{}, writer)
	path := h.source(t, "growing.png")

	h.coord.Submit(discovery(path, ingest.KindSweep))
	h.waitIdle(t)

	entry, ok := h.ledger.Lookup(path)
	if !ok || entry.State != ledger.StateFailed || entry.FailureKind != services.KindTimedOut {
		t.Fatalf("expected failed TimedOut entry, got %+v ok=%v", entry, ok)
	}
	if got := awaits.Load(); got != 3 {
		t.Fatalf("expected 3 stability attempts, got %d", got)
	}
	if writer.count(path) != 0 {
		t.Fatal("writer should not run for an unstable file")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("source should be left in place: %v", err)
	}
	if got := h.coord.Stats().Retried; got != 2 {
		t.Fatalf("expected 2 retries, got %d", got)
	}
}

func TestVanishedSourceLeavesNoState(t *testing.T) {
	writer := newRecordingWriter()
	h := newHarness(t, pipeline.Options{}, readyWhenPresent(), decider.Fixed{}, writer)
	path := filepath.Join(h.dir, "gone.jpg")

	h.coord.Submit(discovery(path, ingest.KindCreate))
	h.waitIdle(t)

	if _, ok := h.ledger.Lookup(path); ok {
		t.Fatal("vanished source should not leave a ledger entry")
	}
	if got := h.coord.Stats().Vanished; got != 1 {
		t.Fatalf("expected one vanished item, got %d", got)
	}
	if writer.count(path) != 0 {
		t.Fatal("writer should not run for a vanished source")
	}
}

func TestDecisionFailuresAreRetried(t *testing.T) {
	var calls atomic.Int32
	dec := decider.Func(func(context.Context, decider.Image) (decider.Angle, error) {
		if calls.Add(1) <= 2 {
			return 0, services.Wrap(services.ErrDecision, "decide", "invoke", "model offline", nil)
		}
		return decider.Angle90, nil
	})
	writer := newRecordingWriter()
	h := newHarness(t, pipeline.Options{MaxDecisionRetries: 3}, readyWhenPresent(), dec, writer)
	path := h.source(t, "flaky.jpg")

	h.coord.Submit(discovery(path, ingest.KindSweep))
	h.waitIdle(t)

	entry, _ := h.ledger.Lookup(path)
	if entry.State != ledger.StateDone {
		t.Fatalf("expected done after retries, got %+v", entry)
	}
	if entry.Attempts != 3 {
		t.Fatalf("expected 3 ledger attempts, got %d", entry.Attempts)
	}
	if writer.count(path) != 1 {
		t.Fatalf("expected one write, got %d", writer.count(path))
	}
}

func TestDecisionRetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	dec := decider.Func(func(context.Context, decider.Image) (decider.Angle, error) {
		calls.Add(1)
		return 45, nil
	})
	h := newHarness(t, pipeline.Options{MaxDecisionRetries: 1}, readyWhenPresent(), dec, newRecordingWriter())
	path := h.source(t, "odd.jpg")

	h.coord.Submit(discovery(path, ingest.KindSweep))
	h.waitIdle(t)

	entry, _ := h.ledger.Lookup(path)
	if entry.State != ledger.StateFailed || entry.FailureKind != services.KindDecisionFailure {
		t.Fatalf("expected DecisionFailure, got %+v", entry)
	}
	if !strings.Contains(entry.Reason, "45") {
		t.Fatalf("reason should mention the invalid angle, got %q", entry.Reason)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 decisions, got %d", got)
	}
}

func TestWriteFailureIsTerminal(t *testing.T) {
	writer := newRecordingWriter()
	writer.err = services.Wrap(services.ErrDestinationExists, "write", "check destination", "out/a.jpg", os.ErrExist)
	h := newHarness(t, pipeline.Options{MaxDecisionRetries: 3, MaxStabilityRetries: 3}, readyWhenPresent(), decider.Fixed{}, writer)
	path := h.source(t, "a.jpg")

	h.coord.Submit(discovery(path, ingest.KindSweep))
	h.waitIdle(t)

	entry, _ := h.ledger.Lookup(path)
	if entry.State != ledger.StateFailed || entry.FailureKind != services.KindDestinationExists {
		t.Fatalf("expected DestinationExists failure, got %+v", entry)
	}
	if writer.count(path) != 1 {
		t.Fatalf("write failures must not be retried, got %d writes", writer.count(path))
	}

	// A sweep does not revive a failed path; a create event does.
	h.coord.Submit(discovery(path, ingest.KindSweep))
	h.waitIdle(t)
	if writer.count(path) != 1 {
		t.Fatal("sweep re-admitted a failed path")
	}
	writer.err = nil
	h.coord.Submit(discovery(path, ingest.KindCreate))
	h.waitIdle(t)
	if entry, _ := h.ledger.Lookup(path); entry.State != ledger.StateDone {
		t.Fatalf("recreated file should be reprocessed, got %+v", entry)
	}
}

func TestRepeatedSweepsAreIdempotent(t *testing.T) {
	writer := newRecordingWriter()
	h := newHarness(t, pipeline.Options{}, readyWhenPresent(), decider.Fixed{}, writer)
	path := h.source(t, "still.webp")

	for i := 0; i < 3; i++ {
		h.coord.Submit(discovery(path, ingest.KindSweep))
		h.coord.Submit(discovery(path, ingest.KindWrite))
		h.waitIdle(t)
	}
	if writer.count(path) != 1 {
		t.Fatalf("expected one write across sweeps, got %d", writer.count(path))
	}
}

func TestUnsupportedDiscoveriesAreSkipped(t *testing.T) {
	writer := newRecordingWriter()
	h := newHarness(t, pipeline.Options{}, readyWhenPresent(), decider.Fixed{}, writer)
	path := h.source(t, "notes.txt")

	h.coord.Submit(discovery(path, ingest.KindCreate))
	h.waitIdle(t)

	if _, ok := h.ledger.Lookup(path); ok {
		t.Fatal("unsupported file should not enter the ledger")
	}
	if got := h.coord.Stats().Skipped; got != 1 {
		t.Fatalf("expected skipped count 1, got %d", got)
	}
}

func TestStopInterruptsBlockedDecision(t *testing.T) {
	entered := make(chan struct{}, 1)
	dec := decider.Func(func(ctx context.Context, _ decider.Image) (decider.Angle, error) {
		entered <- struct{}{}
		<-ctx.Done()
		return 0, ctx.Err()
	})
	writer := newRecordingWriter()
	l := ledger.New()
	coord, err := pipeline.New(pipeline.Options{Workers: 1, ShutdownGrace: 20 * time.Millisecond}, pipeline.Deps{
		Ledger: l, Stabilizer: readyWhenPresent(), Decider: dec, Writer: writer, Logger: logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dir := t.TempDir()
	first := filepath.Join(dir, "first.jpg")
	second := filepath.Join(dir, "second.jpg")
	testsupport.WriteFile(t, first, 16)
	testsupport.WriteFile(t, second, 16)
	coord.Submit(discovery(first, ingest.KindSweep))
	coord.Submit(discovery(second, ingest.KindSweep))

	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("decider never invoked")
	}

	done := make(chan struct{})
	go func() {
		coord.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after the shutdown grace")
	}

	if writer.count(first) != 0 {
		t.Fatal("interrupted item must not be written")
	}
	if _, ok := l.Lookup(first); ok {
		t.Fatal("interrupted item should not keep a ledger entry")
	}
	if got := coord.Stats().Interrupted; got != 2 {
		t.Fatalf("expected both items interrupted, got %d", got)
	}
	if coord.Pending() != 0 {
		t.Fatalf("expected nothing outstanding after Stop, got %d", coord.Pending())
	}
}

func TestSubmitAfterStopLeavesNothingOutstanding(t *testing.T) {
	h := newHarness(t, pipeline.Options{}, readyWhenPresent(), decider.Fixed{}, newRecordingWriter())
	path := h.source(t, "late.jpg")
	h.coord.Stop()

	h.coord.Submit(discovery(path, ingest.KindCreate))
	if got := h.coord.Pending(); got != 0 {
		t.Fatalf("expected nothing outstanding, got %d", got)
	}
	if _, ok := h.ledger.Lookup(path); ok {
		t.Fatal("a discovery after Stop must not leave a ledger entry")
	}
	h.waitIdle(t)
}

func TestSubmitsRacingStopSettle(t *testing.T) {
	h := newHarness(t, pipeline.Options{Workers: 2}, readyWhenPresent(), decider.Fixed{}, newRecordingWriter())

	var wg sync.WaitGroup
	start := make(chan struct{})
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 50; i++ {
				// Missing sources vanish, so anything processed settles fast.
				name := filepath.Join(h.dir, "burst", strconv.Itoa(g)+"-"+strconv.Itoa(i)+".jpg")
				h.coord.Submit(discovery(name, ingest.KindCreate))
			}
		}()
	}
	close(start)
	h.coord.Stop()
	wg.Wait()

	h.waitIdle(t)
	if got := h.coord.Pending(); got != 0 {
		t.Fatalf("expected nothing outstanding, got %d", got)
	}
	if got := h.coord.QueueDepth(); got != 0 {
		t.Fatalf("expected an empty queue after Stop, got %d", got)
	}
}

func TestRetryTimersFiringAfterStopAreReleased(t *testing.T) {
	dec := decider.Func(func(context.Context, decider.Image) (decider.Angle, error) {
		return 0, services.Wrap(services.ErrDecision, "decide", "invoke", "model offline", nil)
	})
	h := newHarness(t, pipeline.Options{
		Workers:            2,
		MaxDecisionRetries: 1000,
		BackoffBase:        time.Millisecond,
		BackoffMax:         time.Millisecond,
	}, readyWhenPresent(), dec, newRecordingWriter())
	for i := 0; i < 5; i++ {
		path := h.source(t, "retry-"+strconv.Itoa(i)+".jpg")
		h.coord.Submit(discovery(path, ingest.KindSweep))
	}

	time.Sleep(20 * time.Millisecond)
	h.coord.Stop()
	time.Sleep(20 * time.Millisecond)

	h.waitIdle(t)
	if got := h.coord.QueueDepth(); got != 0 {
		t.Fatalf("retries must not be queued after Stop, got depth %d", got)
	}
}

func TestEndToEndWithRealStages(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	input := cfg.Paths.InputDir
	aData := testsupport.WriteImage(t, filepath.Join(input, "a.jpg"), testsupport.Blocks(32, 16))
	testsupport.WriteImage(t, filepath.Join(input, "sub", "b.png"), testsupport.Pattern(6, 4))

	dec := decider.Func(func(_ context.Context, img decider.Image) (decider.Angle, error) {
		if strings.HasSuffix(img.Name, "b.png") {
			return decider.Angle270, nil
		}
		return decider.Angle0, nil
	})
	l := ledger.New()
	coord, err := pipeline.New(pipeline.OptionsFromConfig(cfg), pipeline.Deps{
		Ledger: l,
		Stabilizer: stability.New(stability.Options{
			Interval: cfg.StabilityInterval(),
			Samples:  cfg.Pipeline.StabilitySamples,
			MaxWait:  cfg.StabilityMaxWait(),
		}),
		Decider: dec,
		Writer:  rotator.New(rotator.OptionsFromConfig(cfg), logging.NewNop()),
		Logger:  logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}

	ctx := context.Background()
	if _, err := ingest.Sweep(ctx, input, ingest.KindSweep, coord.Submit); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if err := coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer coord.Stop()
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := coord.WaitIdle(waitCtx); err != nil {
		t.Fatalf("WaitIdle: %v", err)
	}

	outA, err := os.ReadFile(filepath.Join(cfg.Paths.OutputDir, "a.jpg"))
	if err != nil {
		t.Fatalf("read a.jpg output: %v", err)
	}
	if !bytes.Equal(outA, aData) {
		t.Fatal("a 0 degree decision should copy the source bytes unchanged")
	}
	outB, err := os.ReadFile(filepath.Join(cfg.Paths.OutputDir, "sub", "b.png"))
	if err != nil {
		t.Fatalf("read b.png output: %v", err)
	}
	img, err := imagecodec.Decode(outB, imagefmt.PNG)
	if err != nil {
		t.Fatalf("decode b.png output: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 6 {
		t.Fatalf("expected rotated 4x6 image, got %dx%d", b.Dx(), b.Dy())
	}
	for _, rel := range []string{"a.jpg", filepath.Join("sub", "b.png")} {
		if _, err := os.Stat(filepath.Join(input, rel)); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("source %s should be deleted, stat err=%v", rel, err)
		}
	}
	if stats := coord.Stats(); stats.Completed != 2 || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
