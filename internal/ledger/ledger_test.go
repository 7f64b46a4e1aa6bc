package ledger_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"upright/internal/ledger"
)

func TestLifecycleTransitions(t *testing.T) {
	l := ledger.New()
	ctx := context.Background()

	if !l.Offer("/in/a.jpg", false) {
		t.Fatal("expected first offer to enqueue")
	}
	if l.Offer("/in/a.jpg", true) {
		t.Fatal("pending path should collapse repeat offers")
	}
	if got := l.TryBegin("/in/a.jpg"); got != ledger.Admitted {
		t.Fatalf("expected admitted, got %s", got)
	}
	if got := l.TryBegin("/in/a.jpg"); got != ledger.AlreadyInProgress {
		t.Fatalf("expected in progress, got %s", got)
	}
	if l.Offer("/in/a.jpg", true) {
		t.Fatal("in-progress path should collapse offers")
	}
	if err := l.MarkDone(ctx, "/in/a.jpg", "/out/a.jpg"); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}
	if got := l.TryBegin("/in/a.jpg"); got != ledger.AlreadyDone {
		t.Fatalf("expected done, got %s", got)
	}
	if l.Offer("/in/a.jpg", false) {
		t.Fatal("done path must not be requeued by a sweep")
	}
	if !l.Offer("/in/a.jpg", true) {
		t.Fatal("fresh create should reset a done path")
	}
	entry, ok := l.Lookup("/in/a.jpg")
	if !ok || entry.State != ledger.StatePending {
		t.Fatalf("expected pending after reset, got %+v", entry)
	}
}

func TestFailedIsTerminalUntilReset(t *testing.T) {
	l := ledger.New()
	ctx := context.Background()
	l.TryBegin("/in/b.png")
	if err := l.MarkFailed(ctx, "/in/b.png", "WriteFailure", "disk full"); err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if got := l.TryBegin("/in/b.png"); got != ledger.AlreadyFailed {
		t.Fatalf("expected failed, got %s", got)
	}
	entry, _ := l.Lookup("/in/b.png")
	if entry.FailureKind != "WriteFailure" || entry.Reason != "disk full" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if !l.Reset(ctx, "/in/b.png") {
		t.Fatal("expected reset to report existing entry")
	}
	if got := l.TryBegin("/in/b.png"); got != ledger.Admitted {
		t.Fatalf("expected admitted after reset, got %s", got)
	}
}

func TestRequeueAndForget(t *testing.T) {
	l := ledger.New()
	l.TryBegin("/in/c.jpg")
	if err := l.Requeue("/in/c.jpg"); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if got := l.TryBegin("/in/c.jpg"); got != ledger.Admitted {
		t.Fatalf("expected re-admission, got %s", got)
	}
	entry, _ := l.Lookup("/in/c.jpg")
	if entry.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", entry.Attempts)
	}
	l.Forget("/in/c.jpg")
	if _, ok := l.Lookup("/in/c.jpg"); ok {
		t.Fatal("expected entry removed after forget")
	}
}

func TestInvalidTransitions(t *testing.T) {
	l := ledger.New()
	ctx := context.Background()
	if err := l.MarkDone(ctx, "/in/x.jpg", ""); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for absent path, got %v", err)
	}
	l.Offer("/in/x.jpg", false)
	if err := l.MarkFailed(ctx, "/in/x.jpg", "TimedOut", ""); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for pending path, got %v", err)
	}
	if err := l.Requeue("/in/x.jpg"); !errors.Is(err, ledger.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for requeue of pending path, got %v", err)
	}
}

func TestKeyNormalization(t *testing.T) {
	l := ledger.New()
	decomposed := "/in/cafe\u0301.jpg"
	composed := "/in/caf\u00e9.jpg"
	if !l.Offer(decomposed, false) {
		t.Fatal("expected first offer")
	}
	if l.Offer(composed, false) {
		t.Fatal("NFC-equivalent names must share an entry")
	}
	if l.Offer("/in/./caf\u00e9.jpg", false) {
		t.Fatal("uncleaned path must share an entry")
	}
	if ledger.Key(decomposed) != filepath.Clean(composed) {
		t.Fatalf("unexpected key %q", ledger.Key(decomposed))
	}
}

func TestConcurrentTryBeginAdmitsOnce(t *testing.T) {
	l := ledger.New()
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Offer("/in/race.jpg", true)
			if l.TryBegin("/in/race.jpg") == ledger.Admitted {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	if admitted.Load() != 1 {
		t.Fatalf("expected exactly one admission, got %d", admitted.Load())
	}
}

func TestPreloadSkipsNonTerminal(t *testing.T) {
	l := ledger.New()
	n := l.Preload([]ledger.Entry{
		{Path: "/in/f.jpg", State: ledger.StateFailed, FailureKind: "DecisionFailure"},
		{Path: "/in/p.jpg", State: ledger.StatePending},
	})
	if n != 1 {
		t.Fatalf("expected 1 preloaded, got %d", n)
	}
	if l.Offer("/in/f.jpg", false) {
		t.Fatal("preloaded failed path must not be requeued by a sweep")
	}
	counts := l.Counts()
	if counts[ledger.StateFailed] != 1 || len(l.Snapshot()) != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

type memoryRecorder struct {
	mu       sync.Mutex
	recorded []ledger.Entry
	removed  []string
}

func (m *memoryRecorder) Record(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorded = append(m.recorded, e)
	return nil
}

func (m *memoryRecorder) Remove(_ context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, path)
	return nil
}

func TestRecorderReceivesTerminalTransitions(t *testing.T) {
	rec := &memoryRecorder{}
	l := ledger.New(ledger.WithRecorder(rec))
	ctx := context.Background()

	l.TryBegin("/in/a.jpg")
	_ = l.MarkDone(ctx, "/in/a.jpg", "/out/a.jpg")
	l.TryBegin("/in/b.jpg")
	_ = l.Requeue("/in/b.jpg")
	l.Offer("/in/a.jpg", true)

	if len(rec.recorded) != 1 || rec.recorded[0].State != ledger.StateDone || rec.recorded[0].Destination != "/out/a.jpg" {
		t.Fatalf("unexpected recorded entries: %+v", rec.recorded)
	}
	if len(rec.removed) != 1 || rec.removed[0] != "/in/a.jpg" {
		t.Fatalf("expected reset to remove journal row, got %v", rec.removed)
	}
}
