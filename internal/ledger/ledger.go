package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"upright/internal/logging"
)

// State is the processing state of one source path.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Terminal reports whether s is Done or Failed.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Admission is the result of TryBegin.
type Admission int

const (
	Admitted Admission = iota
	AlreadyInProgress
	AlreadyDone
	AlreadyFailed
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case AlreadyInProgress:
		return "already_in_progress"
	case AlreadyDone:
		return "already_done"
	case AlreadyFailed:
		return "already_failed"
	default:
		return fmt.Sprintf("admission(%d)", int(a))
	}
}

// ErrInvalidTransition is returned when a caller attempts a transition the
// state machine does not allow.
var ErrInvalidTransition = errors.New("invalid ledger transition")

// Entry is a snapshot of one path's state.
type Entry struct {
	Path        string
	State       State
	FailureKind string
	Reason      string
	Destination string
	Attempts    int
	UpdatedAt   time.Time
}

// Recorder persists terminal transitions and resets. Calls happen outside
// the ledger lock.
type Recorder interface {
	Record(ctx context.Context, entry Entry) error
	Remove(ctx context.Context, path string) error
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithRecorder persists terminal transitions through r.
func WithRecorder(r Recorder) Option {
	return func(l *Ledger) {
		l.recorder = r
	}
}

// WithLogger sets the logger used for persistence warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logging.NewComponentLogger(logger, "ledger")
	}
}

// New constructs an empty ledger.
func New(opts ...Option) *Ledger {
	l := &Ledger{
		entries: make(map[string]*Entry),
		logger:  logging.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key normalizes a path for use as a ledger key.
func Key(path string) string {
	return norm.NFC.String(filepath.Clean(path))
}

// Offer registers a discovery. It returns true when the caller should queue a
// work item: the path is new, or it was terminal and fresh is set (a create
// event for a recreated file). Discoveries of Pending or InProgress paths
// collapse into the existing item.
func (l *Ledger) Offer(path string, fresh bool) bool {
	key := Key(path)
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		l.entries[key] = &Entry{Path: key, State: StatePending, UpdatedAt: l.now()}
		l.mu.Unlock()
		return true
	}
	if !entry.State.Terminal() || !fresh {
		l.mu.Unlock()
		return false
	}
	l.entries[key] = &Entry{Path: key, State: StatePending, UpdatedAt: l.now()}
	l.mu.Unlock()

	l.remove(key)
	return true
}

// TryBegin claims path for processing.
func (l *Ledger) TryBegin(path string) Admission {
	key := Key(path)
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[key]
	if !ok {
		entry = &Entry{Path: key}
		l.entries[key] = entry
	}
	switch entry.State {
	case StateInProgress:
		return AlreadyInProgress
	case StateDone:
		return AlreadyDone
	case StateFailed:
		return AlreadyFailed
	}
	entry.State = StateInProgress
	entry.Attempts++
	entry.UpdatedAt = l.now()
	return Admitted
}

// MarkDone records a successful completion.
func (l *Ledger) MarkDone(ctx context.Context, path, destination string) error {
	entry, err := l.finish(path, func(e *Entry) {
		e.State = StateDone
		e.Destination = destination
		e.FailureKind = ""
		e.Reason = ""
	})
	if err != nil {
		return err
	}
	l.record(ctx, entry)
	return nil
}

// MarkFailed records a permanent failure.
func (l *Ledger) MarkFailed(ctx context.Context, path, kind, reason string) error {
	entry, err := l.finish(path, func(e *Entry) {
		e.State = StateFailed
		e.FailureKind = kind
		e.Reason = reason
	})
	if err != nil {
		return err
	}
	l.record(ctx, entry)
	return nil
}

// Requeue returns an InProgress path to Pending for another attempt.
func (l *Ledger) Requeue(path string) error {
	_, err := l.finish(path, func(e *Entry) {
		e.State = StatePending
	})
	return err
}

// Forget drops an InProgress or Pending path without recording anything.
// Used when the source vanished.
func (l *Ledger) Forget(path string) {
	key := Key(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.entries[key]; ok && !entry.State.Terminal() {
		delete(l.entries, key)
	}
}

// Reset clears any state for path, terminal or not, so the next discovery
// starts a new lifecycle. It reports whether an entry existed.
func (l *Ledger) Reset(ctx context.Context, path string) bool {
	key := Key(path)
	l.mu.Lock()
	_, ok := l.entries[key]
	delete(l.entries, key)
	l.mu.Unlock()
	l.removeCtx(ctx, key)
	return ok
}

// Preload seeds terminal entries, typically failed paths from the journal.
// Existing entries are not overwritten.
func (l *Ledger) Preload(entries []Entry) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	loaded := 0
	for _, e := range entries {
		if !e.State.Terminal() {
			continue
		}
		key := Key(e.Path)
		if _, exists := l.entries[key]; exists {
			continue
		}
		copied := e
		copied.Path = key
		l.entries[key] = &copied
		loaded++
	}
	return loaded
}

// Lookup returns the current entry for path.
func (l *Ledger) Lookup(path string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[Key(path)]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Snapshot returns all entries ordered by path.
func (l *Ledger) Snapshot() []Entry {
	l.mu.Lock()
	out := make([]Entry, 0, len(l.entries))
	for _, entry := range l.entries {
		out = append(out, *entry)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Counts returns the number of entries per state.
func (l *Ledger) Counts() map[State]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	counts := make(map[State]int, 4)
	for _, entry := range l.entries {
		counts[entry.State]++
	}
	return counts
}

func (l *Ledger) finish(path string, apply func(*Entry)) (Entry, error) {
	key := Key(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.entries[key]
	if !ok || entry.State != StateInProgress {
		state := State("absent")
		if ok {
			state = entry.State
		}
		return Entry{}, fmt.Errorf("%w: %s is %s, not in progress", ErrInvalidTransition, key, state)
	}
	apply(entry)
	entry.UpdatedAt = l.now()
	return *entry, nil
}

func (l *Ledger) record(ctx context.Context, entry Entry) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Record(ctx, entry); err != nil {
		logging.WarnWithContext(l.logger, "journal write failed", "journal_write_failed",
			logging.String(logging.FieldPath, entry.Path),
			logging.String("state", string(entry.State)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check state_dir permissions and disk space"),
			logging.String(logging.FieldImpact, "state is kept in memory only for this path"),
		)
	}
}

func (l *Ledger) remove(key string) {
	l.removeCtx(context.Background(), key)
}

func (l *Ledger) removeCtx(ctx context.Context, key string) {
	if l.recorder == nil {
		return
	}
	if err := l.recorder.Remove(ctx, key); err != nil {
		logging.WarnWithContext(l.logger, "journal reset failed", "journal_write_failed",
			logging.String(logging.FieldPath, key),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run upright reset for this path"),
			logging.String(logging.FieldImpact, "a stale journal row may reappear after restart"),
		)
	}
}
