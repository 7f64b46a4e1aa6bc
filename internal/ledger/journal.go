package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current journal schema version. Bump this when the
// schema changes; older journals must be deleted.
const schemaVersion = 1

// ErrSchemaMismatch indicates the journal was written by a different schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

const (
	journalTable            = "journal_entries"
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

var journalColumns = []string{"path", "state", "failure_kind", "reason", "destination", "attempts", "updated_at"}

// Journal persists terminal ledger transitions in SQLite.
type Journal struct {
	db   *sql.DB
	path string
	psql sq.StatementBuilderType
}

// OpenJournal initializes or connects to the journal database.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure journal directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	j := &Journal{db: db, path: path, psql: sq.StatementBuilder.PlaceholderFormat(sq.Question).RunWith(db)}
	if err := j.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Path returns the database file location.
func (j *Journal) Path() string {
	return j.path
}

// Close closes the underlying database connection.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) initSchema(ctx context.Context) error {
	var tableExists int
	err := j.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return j.createSchema(ctx)
	}

	var version int
	if err := j.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: journal has version %d, expected %d (delete %s)",
			ErrSchemaMismatch, version, schemaVersion, j.path)
	}
	return nil
}

func (j *Journal) createSchema(ctx context.Context) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Record upserts a terminal entry.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	if !entry.State.Terminal() {
		return fmt.Errorf("journal record: %s is not terminal", entry.State)
	}
	updated := entry.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	query := j.psql.Insert(journalTable).
		Columns(journalColumns...).
		Values(
			entry.Path,
			string(entry.State),
			nullableString(entry.FailureKind),
			nullableString(entry.Reason),
			nullableString(entry.Destination),
			entry.Attempts,
			updated.UTC().Format(time.RFC3339Nano),
		).
		Suffix(`ON CONFLICT(path) DO UPDATE SET
            state = excluded.state,
            failure_kind = excluded.failure_kind,
            reason = excluded.reason,
            destination = excluded.destination,
            attempts = excluded.attempts,
            updated_at = excluded.updated_at`)
	return retryOnBusy(ctx, func() error {
		_, err := query.ExecContext(ctx)
		return err
	})
}

// Remove deletes the entry for path, if any.
func (j *Journal) Remove(ctx context.Context, path string) error {
	_, err := j.Delete(ctx, path)
	return err
}

// Delete removes entries for the given paths and returns how many existed.
func (j *Journal) Delete(ctx context.Context, paths ...string) (int64, error) {
	if len(paths) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		keys = append(keys, Key(p))
	}
	return j.execDelete(ctx, j.psql.Delete(journalTable).Where(sq.Eq{"path": keys}))
}

// DeleteState removes every entry in the given state.
func (j *Journal) DeleteState(ctx context.Context, state State) (int64, error) {
	return j.execDelete(ctx, j.psql.Delete(journalTable).Where(sq.Eq{"state": string(state)}))
}

// Clear removes every entry.
func (j *Journal) Clear(ctx context.Context) (int64, error) {
	return j.execDelete(ctx, j.psql.Delete(journalTable))
}

func (j *Journal) execDelete(ctx context.Context, query sq.DeleteBuilder) (int64, error) {
	var affected int64
	err := retryOnBusy(ctx, func() error {
		res, err := query.ExecContext(ctx)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete journal entries: %w", err)
	}
	return affected, nil
}

// List returns entries filtered by state (all entries when none are given),
// most recent first.
func (j *Journal) List(ctx context.Context, states ...State) ([]Entry, error) {
	query := j.psql.Select(journalColumns...).From(journalTable).OrderBy("updated_at DESC", "path")
	if len(states) > 0 {
		values := make([]string, 0, len(states))
		for _, s := range states {
			values = append(values, string(s))
		}
		query = query.Where(sq.Eq{"state": values})
	}

	rows, err := query.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list journal entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		entry       Entry
		state       string
		failureKind sql.NullString
		reason      sql.NullString
		destination sql.NullString
		updated     string
	)
	if err := row.Scan(&entry.Path, &state, &failureKind, &reason, &destination, &entry.Attempts, &updated); err != nil {
		return Entry{}, fmt.Errorf("scan journal entry: %w", err)
	}
	entry.State = State(state)
	entry.FailureKind = failureKind.String
	entry.Reason = reason.String
	entry.Destination = destination.String
	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		entry.UpdatedAt = ts
	}
	return entry, nil
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
