// Package ledger tracks the processing state of every source path the
// pipeline has seen.
//
// The Ledger is the only place per-path state changes. Transitions are
// Pending -> InProgress -> Done | Failed, with InProgress -> Pending for
// retries. Done and Failed leave only through Reset, which the pipeline calls
// when a fresh create event arrives for the same path or an operator asks.
// Keys are cleaned and NFC-normalized so differently composed Unicode names
// from the sweep and the watcher map to one entry.
//
// A Journal optionally persists terminal transitions in SQLite so failed
// paths stay failed across restarts and `upright status` can report history.
package ledger
