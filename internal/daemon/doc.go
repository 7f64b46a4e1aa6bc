// Package daemon wires the ledger, pipeline coordinator, sweep, and live
// watcher for one input root into a single lifecycle.
//
// A flock-based lock in the state directory, keyed by the input root, keeps
// two processes from draining the same tree. Startup removes orphaned
// temporary files from the output tree, reloads failed paths from the
// journal when one is configured, subscribes the watcher, and only then
// sweeps, so no file can land between the sweep and the subscription.
//
// Keep stage logic out of this package; the daemon only owns startup,
// shutdown, and status reporting.
package daemon
