// Package ingest discovers candidate images under the input root.
//
// Sweep walks the tree once; Watcher reports create and write events as they
// happen, including inside directories created after startup. Both hand
// Discovery values to a Sink that must not block. Duplicate discoveries are
// expected and are collapsed downstream by the ledger, not here.
package ingest
