// Package preflight provides readiness checks for the directories and the
// orientation decider that upright depends on.
//
// These checks run in two contexts:
//   - The run command calls RunAll before starting the pipeline and refuses
//     to start when any check fails.
//   - The CLI "upright check" command prints every result as a table.
//
// Checks for optional features (the archive directory, the decider binary)
// are skipped when the feature is not configured.
package preflight
