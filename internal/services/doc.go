// Package services defines shared utilities consumed by the pipeline stages
// and the external orientation deciders.
//
// Key responsibilities:
//   - Context helpers that stamp source paths, stage names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into the failure kinds reported in logs and the journal.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
