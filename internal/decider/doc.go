// Package decider defines the orientation decision contract and its
// implementations.
//
// A Decider receives raw image bytes and answers with the clockwise rotation,
// one of 0, 90, 180, or 270 degrees, that makes the image upright. Anything
// else is a decision failure, reported as an error wrapping
// services.ErrDecision so the pipeline can retry within its budget.
//
// Implementations:
//   - Command runs an external program such as `ollama run` and parses its
//     JSON output.
//   - Ollama talks to the Ollama HTTP API directly.
//   - HTTP posts the image to a generic JSON endpoint.
//   - Fixed always returns the same angle; useful for dry runs and tests.
//
// New builds the configured implementation and wraps it with Inverted when
// the model reports the rotation that was applied rather than the correction.
package decider
