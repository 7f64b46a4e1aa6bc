package preflight

import (
	"context"

	"upright/internal/config"
	"upright/internal/decider"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config. dec
// may be nil, in which case the decider check is skipped.
func RunAll(ctx context.Context, cfg *config.Config, dec decider.Decider) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result

	// Input must be readable and writable so sources can be removed.
	results = append(results, CheckDirectoryAccess("Input directory", cfg.Paths.InputDir))
	results = append(results, CheckWritableDirectory("Output directory", cfg.Paths.OutputDir))
	results = append(results, CheckWritableDirectory("State directory", cfg.Paths.StateDir))

	if cfg.ArchiveEnabled() {
		results = append(results, CheckWritableDirectory("Archive directory", cfg.Paths.ArchiveDir))
	}

	for _, status := range CheckSystemDeps(cfg) {
		// The command decider's own health check covers its binary.
		if dec != nil && status.Name == deciderCommandDep {
			continue
		}
		results = append(results, dependencyResult(status))
	}

	if dec != nil {
		results = append(results, CheckDecider(ctx, dec))
	}

	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
