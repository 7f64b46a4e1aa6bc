package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// runLogGlob matches the per-run files written by watch and sweep. The
// upright.log pointer does not match it.
const runLogGlob = "upright-*.log"

// PruneRunLogs deletes run logs in dir last modified more than retentionDays
// ago, never touching current. It returns how many files were removed.
// retentionDays <= 0 keeps everything.
func PruneRunLogs(logger *slog.Logger, dir string, retentionDays int, current string) int {
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	matches, err := filepath.Glob(filepath.Join(dir, runLogGlob))
	if err != nil {
		return 0
	}
	if abs, err := filepath.Abs(current); err == nil {
		current = abs
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	pruned := 0
	for _, path := range matches {
		if abs, err := filepath.Abs(path); err == nil && abs == current {
			continue
		}
		info, err := os.Lstat(path)
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "run log not pruned", "log_prune_failed",
				String(FieldPath, path),
				Error(err),
				String(FieldErrorHint, "check ownership of paths.log_dir"),
				String(FieldImpact, "stale run log stays on disk"),
			)
			continue
		}
		pruned++
	}
	if pruned > 0 && logger != nil {
		logger.Info("pruned run logs",
			Int("count", pruned),
			Int("retention_days", retentionDays),
			String(FieldEventType, "log_pruned"),
		)
	}
	return pruned
}
