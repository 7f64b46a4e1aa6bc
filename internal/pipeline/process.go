package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"upright/internal/decider"
	"upright/internal/ledger"
	"upright/internal/logging"
	"upright/internal/rotator"
	"upright/internal/services"
	"upright/internal/stability"
)

// process runs one attempt of item. It returns true when the item was handed
// to a retry timer and is still outstanding.
func (c *Coordinator) process(ctx context.Context, item *WorkItem) bool {
	switch admission := c.ledger.TryBegin(item.SourcePath); admission {
	case ledger.Admitted:
	default:
		c.logger.Debug("item already claimed",
			logging.String(logging.FieldPath, item.SourcePath),
			logging.String("admission", admission.String()),
		)
		return false
	}

	item.Attempts++
	ctx = services.WithSourcePath(ctx, item.SourcePath)
	ctx = services.WithRequestID(ctx, item.CorrelationID)
	ctx = services.WithAttempt(ctx, item.Attempts)
	logger := logging.WithContext(ctx, c.logger).With(logging.String(logging.FieldRelPath, item.RelativePath))

	// Stabilizing
	c.advance(ctx, logger, item, StageStabilizing)
	outcome, err := c.stabilizer.Await(ctx, item.SourcePath)
	if err != nil && ctx.Err() != nil {
		return c.interrupt(logger, item)
	}
	switch outcome {
	case stability.Vanished:
		return c.vanish(logger, item)
	case stability.TimedOut:
		item.StabilityFailures++
		if item.StabilityFailures > c.opts.MaxStabilityRetries {
			c.fail(ctx, logger, item, services.KindTimedOut,
				fmt.Sprintf("file did not stabilize after %d attempts", item.StabilityFailures))
			return false
		}
		return c.retry(logger, item, services.KindTimedOut, item.StabilityFailures)
	}

	data, err := os.ReadFile(item.SourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.vanish(logger, item)
		}
		c.fail(ctx, logger, item, services.KindWriteFailure, "read source: "+err.Error())
		return false
	}
	if len(data) == 0 {
		// Truncated between the last stable sample and the read.
		item.StabilityFailures++
		if item.StabilityFailures > c.opts.MaxStabilityRetries {
			c.fail(ctx, logger, item, services.KindTimedOut, "source is empty")
			return false
		}
		return c.retry(logger, item, services.KindTimedOut, item.StabilityFailures)
	}

	// Deciding
	ctx = services.WithStage(ctx, string(StageDeciding))
	c.advance(ctx, logger, item, StageDeciding)
	started := time.Now()
	angle, err := c.decider.Decide(ctx, decider.Image{Name: item.SourcePath, Data: data})
	if err == nil && !angle.Valid() {
		err = services.Wrap(services.ErrDecision, "decide", "validate", fmt.Sprintf("decider returned %d degrees", int(angle)), nil)
	}
	if err != nil {
		if ctx.Err() != nil {
			return c.interrupt(logger, item)
		}
		item.DecisionFailures++
		logger.Debug("decision attempt failed", logging.Error(err), logging.Int("decision_failures", item.DecisionFailures))
		if item.DecisionFailures > c.opts.MaxDecisionRetries {
			c.fail(ctx, logger, item, services.KindDecisionFailure, err.Error())
			return false
		}
		return c.retry(logger, item, services.KindDecisionFailure, item.DecisionFailures)
	}
	logger.Debug("orientation decided",
		logging.Int(logging.FieldAngle, int(angle)),
		logging.Duration("decision_time", time.Since(started)),
	)

	// Writing
	ctx = services.WithStage(ctx, string(StageWriting))
	c.advance(ctx, logger, item, StageWriting)
	artifact, err := c.writer.Apply(ctx, rotator.Request{
		SourcePath:   item.SourcePath,
		RelativePath: item.RelativePath,
		Data:         data,
		Angle:        angle,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled before the rename, so nothing is visible at the destination.
			return c.interrupt(logger, item)
		}
		kind := services.FailureKind(err)
		if kind == services.KindUnknown {
			kind = services.KindWriteFailure
		}
		c.fail(ctx, logger, item, kind, err.Error())
		return false
	}
	if artifact.DispositionErr != nil {
		logging.WarnWithContext(logger, "output written but source was not disposed of",
			"source_disposition_failed",
			logging.Error(artifact.DispositionErr),
			logging.String("destination", artifact.DestinationPath),
			logging.String(logging.FieldErrorHint, "check permissions on the input and archive directories"),
			logging.String(logging.FieldImpact, "source will be reprocessed if it is recreated or the ledger is reset"),
		)
	}

	if err := c.ledger.MarkDone(ctx, item.SourcePath, artifact.DestinationPath); err != nil {
		logger.Error("ledger rejected completion", logging.Error(err))
	}
	item.Stage = StageCompleted
	c.stats.completed.Add(1)
	logger.Info("image corrected",
		logging.String("destination", artifact.DestinationPath),
		logging.Int(logging.FieldAngle, int(artifact.Angle)),
		logging.Bool("passthrough", artifact.Passthrough),
		logging.Int("bytes", artifact.Bytes),
		logging.Duration("elapsed", time.Since(item.DiscoveredAt)),
	)
	return false
}

func (c *Coordinator) advance(ctx context.Context, logger *slog.Logger, item *WorkItem, stage Stage) {
	item.Stage = stage
	if logger.Enabled(ctx, slog.LevelDebug) {
		logger.Debug("stage entered", logging.String(logging.FieldStage, string(stage)))
	}
}

func (c *Coordinator) retry(logger *slog.Logger, item *WorkItem, kind string, failures int) bool {
	if err := c.ledger.Requeue(item.SourcePath); err != nil {
		logger.Error("ledger rejected requeue", logging.Error(err))
		return false
	}
	delay := c.backoff(failures)
	item.Stage = StageDiscovered
	logger.Info("item requeued",
		logging.String(logging.FieldFailureKind, kind),
		logging.Int("failures", failures),
		logging.Duration("backoff", delay),
	)
	c.scheduleRetry(item, delay)
	return true
}

func (c *Coordinator) fail(ctx context.Context, logger *slog.Logger, item *WorkItem, kind, reason string) {
	item.Stage = StageFailed
	c.stats.failed.Add(1)
	if err := c.ledger.MarkFailed(ctx, item.SourcePath, kind, strings.TrimSpace(reason)); err != nil {
		logger.Error("ledger rejected failure", logging.Error(err))
	}
	logging.ErrorWithContext(logger, "image failed",
		"item_failed",
		logging.String(logging.FieldFailureKind, kind),
		logging.String("reason", strings.TrimSpace(reason)),
		logging.Alert("item_failed"),
		logging.String(logging.FieldErrorHint, failureHint(kind)),
	)
}

func (c *Coordinator) vanish(logger *slog.Logger, item *WorkItem) bool {
	c.ledger.Forget(item.SourcePath)
	c.stats.vanished.Add(1)
	logger.Info("source vanished before processing", logging.String(logging.FieldFailureKind, services.KindVanished))
	return false
}

// interrupt abandons an item cancelled by shutdown. Nothing was written, so
// the next run picks the source up again.
func (c *Coordinator) interrupt(logger *slog.Logger, item *WorkItem) bool {
	c.ledger.Forget(item.SourcePath)
	c.stats.interrupted.Add(1)
	logger.Info("item interrupted by shutdown", logging.String(logging.FieldStage, string(item.Stage)))
	return false
}

func failureHint(kind string) string {
	switch kind {
	case services.KindTimedOut:
		return "the file kept changing; check the producer or raise pipeline.stability_max_wait_seconds"
	case services.KindDecisionFailure:
		return "run upright check to verify the decider"
	case services.KindDestinationExists:
		return "remove the existing output or enable pipeline.overwrite_existing"
	case services.KindWriteFailure:
		return "check the image is valid and the output directory is writable"
	default:
		return "check logs for details"
	}
}
