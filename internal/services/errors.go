package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrExternalTool      = errors.New("external tool error")
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found")
	ErrTimeout           = errors.New("timeout")
	ErrTransient         = errors.New("transient failure")
	ErrVanished          = errors.New("source vanished")
	ErrDecision          = errors.New("decision failure")
	ErrWrite             = errors.New("write failure")
	ErrDestinationExists = errors.New("destination exists")
)

// Failure kinds reported for terminal and retried items.
const (
	KindTimedOut          = "TimedOut"
	KindVanished          = "Vanished"
	KindDecisionFailure   = "DecisionFailure"
	KindWriteFailure      = "WriteFailure"
	KindDestinationExists = "DestinationExists"
	KindUnknown           = "Unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureKind maps a stage error to the failure kind name used in logs and
// the journal.
func FailureKind(err error) string {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrDestinationExists):
		return KindDestinationExists
	case errors.Is(err, ErrVanished):
		return KindVanished
	case errors.Is(err, ErrTimeout):
		return KindTimedOut
	case errors.Is(err, ErrDecision):
		return KindDecisionFailure
	case errors.Is(err, ErrWrite):
		return KindWriteFailure
	default:
		return KindUnknown
	}
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
