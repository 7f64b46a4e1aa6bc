package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateDecider(); err != nil {
		return err
	}
	return nil
}

// ValidateRun checks the settings that only matter when the pipeline runs:
// both roots must be present, distinct, and not nested in one another.
func (c *Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Paths.InputDir == "" {
		return errors.New("paths.input_dir is required (set it in the config file or pass --input)")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir is required (set it in the config file or pass --output)")
	}
	if c.Paths.InputDir == c.Paths.OutputDir {
		return errors.New("paths.input_dir and paths.output_dir must differ")
	}
	if isWithin(c.Paths.InputDir, c.Paths.OutputDir) || isWithin(c.Paths.OutputDir, c.Paths.InputDir) {
		return errors.New("paths.input_dir and paths.output_dir must not be nested inside one another")
	}
	if c.ArchiveEnabled() {
		if c.Paths.ArchiveDir == "" {
			return errors.New("paths.archive_dir must be set when pipeline.source_disposition is archive")
		}
		if c.Paths.ArchiveDir == c.Paths.InputDir || isWithin(c.Paths.InputDir, c.Paths.ArchiveDir) {
			return errors.New("paths.archive_dir must be outside paths.input_dir")
		}
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if err := ensurePositive(
		intSetting{"pipeline.workers", c.Pipeline.Workers},
		intSetting{"pipeline.stability_interval_ms", c.Pipeline.StabilityIntervalMillis},
		intSetting{"pipeline.stability_samples", c.Pipeline.StabilitySamples},
		intSetting{"pipeline.stability_max_wait_seconds", c.Pipeline.StabilityMaxWaitSeconds},
	); err != nil {
		return err
	}
	if c.StabilityInterval() >= c.StabilityMaxWait() {
		return errors.New("pipeline.stability_max_wait_seconds must exceed pipeline.stability_interval_ms")
	}
	switch c.Pipeline.SourceDisposition {
	case DispositionDelete, DispositionArchive:
	default:
		return fmt.Errorf("pipeline.source_disposition: unsupported value %q (use delete or archive)", c.Pipeline.SourceDisposition)
	}
	return nil
}

func (c *Config) validateDecider() error {
	switch c.Decider.Kind {
	case DeciderCommand:
		if strings.TrimSpace(c.Decider.Command) == "" {
			return errors.New("decider.command must be set when decider.kind is command")
		}
	case DeciderOllama, DeciderHTTP:
		if strings.TrimSpace(c.Decider.BaseURL) == "" {
			return fmt.Errorf("decider.base_url must be set when decider.kind is %s", c.Decider.Kind)
		}
	case DeciderFixed:
		switch c.Decider.FixedAngle {
		case 0, 90, 180, 270:
		default:
			return fmt.Errorf("decider.fixed_angle must be one of 0, 90, 180, 270 (got %d)", c.Decider.FixedAngle)
		}
	default:
		return fmt.Errorf("decider.kind: unsupported value %q", c.Decider.Kind)
	}
	return nil
}

type intSetting struct {
	key   string
	value int
}

func ensurePositive(values ...intSetting) error {
	for _, v := range values {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive", v.key)
		}
	}
	return nil
}

// isWithin reports whether child lies strictly inside parent.
func isWithin(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
