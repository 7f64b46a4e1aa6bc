package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizePipeline()
	if err := c.normalizeDecider(); err != nil {
		return err
	}
	c.normalizeHEIF()
	if err := c.normalizeJournal(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.InputDir, err = expandPath(strings.TrimSpace(c.Paths.InputDir)); err != nil {
		return fmt.Errorf("paths.input_dir: %w", err)
	}
	if c.Paths.OutputDir, err = expandPath(strings.TrimSpace(c.Paths.OutputDir)); err != nil {
		return fmt.Errorf("paths.output_dir: %w", err)
	}
	if c.Paths.ArchiveDir, err = expandPath(strings.TrimSpace(c.Paths.ArchiveDir)); err != nil {
		return fmt.Errorf("paths.archive_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizePipeline() {
	p := &c.Pipeline
	p.SourceDisposition = strings.ToLower(strings.TrimSpace(p.SourceDisposition))
	if p.SourceDisposition == "" {
		p.SourceDisposition = DispositionDelete
	}
	if p.QueueWarnSize <= 0 {
		p.QueueWarnSize = defaultQueueWarnSize
	}
	if p.MaxStabilityRetries < 0 {
		p.MaxStabilityRetries = 0
	}
	if p.MaxDecisionRetries < 0 {
		p.MaxDecisionRetries = 0
	}
	if p.RetryBackoffMillis < 0 {
		p.RetryBackoffMillis = 0
	}
	if p.RetryBackoffMaxMillis < p.RetryBackoffMillis {
		p.RetryBackoffMaxMillis = p.RetryBackoffMillis
	}
	if p.ShutdownGraceSeconds < 0 {
		p.ShutdownGraceSeconds = 0
	}
	if p.JPEGQuality <= 0 {
		p.JPEGQuality = defaultJPEGQuality
	}
	if p.JPEGQuality > 100 {
		p.JPEGQuality = 100
	}
}

func (c *Config) normalizeDecider() error {
	d := &c.Decider
	d.Kind = strings.ToLower(strings.TrimSpace(d.Kind))
	if d.Kind == "" {
		d.Kind = defaultDeciderKind
	}
	if d.TimeoutSeconds <= 0 {
		d.TimeoutSeconds = defaultDeciderTimeoutSeconds
	}
	if d.TransportAttempts <= 0 {
		d.TransportAttempts = defaultDeciderTransportTries
	}
	d.Command = strings.TrimSpace(d.Command)
	if d.Command == "" {
		d.Command = defaultDeciderCommand
	}
	if len(d.Args) == 0 {
		d.Args = DefaultDeciderArgs()
	}
	d.BaseURL = strings.TrimSpace(d.BaseURL)
	if d.BaseURL == "" && d.Kind == DeciderOllama {
		d.BaseURL = defaultDeciderBaseURL
	}
	d.Model = strings.TrimSpace(d.Model)
	if d.Model == "" {
		d.Model = defaultDeciderModel
	}
	d.Prompt = strings.TrimSpace(d.Prompt)
	if d.Prompt == "" {
		d.Prompt = defaultDeciderPrompt
	}
	d.APIKey = strings.TrimSpace(d.APIKey)
	if d.APIKey == "" {
		if value, ok := os.LookupEnv("UPRIGHT_DECIDER_API_KEY"); ok {
			d.APIKey = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeHEIF() {
	h := &c.HEIF
	h.Command = strings.TrimSpace(h.Command)
	if h.Command != "" && len(h.Args) == 0 {
		h.Args = DefaultHEIFArgs()
	}
	if h.TimeoutSeconds <= 0 {
		h.TimeoutSeconds = defaultHEIFTimeoutSeconds
	}
}

func (c *Config) normalizeJournal() error {
	if strings.TrimSpace(c.Journal.Path) == "" {
		return nil
	}
	var err error
	if c.Journal.Path, err = expandPath(strings.TrimSpace(c.Journal.Path)); err != nil {
		return fmt.Errorf("journal.path: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
