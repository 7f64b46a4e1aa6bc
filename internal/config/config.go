package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directory layout the daemon operates on.
type Paths struct {
	InputDir   string `toml:"input_dir" yaml:"input_dir"`
	OutputDir  string `toml:"output_dir" yaml:"output_dir"`
	ArchiveDir string `toml:"archive_dir" yaml:"archive_dir"`
	StateDir   string `toml:"state_dir" yaml:"state_dir"`
	LogDir     string `toml:"log_dir" yaml:"log_dir"`
}

// Pipeline contains scheduling, retry, stability, and output settings.
type Pipeline struct {
	Workers                 int    `toml:"workers" yaml:"workers"`
	QueueWarnSize           int    `toml:"queue_warn_size" yaml:"queue_warn_size"`
	MaxStabilityRetries     int    `toml:"max_stability_retries" yaml:"max_stability_retries"`
	MaxDecisionRetries      int    `toml:"max_decision_retries" yaml:"max_decision_retries"`
	RetryBackoffMillis      int    `toml:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	RetryBackoffMaxMillis   int    `toml:"retry_backoff_max_ms" yaml:"retry_backoff_max_ms"`
	StabilityIntervalMillis int    `toml:"stability_interval_ms" yaml:"stability_interval_ms"`
	StabilitySamples        int    `toml:"stability_samples" yaml:"stability_samples"`
	StabilityMaxWaitSeconds int    `toml:"stability_max_wait_seconds" yaml:"stability_max_wait_seconds"`
	ShutdownGraceSeconds    int    `toml:"shutdown_grace_seconds" yaml:"shutdown_grace_seconds"`
	SourceDisposition       string `toml:"source_disposition" yaml:"source_disposition"`
	OverwriteExisting       bool   `toml:"overwrite_existing" yaml:"overwrite_existing"`
	JPEGQuality             int    `toml:"jpeg_quality" yaml:"jpeg_quality"`
	NormalizeEXIF           bool   `toml:"normalize_exif" yaml:"normalize_exif"`
}

// Decider contains configuration for the orientation decision collaborator.
type Decider struct {
	// Kind selects the implementation: command, ollama, http, or fixed.
	Kind           string   `toml:"kind" yaml:"kind"`
	TimeoutSeconds int      `toml:"timeout_seconds" yaml:"timeout_seconds"`
	Command        string   `toml:"command" yaml:"command"`
	Args           []string `toml:"args" yaml:"args"`
	BaseURL        string   `toml:"base_url" yaml:"base_url"`
	Model          string   `toml:"model" yaml:"model"`
	APIKey         string   `toml:"api_key" yaml:"api_key"`
	Prompt         string   `toml:"prompt" yaml:"prompt"`
	FixedAngle     int      `toml:"fixed_angle" yaml:"fixed_angle"`

	// TransportAttempts bounds HTTP calls inside one decision for the ollama
	// and http kinds. Each pipeline decision retry starts a fresh round, so an
	// item makes at most (1 + max_decision_retries) * transport_attempts calls.
	TransportAttempts int `toml:"transport_attempts" yaml:"transport_attempts"`

	// Invert treats the returned angle as the rotation that was applied to
	// the image and corrects with (360 - angle) % 360.
	Invert bool `toml:"invert" yaml:"invert"`
}

// HEIF configures the external converter used to rotate HEIC/HEIF images,
// which have no in-process codec. Args are expanded per call: {input} and
// {output} are temporary file paths and {degrees} is the clockwise angle.
type HEIF struct {
	Command        string   `toml:"command" yaml:"command"`
	Args           []string `toml:"args" yaml:"args"`
	TimeoutSeconds int      `toml:"timeout_seconds" yaml:"timeout_seconds"`
}

// Journal contains configuration for the optional terminal-state journal.
type Journal struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format" yaml:"format"`
	Level         string `toml:"level" yaml:"level"`
	RetentionDays int    `toml:"retention_days" yaml:"retention_days"`
}

// Config encapsulates all configuration values for upright.
//
// Configuration sections by subsystem:
//   - Paths: input/output roots, archive, state, and log directories
//   - Pipeline: worker pool, retries, stability timing, output policy
//   - Decider: orientation decision collaborator
//   - HEIF: external converter for HEIC/HEIF rotations
//   - Journal: SQLite journal of terminal states
//   - Logging: log format, level, and retention
type Config struct {
	Paths    Paths    `toml:"paths" yaml:"paths"`
	Pipeline Pipeline `toml:"pipeline" yaml:"pipeline"`
	Decider  Decider  `toml:"decider" yaml:"decider"`
	HEIF     HEIF     `toml:"heif" yaml:"heif"`
	Journal  Journal  `toml:"journal" yaml:"journal"`
	Logging  Logging  `toml:"logging" yaml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized. Input and output roots are not required
// here because the CLI may supply them; call ValidateRun once overrides are applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		if err := decode(file, resolvedPath, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func decode(r io.Reader, path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err := yaml.NewDecoder(r).Decode(cfg)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	default:
		return toml.NewDecoder(r).Decode(cfg)
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("upright.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// Normalize re-applies path expansion and clamping after the CLI mutates the
// configuration.
func (c *Config) Normalize() error {
	return c.normalize()
}

// EnsureDirectories creates the directories the daemon writes to. The input
// root is never created: a missing input root is a startup failure.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Paths.StateDir, c.Paths.LogDir}
	if strings.TrimSpace(c.Paths.OutputDir) != "" {
		dirs = append(dirs, c.Paths.OutputDir)
	}
	if c.ArchiveEnabled() {
		dirs = append(dirs, c.Paths.ArchiveDir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ArchiveEnabled reports whether processed sources are moved instead of deleted.
func (c *Config) ArchiveEnabled() bool {
	return c.Pipeline.SourceDisposition == DispositionArchive
}

// JournalPath returns the journal database path.
func (c *Config) JournalPath() string {
	if strings.TrimSpace(c.Journal.Path) != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.Paths.StateDir, "journal.db")
}

// LogPath returns the daemon log file path.
func (c *Config) LogPath() string {
	return filepath.Join(c.Paths.LogDir, "upright.log")
}

// StabilityInterval returns the delay between stability samples.
func (c *Config) StabilityInterval() time.Duration {
	return time.Duration(c.Pipeline.StabilityIntervalMillis) * time.Millisecond
}

// StabilityMaxWait returns the longest a single stability wait may take.
func (c *Config) StabilityMaxWait() time.Duration {
	return time.Duration(c.Pipeline.StabilityMaxWaitSeconds) * time.Second
}

// RetryBackoff returns the base and maximum retry delays.
func (c *Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Pipeline.RetryBackoffMillis) * time.Millisecond,
		time.Duration(c.Pipeline.RetryBackoffMaxMillis) * time.Millisecond
}

// ShutdownGrace returns how long in-flight items may keep running after shutdown starts.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Pipeline.ShutdownGraceSeconds) * time.Second
}

// DeciderTimeout returns the per-call decision timeout.
func (c *Config) DeciderTimeout() time.Duration {
	return time.Duration(c.Decider.TimeoutSeconds) * time.Second
}

// HEIFTimeout bounds one external HEIC/HEIF conversion.
func (c *Config) HEIFTimeout() time.Duration {
	return time.Duration(c.HEIF.TimeoutSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Marshal renders the configuration as TOML.
func (c *Config) Marshal() ([]byte, error) {
	clone := *c
	if clone.Decider.APIKey != "" {
		clone.Decider.APIKey = "********"
	}
	return toml.Marshal(clone)
}
