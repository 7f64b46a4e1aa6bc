package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"upright/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Input and output roots exist; timing is shortened so pipelines settle fast
// and the decider is fixed at 0 degrees.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.InputDir = filepath.Join(base, "input")
	cfgVal.Paths.OutputDir = filepath.Join(base, "output")
	cfgVal.Paths.ArchiveDir = filepath.Join(base, "archive")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Pipeline.StabilityIntervalMillis = 10
	cfgVal.Pipeline.StabilitySamples = 2
	cfgVal.Pipeline.StabilityMaxWaitSeconds = 2
	cfgVal.Pipeline.RetryBackoffMillis = 10
	cfgVal.Pipeline.RetryBackoffMaxMillis = 50
	cfgVal.Pipeline.ShutdownGraceSeconds = 5
	cfgVal.Decider.Kind = config.DeciderFixed
	cfgVal.Decider.FixedAngle = 0

	for _, dir := range []string{cfgVal.Paths.InputDir, cfgVal.Paths.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithFixedAngle selects the fixed decider with the given angle.
func WithFixedAngle(angle int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Decider.Kind = config.DeciderFixed
		b.cfg.Decider.FixedAngle = angle
	}
}

// WithArchive moves processed sources into the archive directory.
func WithArchive() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.SourceDisposition = config.DispositionArchive
	}
}

// WithJournal enables the SQLite journal under the state directory.
func WithJournal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Journal.Enabled = true
		b.cfg.Journal.Path = filepath.Join(b.cfg.Paths.StateDir, "journal.db")
	}
}

// WithHEIFConverter points HEIC/HEIF rotation at command with args. An
// empty command disables the converter.
func WithHEIFConverter(command string, args ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.HEIF.Command = command
		b.cfg.HEIF.Args = args
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, the default decider command is
// stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{b.cfg.Decider.Command}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\necho '{\"rotation\":\"0\"}'\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.InputDir)
}
