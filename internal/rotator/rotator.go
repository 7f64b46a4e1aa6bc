// Package rotator applies an orientation decision to a source image, writes
// the result under the output root with an atomic rename, and only then
// deletes or archives the source.
package rotator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"upright/internal/config"
	"upright/internal/decider"
	"upright/internal/fileutil"
	"upright/internal/imagecodec"
	"upright/internal/imagefmt"
	"upright/internal/logging"
	"upright/internal/services"
)

// Options configures a Writer.
type Options struct {
	OutputRoot  string
	ArchiveRoot string
	// Disposition is config.DispositionDelete or config.DispositionArchive.
	Disposition string
	Overwrite   bool
	Codec       imagecodec.Options

	// HEIF rotates formats without an in-process codec.
	HEIF imagecodec.External
}

// OptionsFromConfig derives writer options from application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		OutputRoot:  cfg.Paths.OutputDir,
		ArchiveRoot: cfg.Paths.ArchiveDir,
		Disposition: cfg.Pipeline.SourceDisposition,
		Overwrite:   cfg.Pipeline.OverwriteExisting,
		Codec: imagecodec.Options{
			JPEGQuality:   cfg.Pipeline.JPEGQuality,
			NormalizeEXIF: cfg.Pipeline.NormalizeEXIF,
		},
		HEIF: imagecodec.External{
			Command: cfg.HEIF.Command,
			Args:    cfg.HEIF.Args,
			Timeout: cfg.HEIFTimeout(),
		},
	}
}

// Request describes one write.
type Request struct {
	SourcePath   string
	RelativePath string
	// Data holds the source bytes that were shown to the decider.
	Data  []byte
	Angle decider.Angle
}

// Artifact describes a completed write.
type Artifact struct {
	SourcePath      string
	DestinationPath string
	ArchivePath     string
	Angle           decider.Angle
	Bytes           int
	// Passthrough is true when the source bytes were copied unchanged.
	Passthrough bool
	// DispositionErr is set when the output was written but the source could
	// not be removed or archived.
	DispositionErr error
}

// Writer is stateless apart from directory creation bookkeeping and is safe
// for concurrent use.
type Writer struct {
	opts   Options
	dirs   fileutil.DirMaker
	logger *slog.Logger
}

// New constructs a Writer.
func New(opts Options, logger *slog.Logger) *Writer {
	if opts.Disposition == "" {
		opts.Disposition = config.DispositionDelete
	}
	return &Writer{opts: opts, logger: logging.NewComponentLogger(logger, "rotator")}
}

// Apply writes the corrected image. Any error leaves the source untouched and
// no file at the destination path. Errors wrap services.ErrWrite, or
// services.ErrDestinationExists when overwriting is disabled.
func (w *Writer) Apply(ctx context.Context, req Request) (Artifact, error) {
	if !req.Angle.Valid() {
		return Artifact{}, writeError("validate", fmt.Sprintf("invalid angle %d", req.Angle), nil)
	}
	rel := filepath.Clean(req.RelativePath)
	if rel == "." || filepath.IsAbs(rel) || !filepath.IsLocal(rel) {
		return Artifact{}, writeError("validate", fmt.Sprintf("relative path %q escapes output root", req.RelativePath), nil)
	}
	dst := filepath.Join(w.opts.OutputRoot, rel)
	artifact := Artifact{SourcePath: req.SourcePath, DestinationPath: dst, Angle: req.Angle}

	if !w.opts.Overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return artifact, destinationExists(dst, nil)
		}
	}

	payload := req.Data
	if req.Angle == decider.Angle0 {
		artifact.Passthrough = true
	} else {
		rotated, err := w.transform(ctx, req)
		if err != nil {
			return artifact, writeError("transform", "rotate image", err)
		}
		payload = rotated
	}
	artifact.Bytes = len(payload)

	if err := w.dirs.Ensure(filepath.Dir(dst)); err != nil {
		return artifact, writeError("mkdir", "create output directory", err)
	}
	if err := fileutil.WriteFileAtomic(dst, payload, sourceMode(req.SourcePath), w.opts.Overwrite); err != nil {
		if errors.Is(err, fileutil.ErrExists) {
			return artifact, destinationExists(dst, err)
		}
		return artifact, writeError("write", "atomic write", err)
	}

	logging.WithContext(ctx, w.logger).Debug("output written",
		logging.String("destination", dst),
		logging.Int(logging.FieldAngle, int(req.Angle)),
		logging.Bool("passthrough", artifact.Passthrough),
	)

	artifact.ArchivePath, artifact.DispositionErr = w.dispose(req.SourcePath, rel)
	return artifact, nil
}

func (w *Writer) transform(ctx context.Context, req Request) ([]byte, error) {
	format := imagefmt.Detect(req.SourcePath)
	if format == imagefmt.HEIC {
		return w.opts.HEIF.Rotate(ctx, req.Data, strings.ToLower(filepath.Ext(req.SourcePath)), int(req.Angle))
	}
	return imagecodec.Rotate(req.Data, format, int(req.Angle), w.opts.Codec)
}

func (w *Writer) dispose(src, rel string) (string, error) {
	switch w.opts.Disposition {
	case config.DispositionArchive:
		target := filepath.Join(w.opts.ArchiveRoot, rel)
		if err := fileutil.MoveFile(src, target); err != nil {
			return "", fmt.Errorf("archive source: %w", err)
		}
		return target, nil
	default:
		if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("remove source: %w", err)
		}
		return "", nil
	}
}

func sourceMode(path string) os.FileMode {
	info, err := os.Stat(path)
	if err != nil {
		return 0o644
	}
	return info.Mode().Perm() | 0o200
}

func writeError(op, msg string, err error) error {
	return services.Wrap(services.ErrWrite, "rotator", op, msg, err)
}

func destinationExists(dst string, err error) error {
	return services.Wrap(services.ErrDestinationExists, "rotator", "write", dst+" already exists", err)
}
