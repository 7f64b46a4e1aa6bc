package imagecodec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"upright/internal/deps"
)

// Placeholders substituted in converter arguments.
const (
	placeholderInput   = "{input}"
	placeholderOutput  = "{output}"
	placeholderDegrees = "{degrees}"
)

const defaultExternalTimeout = 2 * time.Minute

// External rotates formats without an in-process codec by running a
// converter such as ImageMagick on temporary copies.
type External struct {
	Command string
	Args    []string
	Timeout time.Duration
	// TempDir holds the per-call working directories. Empty uses the system
	// default.
	TempDir string
}

// Requirement describes the converter for dependency reporting. It is
// optional: without it only rotations of these formats fail.
func (e External) Requirement() deps.Requirement {
	return deps.Requirement{
		Name:        "HEIF converter",
		Command:     e.Command,
		Description: "rotate HEIC/HEIF images",
		Optional:    true,
	}
}

// Available reports whether the converter is configured and on PATH.
func (e External) Available() bool {
	return deps.Check(e.Requirement()).Available
}

// Rotate writes data to a temporary file named with ext, runs the converter,
// and returns the bytes it produced. A missing converter wraps
// ErrUnsupportedCodec.
func (e External) Rotate(ctx context.Context, data []byte, ext string, degrees int) ([]byte, error) {
	if strings.TrimSpace(e.Command) == "" {
		return nil, fmt.Errorf("rotate %s: no converter configured: %w", ext, ErrUnsupportedCodec)
	}
	if !e.Available() {
		return nil, fmt.Errorf("rotate %s: converter %q not found: %w", ext, e.Command, ErrUnsupportedCodec)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultExternalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	work, err := os.MkdirTemp(e.TempDir, "upright-convert-")
	if err != nil {
		return nil, fmt.Errorf("create converter workspace: %w", err)
	}
	defer os.RemoveAll(work)

	input := filepath.Join(work, "source"+ext)
	output := filepath.Join(work, "rotated"+ext)
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return nil, fmt.Errorf("stage converter input: %w", err)
	}

	replacer := strings.NewReplacer(
		placeholderInput, input,
		placeholderOutput, output,
		placeholderDegrees, strconv.Itoa(degrees),
	)
	args := make([]string, 0, len(e.Args))
	for _, arg := range e.Args {
		args = append(args, replacer.Replace(arg))
	}

	cmd := exec.CommandContext(ctx, e.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %s: %w", e.Command, timeout, ctx.Err())
		}
		return nil, fmt.Errorf("%s failed (stderr: %s): %w", e.Command, lastLine(stderr.String()), err)
	}

	rotated, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("read converter output: %w", err)
	}
	if len(rotated) == 0 {
		return nil, fmt.Errorf("%s produced an empty file", e.Command)
	}
	return rotated, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "none"
	}
	if idx := strings.LastIndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
