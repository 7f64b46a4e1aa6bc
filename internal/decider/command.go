package decider

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"upright/internal/deps"
	"upright/internal/logging"
	"upright/internal/services"
)

// Placeholders substituted in command arguments.
const (
	placeholderModel  = "{model}"
	placeholderSchema = "{schema}"
	placeholderPrompt = "{prompt}"
	placeholderPath   = "{path}"
)

// CommandConfig configures a subprocess decider.
type CommandConfig struct {
	Command string
	Args    []string
	Model   string
	Prompt  string
	Timeout time.Duration
}

// Command runs an external program per decision. When an argument contains
// {path}, the image bytes are written to a temporary file whose path is
// substituted; otherwise the bytes are piped to stdin. The program must print
// a JSON object with a rotation field on stdout and exit zero.
type Command struct {
	cfg    CommandConfig
	logger *slog.Logger
	tmpDir string
}

// NewCommand constructs a subprocess decider.
func NewCommand(cfg CommandConfig, logger *slog.Logger) *Command {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &Command{cfg: cfg, logger: logging.NewComponentLogger(logger, "decider.command")}
}

// Decide runs the configured command for one image.
func (c *Command) Decide(ctx context.Context, img Image) (Angle, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var imagePath string
	if c.wantsPath() {
		path, cleanup, err := c.writeTemp(img)
		if err != nil {
			return 0, decisionError("command", "stage image for decider", err)
		}
		defer cleanup()
		imagePath = path
	}

	args := c.expandArgs(imagePath)
	cmd := exec.CommandContext(ctx, c.cfg.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grandchildren may keep the output pipes open after a kill.
	cmd.WaitDelay = time.Second
	if imagePath == "" {
		cmd.Stdin = bytes.NewReader(img.Data)
	}

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("decider command finished",
		logging.String("command", c.cfg.Command),
		logging.String("image", img.Name),
		logging.Duration("elapsed", time.Since(start)),
	)
	if ctx.Err() == context.DeadlineExceeded {
		return 0, decisionError("command", fmt.Sprintf("timed out after %s", c.cfg.Timeout), ctx.Err())
	}
	if err != nil {
		detail := snippet(stderr.String())
		return 0, decisionError("command", fmt.Sprintf("%s failed (stderr: %s)", c.cfg.Command, detail), err)
	}

	angle, err := parseRotation(stdout.String())
	if err != nil {
		return 0, decisionError("command", "parse output", err)
	}
	return angle, nil
}

// HealthCheck verifies the command is on PATH.
func (c *Command) HealthCheck(context.Context) error {
	status := deps.Check(deps.Requirement{
		Name:        "orientation decider",
		Command:     c.cfg.Command,
		Description: "returns the clockwise correction for an image",
	})
	if err := status.Err(); err != nil {
		return services.Wrap(services.ErrExternalTool, "decider", "health", status.Detail, nil)
	}
	return nil
}

func (c *Command) wantsPath() bool {
	for _, arg := range c.cfg.Args {
		if strings.Contains(arg, placeholderPath) {
			return true
		}
	}
	return false
}

func (c *Command) expandArgs(imagePath string) []string {
	replacer := strings.NewReplacer(
		placeholderModel, c.cfg.Model,
		placeholderSchema, rotationSchema,
		placeholderPrompt, c.cfg.Prompt,
		placeholderPath, imagePath,
	)
	out := make([]string, 0, len(c.cfg.Args))
	for _, arg := range c.cfg.Args {
		out = append(out, replacer.Replace(arg))
	}
	return out
}

// writeTemp stores the bytes in a private file named with the source
// extension so runners that sniff by suffix accept it.
func (c *Command) writeTemp(img Image) (string, func(), error) {
	file, err := os.CreateTemp(c.tmpDir, "upright-decide-*"+strings.ToLower(filepath.Ext(img.Name)))
	if err != nil {
		return "", func() {}, err
	}
	path := file.Name()
	cleanup := func() { _ = os.Remove(path) }
	if _, err := file.Write(img.Data); err != nil {
		file.Close()
		cleanup()
		return "", func() {}, err
	}
	if err := file.Close(); err != nil {
		cleanup()
		return "", func() {}, err
	}
	return path, cleanup, nil
}
