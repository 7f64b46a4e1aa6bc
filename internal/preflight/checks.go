package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"upright/internal/config"
	"upright/internal/decider"
	"upright/internal/deps"
	"upright/internal/imagecodec"
)

const deciderCheckTimeout = 30 * time.Second

// CheckDecider runs the decider's health check with a bounded timeout.
// Deciders without a health check pass.
func CheckDecider(ctx context.Context, dec decider.Decider) Result {
	const name = "Orientation decider"

	checkCtx, cancel := context.WithTimeout(ctx, deciderCheckTimeout)
	defer cancel()

	if _, ok := dec.(decider.HealthChecker); !ok {
		return Result{Name: name, Passed: true, Detail: "no health check required"}
	}
	if err := decider.HealthCheck(checkCtx, dec); err != nil {
		return Result{Name: name, Detail: summarizeDeciderError(err)}
	}
	return Result{Name: name, Passed: true, Detail: "reachable"}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	return checkDirectory(name, path, unix.R_OK|unix.W_OK|unix.X_OK, "read/write ok")
}

// CheckWritableDirectory verifies that the directory exists and new entries
// can be created in it.
func CheckWritableDirectory(name, path string) Result {
	return checkDirectory(name, path, unix.W_OK|unix.X_OK, "writable")
}

func checkDirectory(name, path string, mode uint32, ok string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, mode); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%s)", path, ok)}
}

const deciderCommandDep = "Decider command"

// CheckSystemDeps evaluates the external binaries the configuration relies
// on: the decider command when that kind is selected, and the optional HEIF
// converter. Both the run command and "upright check" use this list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	if cfg == nil {
		return nil
	}
	var requirements []deps.Requirement
	if cfg.Decider.Kind == config.DeciderCommand {
		requirements = append(requirements, deps.Requirement{
			Name:        deciderCommandDep,
			Command:     cfg.Decider.Command,
			Description: "Required to classify image orientation",
		})
	}
	requirements = append(requirements, heifConverter(cfg).Requirement())
	return deps.CheckBinaries(requirements)
}

func heifConverter(cfg *config.Config) imagecodec.External {
	return imagecodec.External{Command: cfg.HEIF.Command, Args: cfg.HEIF.Args}
}

// dependencyResult reports a missing optional binary as a pass that names
// what stops working.
func dependencyResult(status deps.Status) Result {
	result := Result{Name: status.Name, Passed: status.Available, Detail: status.Command}
	if status.Available {
		return result
	}
	result.Detail = status.Detail
	if status.Optional {
		result.Passed = true
		result.Detail = fmt.Sprintf("%s (optional; needed to: %s)", status.Detail, status.Description)
	}
	return result
}

func summarizeDeciderError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "health check timed out (decider unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "health check timed out (decider unreachable)"
	}
	return err.Error()
}
