package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names an executable upright shells out to: the command
// decider or the HEIF converter.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status is the outcome of resolving one Requirement on PATH.
type Status struct {
	Requirement
	// Path is the resolved executable, set when Available.
	Path      string
	Available bool
	Detail    string
}

// Check resolves a single requirement.
func Check(req Requirement) Status {
	req.Command = strings.TrimSpace(req.Command)
	req.Description = strings.TrimSpace(req.Description)
	status := Status{Requirement: req}
	if req.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	path, err := exec.LookPath(req.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		return status
	}
	status.Path = path
	status.Available = true
	return status
}

// CheckBinaries resolves each requirement in order.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, Check(req))
	}
	return results
}

// Err returns nil when the requirement can be used. A missing optional
// requirement is not an error.
func (s Status) Err() error {
	if s.Available || s.Optional {
		return nil
	}
	return fmt.Errorf("%s: %s", s.Name, s.Detail)
}
