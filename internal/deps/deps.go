package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Requirement names a helper binary the worker may shell out to.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// Sidecar marks binaries the worker looks for in its own directory
	// before falling back to PATH.
	Sidecar bool
}

// Status is the resolved availability of one Requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Check resolves each requirement the way the worker at workerBinary would.
func Check(workerBinary string, requirements []Requirement) []Status {
	workerDir := ""
	if worker := strings.TrimSpace(workerBinary); worker != "" {
		if resolved, err := exec.LookPath(worker); err == nil {
			workerDir = filepath.Dir(resolved)
		}
	}

	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, resolve(req, workerDir))
	}
	return results
}

func resolve(req Requirement, workerDir string) Status {
	cmd := strings.TrimSpace(req.Command)
	status := Status{
		Name:        req.Name,
		Command:     cmd,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if cmd == "" {
		status.Detail = "command not configured"
		return status
	}

	if req.Sidecar && workerDir != "" && !filepath.IsAbs(cmd) {
		candidate := filepath.Join(workerDir, executableName(cmd))
		if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
			status.Command = candidate
			status.Available = true
			return status
		}
	}

	resolved, err := exec.LookPath(cmd)
	if err != nil {
		if req.Sidecar {
			status.Detail = fmt.Sprintf("binary %q not found beside the worker or on PATH", cmd)
		} else {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
		}
		return status
	}
	status.Command = resolved
	status.Available = true
	return status
}

func executableName(name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(strings.ToLower(name), ".exe") {
		return name + ".exe"
	}
	return name
}

func isExecutable(info os.FileInfo) bool {
	if info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
