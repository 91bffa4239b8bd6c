package worker

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ResolveBinary returns the executable path for binary. Names without a path
// separator are looked up on PATH; anything else must exist as a regular file.
// Failures wrap ErrWorkerUnavailable and name the expected location.
func ResolveBinary(binary string) (string, error) {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return "", fmt.Errorf("%w: no worker binary configured", ErrWorkerUnavailable)
	}
	if !strings.ContainsAny(binary, `/\`) {
		path, err := exec.LookPath(binary)
		if err != nil {
			return "", fmt.Errorf("%w: %s not found on PATH", ErrWorkerUnavailable, binary)
		}
		return path, nil
	}
	path, err := filepath.Abs(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrWorkerUnavailable, binary, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: expected worker at %s", ErrWorkerUnavailable, path)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrWorkerUnavailable, path)
	}
	return path, nil
}
