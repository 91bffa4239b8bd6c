package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"aer/internal/assets"
	"aer/internal/config"
	"aer/internal/deps"
	"aer/internal/worker"
)

const pingTimeout = 10 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
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
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCreatableDirectory passes when path is an accessible directory or
// when its nearest existing ancestor would let aer create it.
func CheckCreatableDirectory(name, path string) Result {
	if _, err := os.Stat(path); err == nil || !os.IsNotExist(err) {
		return CheckDirectoryAccess(name, path)
	}
	parent := filepath.Dir(path)
	for {
		if _, err := os.Stat(parent); err == nil {
			break
		}
		next := filepath.Dir(parent)
		if next == parent {
			break
		}
		parent = next
	}
	if err := unix.Access(parent, unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: cannot create under %s: %v)", path, parent, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (will be created)", path)}
}

// CheckWorkerBinary verifies the worker executable resolves and is executable.
func CheckWorkerBinary(binary string) Result {
	const name = "Worker binary"
	resolved, err := worker.ResolveBinary(binary)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if err := unix.Access(resolved, unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not executable: %v)", resolved, err)}
	}
	return Result{Name: name, Passed: true, Detail: resolved}
}

// CheckRequiredAssets reports whether every required catalog entry is
// installed and complete.
func CheckRequiredAssets(store *assets.Store) Result {
	const name = "Required assets"
	if store == nil {
		return Result{Name: name, Detail: "asset store unavailable"}
	}
	installed, err := store.ListInstalled()
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("list installed: %v", err)}
	}
	complete := make(map[string]bool, len(installed))
	for _, a := range installed {
		complete[a.ID] = a.Complete
	}
	var missing []string
	for _, d := range store.Catalog().Required() {
		if !complete[d.ID] {
			missing = append(missing, d.ID)
		}
	}
	if len(missing) > 0 {
		return Result{Name: name, Detail: "missing: " + strings.Join(missing, ", ")}
	}
	return Result{Name: name, Passed: true, Detail: "all installed"}
}

// CheckWorkerPing starts the worker if needed and sends a ping.
func CheckWorkerPing(ctx context.Context, client *worker.Client) Result {
	const name = "Worker ping"
	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	res, err := client.Ping(checkCtx)
	if err != nil {
		return Result{Name: name, Detail: summarizeWorkerError(err)}
	}
	detail := strings.TrimSpace(res.Message)
	if detail == "" {
		detail = "ok"
	}
	if res.GPUEnabled {
		detail = fmt.Sprintf("%s (gpu: %s)", detail, res.GPUName)
	} else {
		detail += " (cpu only)"
	}
	return Result{Name: name, Passed: true, Detail: detail}
}

// CheckSystemDeps evaluates the helper binaries the worker may call.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.Check(cfg.Worker.Binary, []deps.Requirement{
		{
			Name:        "ffmpeg",
			Command:     "ffmpeg",
			Description: "Decodes non-WAV input for transcription",
			Optional:    true,
			Sidecar:     true,
		},
		{
			Name:        "whisper-cli",
			Command:     "whisper-cli",
			Description: "Reference CLI for comparing transcripts",
			Optional:    true,
		},
	})
}

func summarizeWorkerError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "ping timed out (worker unresponsive)"
	case errors.Is(err, worker.ErrWorkerUnavailable):
		return err.Error()
	case errors.Is(err, worker.ErrWorkerExited):
		return "worker exited during ping"
	default:
		return err.Error()
	}
}
