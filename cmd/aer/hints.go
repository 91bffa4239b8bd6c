package main

import (
	"context"
	"errors"

	"aer/internal/assets"
	"aer/internal/download"
	"aer/internal/history"
	"aer/internal/manifest"
	"aer/internal/services"
	"aer/internal/worker"
)

// errorHint maps a command failure to a short next step.
func errorHint(err error) string {
	var remote *worker.RemoteError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, worker.ErrWorkerUnavailable):
		return "install the worker or point worker.binary (or AER_WORKER_BINARY) at it"
	case errors.Is(err, worker.ErrNotRunning):
		return "set worker.auto_start = true or start the worker first"
	case errors.Is(err, worker.ErrWorkerExited):
		return "the worker exited mid-call; rerun with --log-level debug to see its stderr"
	case errors.As(err, &remote):
		return services.Hint(services.ErrExternalTool)
	case errors.Is(err, context.DeadlineExceeded):
		return services.Hint(services.ErrTimeout)
	case errors.Is(err, assets.ErrUnknownAsset):
		return services.Hint(services.ErrNotFound)
	case errors.Is(err, assets.ErrNotInstalled):
		return "run `aer assets download <id>` first"
	case errors.Is(err, download.ErrInProgress):
		return "another download of this asset is running; wait for it to finish"
	case errors.Is(err, manifest.ErrLocked):
		return "another provision run holds the lock; wait for it to finish"
	case errors.Is(err, manifest.ErrChecksumMismatch):
		return "the upstream file changed; verify the source and update the manifest sha256"
	case errors.Is(err, history.ErrSchemaMismatch):
		return "delete the history database to reset it"
	default:
		return services.Hint(err)
	}
}
