package worker

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkerExited rejects calls that were pending when the worker process ended.
	ErrWorkerExited = errors.New("worker exited")
	// ErrWorkerUnavailable reports a worker binary that cannot be found or executed.
	ErrWorkerUnavailable = errors.New("worker binary unavailable")
	// ErrNotRunning is returned by Call when the worker is stopped and auto-start is disabled.
	ErrNotRunning = errors.New("worker not running")
)

const defaultRemoteMessage = "worker returned an error"

// RemoteError carries the error message the worker returned for a call.
type RemoteError struct {
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = defaultRemoteMessage
	}
	if e.Method == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Method, msg)
}
