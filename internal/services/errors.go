package services

import (
	"errors"
	"strings"
)

var (
	ErrExternalTool  = errors.New("external tool error")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
	ErrTransient     = errors.New("transient failure")
)

// Error is a classified failure raised by one of aer's components. Marker is
// one of the sentinels above; Err is the underlying cause, if any.
type Error struct {
	Marker    error
	Component string
	Operation string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Marker.Error())
	b.WriteString(": ")
	b.WriteString(e.detail())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the marker and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Err}
}

func (e *Error) detail() string {
	var parts []string
	for _, p := range []string{e.Component, e.Operation, e.Message} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// Wrap tags err with marker and the component/operation it came from. A nil
// marker is treated as ErrTransient.
func Wrap(marker error, component, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &Error{
		Marker:    marker,
		Component: component,
		Operation: operation,
		Message:   message,
		Err:       err,
	}
}

// Hint maps a tagged error to a short next step for CLI output. An empty
// string means no specific advice applies.
func Hint(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return "check the config file (aer config show) and the worker binary path"
	case errors.Is(err, ErrNotFound):
		return "run `aer assets list` to see known asset ids"
	case errors.Is(err, ErrValidation):
		return "check the command arguments"
	case errors.Is(err, ErrTimeout):
		return "the worker did not answer in time; raise worker.call_timeout_seconds or restart it"
	case errors.Is(err, ErrExternalTool):
		return "inspect the worker log output above"
	case errors.Is(err, ErrTransient):
		return "retry the command"
	default:
		return ""
	}
}
