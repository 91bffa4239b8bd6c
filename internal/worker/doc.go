// Package worker supervises the external compute worker process.
//
// A Supervisor spawns the worker on demand, speaks the newline-delimited JSON
// protocol from package rpc over its stdin and stdout, correlates responses
// to pending calls by id, fans unsolicited events out to listeners, and
// forwards stderr to the logger. When the process ends every pending call is
// rejected with ErrWorkerExited; the next Call starts a fresh process when
// auto-start is enabled.
//
// Client layers typed ping, list_devices, smoke_test, and transcribe methods
// over any Caller.
package worker
