// Package preflight provides readiness checks for the directories, worker
// binary, and model assets aer depends on.
//
// `aer doctor` renders RunAll plus a live worker ping and the optional
// helper binaries from CheckSystemDeps. Individual checks are exported so
// other commands can reuse them.
package preflight
