// Package main hosts the aer CLI entrypoint and command graph.
//
// The Cobra command tree drives the worker supervisor (ping, device listing,
// smoke tests, transcription), manages the model asset catalog (list,
// download, delete, history, manifest provisioning), scaffolds
// configuration, and runs readiness checks. Configuration and logging are
// resolved once per invocation in commandContext so subcommands only deal
// with presentation.
package main
