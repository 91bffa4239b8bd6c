// Package services holds the error classification and context tagging shared
// by the worker supervisor, the download manager, and the CLI.
//
// Components wrap failures with Wrap and one of the Err* markers; the CLI
// turns the marker into a one-line hint via Hint. WithAssetID and
// WithSessionID stamp a context so logging.WithContext can attach the same
// identifiers to every line a call produces.
package services
