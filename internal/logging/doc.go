// Package logging builds the slog loggers used across aer.
//
// Output is either the console handler (aligned key=value lines) or JSON,
// written to stdout and optionally a log file. Field keys such as asset_id,
// session_id, and request_id are fixed here so downstream filtering sees one
// vocabulary. NewNop serves tests and wiring code that cannot fail.
package logging
