// Package history records download attempts in a SQLite database under the
// state directory so `aer assets history` can show what was fetched, when,
// and how each transfer ended.
package history
