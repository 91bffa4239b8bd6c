// Package manifest provisions runtime files (worker binaries, extra models)
// from a YAML manifest.
//
// Each entry is fetched through download.Fetcher, checked against its
// SHA-256 digest unless the digest is "TBD", optionally gunzipped, and
// optionally marked executable. Entries whose platforms list excludes the
// running OS are skipped, as are entries whose installed file already
// matches. A run holds an exclusive flock on the root so two provisioners
// never write the same tree.
package manifest
