// Package download moves catalog assets from HTTP servers onto disk.
//
// Fetcher is the streaming primitive: it follows redirects itself (resolving
// relative Location headers against the current URL), writes into a
// ".download" temp file beside the destination, and renames it into place only
// after the body is complete and any verification hook passes. Manager layers
// a per-asset registry on top so each id has at most one transfer in flight
// and Cancel can abort it.
package download
