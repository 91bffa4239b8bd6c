// Package rpc implements the newline-delimited JSON protocol spoken with the
// worker process: request encoding, tagged decoding of requests, responses,
// and events, and line framing over arbitrarily split reads.
package rpc
