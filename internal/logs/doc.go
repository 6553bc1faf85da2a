// Package logs reads the daemon log file for the CLI and the HTTP API.
//
// Tail returns either the last N lines (negative offset) or everything after
// a byte offset, optionally filtered to lines mentioning one job id. Follow
// mode polls until new lines arrive or the wait elapses, so callers can loop
// on the returned offset to stream the file with bounded memory.
package logs
