// Package unix implements the safekeeper stream over Unix domain sockets, for
// a log keeper running on the same machine.
//
// The listener replaces a socket file left behind by a previous log keeper but
// never removes a regular file at the configured path.
package unix
