// Package base implements the transport logic shared by the tcp and unix
// transports of the safekeeper stream.
//
// Frame format (all integers big endian):
//
//	| 8 bytes timeline id | 8 bytes request id | 4 bytes length | payload |
//
// The client keeps exactly one connection and one request in flight. Responses
// are matched against the request id and timeline id of the request. Any error
// during a round trip closes the connection; the next Send dials again.
//
// The server handles the frames of a connection sequentially, so a handler sees
// the records of one writer in the order they were sent.
package base
