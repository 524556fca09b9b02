// Package rpc contains everything dStor needs to talk to its two remote peers,
// the page server and the safekeeper.
//
// The package is organized into several subpackages:
//
//   - common: Core data structures and utilities used across the RPC system,
//     including the Message protocol of the safekeeper, configuration structures
//     and logging.
//
//   - transport: Network communication abstractions. The safekeeper protocol runs on
//     framed byte streams (TCP, Unix sockets), the page server is reached over HTTP.
//
//   - serializer: Message serialization with multiple format options (Binary, JSON, GOB)
//     for converting between Message objects and byte arrays.
//
//   - client: the page server client and the safekeeper client, implementing the
//     interfaces of lib/remote.
//
//   - server: in-memory reference implementations of both peers, used by tests and
//     by the serve command.
package rpc
