// Package common provides core data structures and utilities shared across
// dStor's RPC layer, clients and reference servers.
//
// The package focuses on:
//   - Message protocol definition for the safekeeper (log keeper) byte stream
//   - Configuration structures for the connection pool, clients and servers
//   - Custom logging implementation integrated with Dragonboat's logger facade
//
// Key Components:
//
//   - Message: One conceptual WAL message, {type, timeline_id, lsn, length, data}
//     for appends and {type, timeline_id} for timeline creation. Responses carry an
//     acknowledgment (Ok), an error string and the committed LSN.
//
//   - MessageType: Enumeration of all supported operations.
//
//   - PoolConfig / ClientConfig / StorageConfig: Everything the core consumes from the
//     configuration layer. Nothing inside the core hard-codes addresses or pool sizes.
//
//   - ServerConfig: Configuration of the in-memory reference peers.
//
//   - Logger: Custom logging implementation that integrates with Dragonboat's
//     logging system while providing consistent formatting across the application.
package common
