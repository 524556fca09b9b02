// Package remote defines the contracts between dStor's core and the two remote
// services of a compute/storage separated database:
//
//   - the page-serving peer (page server), which answers page reads and manages
//     timelines, accessed through IPageServerClient
//   - the log-keeping peer (safekeeper), which durably accepts WAL records, accessed
//     through ISafekeeperClient
//
// It also defines the error taxonomy shared by the pool, the clients and the storage
// facade. Every fallible operation returns an error that matches one of the sentinel
// errors below via errors.Is, so callers can distinguish a broken peer (ErrTransport,
// ErrProtocol) from an exhausted pool (ErrResourceExhausted). A peer that answers but
// refuses a request yields ErrProtocol together with ErrRejected; such a connection stays
// healthy and is returned to its pool.
package remote
