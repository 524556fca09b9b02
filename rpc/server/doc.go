// Package server implements in-memory reference versions of the two remote peers
// dStor talks to. They exist for local development, the CLI's serve command and
// end-to-end tests; they are not replicated and lose all data on exit.
//
// Key Components:
//
//   - PageServer: HTTP server backed by a PageStore. Serves page reads, page writes,
//     timeline management, a health endpoint and prometheus metrics.
//
//   - SafekeeperServer: Framed stream server (tcp or unix) backed by a WalLog. It
//     accepts appends only with an LSN strictly greater than the last accepted LSN of
//     the timeline and keeps records in arrival order, so tests can observe ordering.
//
//   - IRPCServerAdapter: Translates safekeeper messages into WalLog calls.
//
// Usage Example:
//
//	ps, _ := server.NewPageServer(config)
//	go ps.Serve()
//
//	sk := server.NewSafekeeperServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	go sk.Serve()
package server
