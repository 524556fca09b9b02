// Package tcp implements the TCP socket transport of the safekeeper stream.
// It provides concrete implementations of the base package's connector
// interfaces. See the base package documentation for the frame format and the
// reconnect behavior.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector, applies
//     TCPConf and SocketConf settings to every dialed connection
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
package tcp
