// Package http holds the HTTP plumbing shared by the page server client and the
// reference page server.
//
// Key Components:
//
//   - NewClient: An http.Client with pooled keep-alive connections and a request timeout.
//
//   - Do: Performs one request and returns status code and body. The body can be
//     limited so a misbehaving server cannot make the client buffer unbounded data.
//
//   - Server: Wraps http.Server with an eagerly bound listener, so the bound address
//     is known before serving starts (useful for ":0" endpoints in tests).
//
//   - LoggerMiddleware: Logs method, path, status and duration of every request at
//     debug level.
package http
