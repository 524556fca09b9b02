// Package cmd implements the command-line interface of dStor. It provides
// commands to run the in-memory reference peers and to talk to running peers
// through the storage engine.
//
// The package is organized into several subpackages:
//
//   - serve: starts the reference page server and safekeeper
//   - client: timeline, page, wal, stats and perf commands, each opening a
//     storage engine (connection pool + page cache) for the duration of the command
//   - util: shared flag, environment and configuration handling (internal use)
//
// Every flag can also be set through an environment variable DSTOR_<FLAG> or a
// .env / .env.local file. See dstor -help for a list of all commands.
package cmd
