// Package pool implements dStor's dual connection pool: one bounded pool of page
// server clients and one of safekeeper clients, behind a single ConnectionPool.
//
// Each resource type keeps between min and max connections. Acquire hands out an
// idle connection first (counted as a hit), otherwise waits up to the given timeout
// for a release, and only then creates a new connection if the type is below max.
// A connection is leased to at most one caller at a time; the caller gives it back
// with Lease.Release, or Lease.Discard after a transport failure.
//
// A background goroutine runs HealthCheck every health check interval. It checks
// every idle connection, removes the ones that fail and adds one connection to a
// type whose hit rate dropped below 0.8. Leased connections are never checked.
//
// Usage Example:
//
//	pool, _ := pool.NewConnectionPool(common.DefaultPoolConfig(), newPageServer, newSafekeeper)
//	_ = pool.Initialize()
//	defer pool.Shutdown()
//
//	lease, err := pool.AcquirePageServer(time.Second)
//	if err != nil {
//		return err
//	}
//	err = lease.Client().ReadPage(id, &page)
//	lease.Done(err)
//
// The counters of both types are available through Stats and, in prometheus text
// format, through WritePrometheus.
package pool
