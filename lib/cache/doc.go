// Package cache implements the page cache of dStor's read path.
//
// PageCache is a read-through cache with a fixed capacity and strict LRU eviction
// (hashicorp/golang-lru simplelru). Pages are keyed by types.PageKey. A miss leases
// a page server client from the connection pool, fetches the page and inserts it.
//
// Pages written with Write are dirty. A dirty page is handed to the write-back sink
// before its slot is reused, on Flush and on Close. Write-backs run without the
// cache lock; if one fails the dirty page stays cached and the page that needed
// its slot is not cached.
//
// Counters (hits, misses, evictions, write-backs) and the fetch latency are kept in
// an rcrowley/go-metrics registry, see Stats and WriteMetrics.
package cache
