// Package util provides small building blocks used across dStor:
//
//   - Queue: an unbounded multi-producer single-consumer FIFO used as the
//     asynchronous WAL append queue. Items pushed by one goroutine are delivered
//     in push order. The queue can be closed (deliver what is left) or aborted
//     (stop delivering and report how many items were dropped).
//   - HashString, Fold32: FNV-1a hashing of table names into 32 bit timeline ids.
package util
