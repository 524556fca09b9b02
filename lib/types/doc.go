// Package types defines the identifiers shared by every layer of dStor: timelines,
// pages, log sequence numbers and WAL records. The package holds data only.
//
// A timeline is an append-only stream of mutations (roughly one per table). Pages are
// fixed 16 KiB units addressed by (timeline, page number). Page contents are modeled
// as a fixed-size array value (Page) so buffers are always exactly one page long.
package types
