// Package client implements the network clients of dStor's two remote peers.
//
// Key Components:
//
//   - NewPageServerClient: HTTP client of the page server, implementing
//     remote.IPageServerClient. Pages are read with GET {base}/page/{timeline}/{page},
//     timelines are managed under {base}/timeline/{timeline} and GET {base}/health is the
//     liveness check. Only status 200 counts as success for reads. Short page bodies are
//     zero padded, bodies larger than one page are rejected. A 4xx status matches
//     remote.ErrRejected on top of remote.ErrProtocol.
//
//   - NewSafekeeperClient: WAL client of the safekeeper, implementing
//     remote.ISafekeeperClient on top of a tcp or unix stream transport and one of the
//     serializers. The peer is dialed by the first request. AppendSync blocks for the
//     acknowledgment. AppendAsync copies the record onto a queue which one background
//     worker drains in submission order.
//
// Async appends are fire-and-forget: failures are only logged and counted, and Close
// discards records that are still queued (see Stats().AsyncDropped). WaitAsync blocks
// until the queue is drained. Use AppendSync for records that must be durable before
// the caller continues.
//
// Usage Example:
//
//	conf := common.DefaultClientConfig()
//
//	ps, _ := client.NewPageServerClient(conf)
//	var page types.Page
//	_ = ps.ReadPage(types.PageID{Timeline: 1, Number: 0}, &page)
//
//	sk, _ := client.NewSafekeeperClient(conf)
//	defer sk.Close()
//	lsn, _ := sk.AppendSync(1, types.WalRecord{LSN: 1, Data: []byte("...")})
//
// Thread Safety:
//
//	Both clients are safe for concurrent use. The safekeeper client allows one
//	round trip in flight on its connection at a time.
package client
