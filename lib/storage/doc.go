// Package storage is the facade between the table layer of a compute node and
// dStor's remote storage.
//
// An Engine owns one pool.ConnectionPool and one cache.PageCache. There is no
// process wide instance; the owner creates the engine at startup, calls Open and
// Close at teardown.
//
//	config := common.DefaultStorageConfig()
//	connPool, _ := storage.NewConnectionPool(config)
//	engine, _ := storage.NewEngine(config, connPool)
//	if err := engine.Open(); err != nil {
//		return err
//	}
//	defer engine.Close()
//
//	timeline, _ := engine.CreateTimeline("users")
//	page, _ := engine.ReadPage(types.PageID{Timeline: timeline, Number: 0})
//	_ = engine.AppendRecord(timeline, 0, []byte("..."), storage.Sync)
//
// Dirty pages reach the safekeeper as page image records: the big endian page
// number followed by the page contents (see EncodePageImage), appended
// synchronously with the next LSN of the timeline.
//
// The WAL of a timeline is written in LSN order. Async records of a timeline are
// queued on one safekeeper connection pinned to it until the next sync append,
// Flush or Close waits for them.
//
// Errors wrap the sentinels of package remote. An exhausted pool yields
// remote.ErrResourceExhausted, an unreachable or misbehaving peer
// remote.ErrTransport or remote.ErrProtocol.
package storage
