package pool

import (
	"github.com/ValentinKolb/dStor/lib/remote"
	"sync/atomic"
)

// Lease is the exclusive, temporary borrow of one pooled connection.
// Release returns it to the pool, Discard closes it (use Discard after a
// transport error so the broken connection is not handed out again).
type Lease[T remote.IClient] struct {
	pool     *Pool[T]
	entry    *entry[T]
	released atomic.Bool
}

func newLease[T remote.IClient](p *Pool[T], e *entry[T]) *Lease[T] {
	return &Lease[T]{pool: p, entry: e}
}

// Client returns the leased client. It must not be used after Release or Discard.
func (l *Lease[T]) Client() T {
	return l.entry.client
}

// Release returns the connection to the pool. Releasing twice is a logged no-op.
func (l *Lease[T]) Release() {
	if l.released.Swap(true) {
		Logger.Warningf("%s connection %s released twice", l.pool.name, l.entry.client.ID())
		return
	}
	l.pool.release(l.entry, false)
}

// Discard closes the connection and frees its slot in the pool
func (l *Lease[T]) Discard() {
	if l.released.Swap(true) {
		Logger.Warningf("%s connection %s discarded after release", l.pool.name, l.entry.client.ID())
		return
	}
	l.pool.release(l.entry, true)
}

// Done releases the lease, or discards it if err is a transport failure or a
// broken response. A rejected request leaves the connection usable, it is released.
func (l *Lease[T]) Done(err error) {
	if remote.IsPeerFailure(err) {
		l.Discard()
		return
	}
	l.Release()
}
