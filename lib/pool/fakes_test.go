package pool

import (
	"fmt"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/lib/types"
	"sync/atomic"
)

// fakeClient is an in-memory client whose health can be switched
type fakeClient struct {
	id     string
	broken atomic.Bool
	closed atomic.Bool
	checks atomic.Int32
}

func (f *fakeClient) ID() string { return f.id }

func (f *fakeClient) CheckAvailability() error {
	f.checks.Add(1)
	if f.broken.Load() {
		return fmt.Errorf("%w: %s is broken", remote.ErrTransport, f.id)
	}
	return nil
}

func (f *fakeClient) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeFactory creates fakeClients and remembers them
type fakeFactory struct {
	created atomic.Int32
	fail    atomic.Bool
	clients chan *fakeClient
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{clients: make(chan *fakeClient, 1024)}
}

func (f *fakeFactory) create() (*fakeClient, error) {
	if f.fail.Load() {
		return nil, fmt.Errorf("%w: connection refused", remote.ErrTransport)
	}
	n := f.created.Add(1)
	c := &fakeClient{id: fmt.Sprintf("fake-%d", n)}
	f.clients <- c
	return c, nil
}

// all returns every client created so far
func (f *fakeFactory) all() []*fakeClient {
	var out []*fakeClient
	for {
		select {
		case c := <-f.clients:
			out = append(out, c)
		default:
			for _, c := range out {
				f.clients <- c
			}
			return out
		}
	}
}

// fakePageServer and fakeSafekeeper satisfy the typed client interfaces

type fakePageServer struct{ *fakeClient }

func (f fakePageServer) ReadPage(types.PageID, *types.Page) error   { return nil }
func (f fakePageServer) CreateTimeline(types.TimelineID) error      { return nil }
func (f fakePageServer) DeleteTimeline(types.TimelineID) error      { return nil }
func (f fakePageServer) TimelineInfo(types.TimelineID) (types.LSN, error) { return 0, nil }

type fakeSafekeeper struct{ *fakeClient }

func (f fakeSafekeeper) AppendSync(_ types.TimelineID, r types.WalRecord) (types.LSN, error) {
	return r.LSN, nil
}
func (f fakeSafekeeper) AppendAsync(types.TimelineID, types.WalRecord) error { return nil }
func (f fakeSafekeeper) CreateTimeline(types.TimelineID) error               { return nil }
func (f fakeSafekeeper) Pending() int                                        { return 0 }
func (f fakeSafekeeper) WaitAsync()                                          {}
func (f fakeSafekeeper) Stats() remote.AsyncStats                            { return remote.AsyncStats{} }
