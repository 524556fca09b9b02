package client

import (
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPageServer serves fixed bodies per path
func newTestPageServer(t *testing.T, routes map[string]func(w http.ResponseWriter)) remote.IPageServerClient {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		route(w)
	}))
	t.Cleanup(ts.Close)

	conf := common.DefaultClientConfig()
	conf.PageServerURL = ts.URL + "/"
	conf.RequestTimeout = time.Second

	c, err := NewPageServerClient(conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func body(status int, data []byte) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write(data)
	}
}

func TestReadPageZeroPadsShortBodies(t *testing.T) {
	c := newTestPageServer(t, map[string]func(w http.ResponseWriter){
		"GET /page/3/9": body(http.StatusOK, []byte{1, 2, 3}),
	})

	var page types.Page
	page[100] = 0xff // stale content must be cleared

	require.NoError(t, c.ReadPage(types.PageID{Timeline: 3, Number: 9}, &page))
	assert.Equal(t, []byte{1, 2, 3}, page[:3])
	assert.Equal(t, make([]byte, types.PageSize-3), page[3:])
}

func TestReadPageRejectsOversizedBodies(t *testing.T) {
	c := newTestPageServer(t, map[string]func(w http.ResponseWriter){
		"GET /page/1/1": body(http.StatusOK, make([]byte, types.PageSize+1)),
		"GET /page/1/2": body(http.StatusOK, make([]byte, types.PageSize)),
	})

	var page types.Page
	assert.ErrorIs(t, c.ReadPage(types.PageID{Timeline: 1, Number: 1}, &page), remote.ErrProtocol)
	assert.NoError(t, c.ReadPage(types.PageID{Timeline: 1, Number: 2}, &page))
}

func TestReadPageStatus(t *testing.T) {
	c := newTestPageServer(t, map[string]func(w http.ResponseWriter){
		"GET /page/1/1": body(http.StatusInternalServerError, nil),
		"GET /page/1/2": body(http.StatusAccepted, nil),
	})

	var page types.Page
	err := c.ReadPage(types.PageID{Timeline: 1, Number: 1}, &page)
	assert.ErrorIs(t, err, remote.ErrProtocol)
	assert.True(t, remote.IsPeerFailure(err))
	// only 200 counts as success
	assert.ErrorIs(t, c.ReadPage(types.PageID{Timeline: 1, Number: 2}, &page), remote.ErrProtocol)

	// a missing page is a rejection, the connection stays usable
	err = c.ReadPage(types.PageID{Timeline: 1, Number: 3}, &page)
	assert.ErrorIs(t, err, remote.ErrProtocol)
	assert.ErrorIs(t, err, remote.ErrRejected)
	assert.False(t, remote.IsPeerFailure(err))
}

func TestPageServerHealth(t *testing.T) {
	healthy := newTestPageServer(t, map[string]func(w http.ResponseWriter){
		"GET /health": body(http.StatusOK, []byte("ok")),
	})
	assert.NoError(t, healthy.CheckAvailability())

	sick := newTestPageServer(t, map[string]func(w http.ResponseWriter){
		"GET /health": body(http.StatusServiceUnavailable, nil),
	})
	assert.ErrorIs(t, sick.CheckAvailability(), remote.ErrProtocol)
}

func TestPageServerTimelines(t *testing.T) {
	c := newTestPageServer(t, map[string]func(w http.ResponseWriter){
		"POST /timeline/5":   body(http.StatusConflict, nil),
		"DELETE /timeline/5": body(http.StatusNotFound, nil),
		"GET /timeline/5":    body(http.StatusOK, []byte(`{"timeline_id":5,"latest_lsn":42}`)),
		"GET /timeline/6":    body(http.StatusOK, []byte(`{"timeline_id":5,"latest_lsn":42}`)),
		"POST /timeline/7":   body(http.StatusBadRequest, nil),
	})

	assert.NoError(t, c.CreateTimeline(5))
	assert.NoError(t, c.DeleteTimeline(5))

	lsn, err := c.TimelineInfo(5)
	require.NoError(t, err)
	assert.Equal(t, types.LSN(42), lsn)

	_, err = c.TimelineInfo(6)
	assert.ErrorIs(t, err, remote.ErrProtocol)

	err = c.CreateTimeline(7)
	assert.ErrorIs(t, err, remote.ErrProtocol)
	assert.ErrorIs(t, err, remote.ErrRejected)
}

func TestPageServerUnreachableAndClosed(t *testing.T) {
	conf := common.DefaultClientConfig()
	conf.PageServerURL = "http://127.0.0.1:1"
	conf.RequestTimeout = 500 * time.Millisecond

	c, err := NewPageServerClient(conf)
	require.NoError(t, err)
	assert.ErrorIs(t, c.CheckAvailability(), remote.ErrTransport)
	assert.True(t, remote.IsPeerFailure(c.CheckAvailability()))

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.CheckAvailability(), remote.ErrClientClosed)

	conf.PageServerURL = "ftp://example.org"
	_, err = NewPageServerClient(conf)
	assert.Error(t, err)
}
