package unix

import (
	"github.com/ValentinKolb/dStor/rpc/common"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnixRoundTripKeepsOrder(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "sk.sock")

	var mu sync.Mutex
	var seen []uint64
	server := NewUnixServerTransport()
	server.RegisterHandler(func(timelineID uint64, req []byte) []byte {
		mu.Lock()
		seen = append(seen, timelineID)
		mu.Unlock()
		return req
	})
	go func() {
		_ = server.Listen(common.ServerConfig{SafekeeperTransport: "unix", SafekeeperEndpoint: socket})
	}()
	require.NotNil(t, server.Addr())
	defer server.Close()

	client := NewUnixClientTransport()
	require.NoError(t, client.Connect(common.ClientTransportConfig{
		Transport: "unix",
		Endpoint:  socket,
		Timeout:   time.Second,
	}))
	defer client.Close()

	for i := uint64(1); i <= 5; i++ {
		resp, err := client.Send(i, []byte{byte(i)})
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, resp)
	}

	// the handler runs on the connection goroutine, which answered every request already
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seen)
}

func TestListenReplacesStaleSocket(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "sk.sock")

	// a listener closed without unlinking leaves the socket file behind
	stale, err := net.Listen("unix", socket)
	require.NoError(t, err)
	stale.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, stale.Close())
	_, err = os.Stat(socket)
	require.NoError(t, err)

	listener, err := (&serverConnector{}).Listen(common.ServerConfig{SafekeeperEndpoint: socket})
	require.NoError(t, err)
	assert.NoError(t, listener.Close())
}

func TestListenRefusesToReplaceRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.dat")
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0o600))

	_, err := (&serverConnector{}).Listen(common.ServerConfig{SafekeeperEndpoint: path})
	assert.Error(t, err)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep me"), content)
}
