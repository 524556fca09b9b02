package tcp

import (
	"bytes"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/transport"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer starts an upper-casing echo server and returns it with its address
func startServer(t *testing.T, endpoint string) (transport.IRPCServerTransport, string) {
	t.Helper()

	server := NewTCPServerTransport()
	server.RegisterHandler(func(timelineID uint64, req []byte) []byte {
		return bytes.ToUpper(req)
	})

	go func() {
		_ = server.Listen(common.ServerConfig{SafekeeperTransport: "tcp", SafekeeperEndpoint: endpoint})
	}()

	addr := server.Addr()
	require.NotNil(t, addr, "server did not start")
	return server, addr.String()
}

func clientConfig(endpoint string) common.ClientTransportConfig {
	return common.ClientTransportConfig{
		Transport: "tcp",
		Endpoint:  endpoint,
		Timeout:   2 * time.Second,
		TCPConf:   common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
	}
}

func TestRoundTrip(t *testing.T) {
	server, addr := startServer(t, "127.0.0.1:0")
	defer server.Close()

	client := NewTCPClientTransport()
	require.NoError(t, client.Connect(clientConfig(addr)))
	defer client.Close()

	for i := 0; i < 10; i++ {
		resp, err := client.Send(uint64(i), []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, []byte("HELLO"), resp)
	}

	// empty payloads are valid frames
	resp, err := client.Send(1, nil)
	require.NoError(t, err)
	assert.Empty(t, resp)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	client := NewTCPClientTransport()
	assert.Error(t, client.Connect(clientConfig("127.0.0.1:1")))
	assert.Error(t, client.Connect(common.ClientTransportConfig{Transport: "tcp"}))
}

func TestReconnectAfterServerRestart(t *testing.T) {
	server, addr := startServer(t, "127.0.0.1:0")

	client := NewTCPClientTransport()
	require.NoError(t, client.Connect(clientConfig(addr)))
	defer client.Close()

	_, err := client.Send(1, []byte("a"))
	require.NoError(t, err)

	// the broken connection fails the next round trip
	require.NoError(t, server.Close())
	_, err = client.Send(1, []byte("b"))
	assert.Error(t, err)

	// a fresh server on the same address is picked up by redialing
	server, _ = startServer(t, addr)
	defer server.Close()

	resp, err := client.Send(1, []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, []byte("C"), resp)
}

func TestSendAfterClose(t *testing.T) {
	server, addr := startServer(t, "127.0.0.1:0")
	defer server.Close()

	client := NewTCPClientTransport()
	require.NoError(t, client.Connect(clientConfig(addr)))
	require.NoError(t, client.Close())

	_, err := client.Send(1, []byte("a"))
	assert.Error(t, err)
}
