package client

import (
	"fmt"
	"github.com/ValentinKolb/dStor/lib/remote"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/serializer"
	"github.com/ValentinKolb/dStor/rpc/transport"
	"github.com/ValentinKolb/dStor/rpc/transport/tcp"
	"github.com/ValentinKolb/dStor/rpc/transport/unix"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// invokeRPCRequest is a helper function used by the safekeeper client to send requests
// It serializes the request, performs one round trip on the transport and checks that the
// response is neither an error response nor of an unexpected type.
// Transport failures are reported as remote.ErrTransport, everything else as remote.ErrProtocol.
// Error responses and refused requests additionally match remote.ErrRejected.
func invokeRPCRequest(timelineID uint64, req *common.Message, transport transport.IRPCClientTransport, serializer serializer.IRPCSerializer) (*common.Message, error) {
	reqBytes, err := serializer.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to serialize %s request: %v", remote.ErrProtocol, req.MsgType, err)
	}

	respBytes, err := transport.Send(timelineID, reqBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", remote.ErrTransport, err)
	}

	resp := &common.Message{}
	if err := serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", remote.ErrProtocol, err)
	}

	if resp.MsgType == common.MsgTError || resp.Err != "" {
		return nil, fmt.Errorf("%w: %w %s: %s", remote.ErrProtocol, remote.ErrRejected, req.MsgType, resp.Err)
	}

	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("%w: unexpected message type: %s, expected %s", remote.ErrProtocol, resp.MsgType, req.MsgType)
	}

	if !resp.Ok {
		return nil, fmt.Errorf("%w: %w: %s was not acknowledged", remote.ErrProtocol, remote.ErrRejected, req.MsgType)
	}

	return resp, nil
}

// newClientTransport returns the stream transport registered under name
func newClientTransport(name string) (transport.IRPCClientTransport, error) {
	switch name {
	case "tcp", "":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport: %s. must be one of tcp, unix", name)
	}
}
