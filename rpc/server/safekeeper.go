package server

import (
	"fmt"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
	"github.com/ValentinKolb/dStor/rpc/serializer"
	"github.com/ValentinKolb/dStor/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"net"
	"os/signal"
	"runtime"
	"syscall"
)

var Logger = logger.GetLogger("server")

// NewSafekeeperServer creates the in-memory reference safekeeper
//
// Usage:
//
//	s := server.NewSafekeeperServer(
//		config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewSafekeeperServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *SafekeeperServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	s := &SafekeeperServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		adapter:    NewSafekeeperAdapter(),
		log:        NewWalLog(),
	}
	s.registerTransportHandler()
	return s
}

// SafekeeperServer accepts WAL records over a framed stream
type SafekeeperServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	adapter    IRPCServerAdapter
	log        *WalLog
}

func (s *SafekeeperServer) registerTransportHandler() {
	s.transport.RegisterHandler(func(timelineID uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		if err := s.serializer.Deserialize(req, &msg); err != nil {
			respMsg = common.NewErrorResponse(fmt.Sprintf("failed to deserialize request: %s", err))
		} else {
			respMsg = s.adapter.Handle(types.TimelineID(timelineID), &msg, s.log)
		}

		if respMsg.Err != "" {
			Logger.Debugf("Rejected %s on timeline %d: %s", msg.MsgType, timelineID, respMsg.Err)
		}

		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("Failed to serialize response: %v", err)
			val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Sprintf("failed to serialize response: %s", err)))
		}
		return val
	})
}

// Serve starts the transport layer and blocks until Close is called
func (s *SafekeeperServer) Serve() error {
	Logger.Infof("Starting safekeeper on %s://%s (%s serializer)", s.config.SafekeeperTransport, s.config.SafekeeperEndpoint, s.serializer.Name())
	return s.transport.Listen(s.config)
}

// Addr returns the bound address once the server listens
func (s *SafekeeperServer) Addr() net.Addr {
	return s.transport.Addr()
}

// Log returns the log the server appends to
func (s *SafekeeperServer) Log() *WalLog {
	return s.log
}

// Close stops the server
func (s *SafekeeperServer) Close() error {
	return s.transport.Close()
}
