package server

import (
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
)

// IRPCServerAdapter applies a decoded safekeeper request to a WalLog. The
// timeline of the frame is passed along since requests without a timeline
// field (ping) still arrive on one. Failures are reported inside the returned
// message, never as a Go error, so the connection stays usable.
type IRPCServerAdapter interface {
	Handle(frameTimeline types.TimelineID, req *common.Message, log *WalLog) (resp *common.Message)
}
