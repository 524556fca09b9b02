package server

import (
	"fmt"
	"github.com/ValentinKolb/dStor/lib/types"
	"github.com/ValentinKolb/dStor/rpc/common"
)

// NewSafekeeperAdapter creates the adapter that applies WAL messages to a WalLog
func NewSafekeeperAdapter() IRPCServerAdapter {
	return &safekeeperAdapterImpl{}
}

type safekeeperAdapterImpl struct{}

func (adapter *safekeeperAdapterImpl) Handle(frameTimeline types.TimelineID, req *common.Message, log *WalLog) *common.Message {
	if log == nil {
		return common.NewErrorResponse("handler: log is nil")
	}

	switch req.MsgType {
	case common.MsgTPing:
		return common.NewPingResponse()

	case common.MsgTTimelineCreate:
		log.CreateTimeline(types.TimelineID(req.TimelineID))
		return common.NewCreateTimelineResponse(nil)

	case common.MsgTWalAppend:
		if types.TimelineID(req.TimelineID) != frameTimeline {
			return common.NewErrorResponse(
				fmt.Sprintf("record for timeline %d sent on frame of timeline %s", req.TimelineID, frameTimeline),
			)
		}
		if int(req.Length) != len(req.Data) {
			return common.NewErrorResponse(
				fmt.Sprintf("record length %d does not match payload of %d bytes", req.Length, len(req.Data)),
			)
		}
		committed, err := log.Append(frameTimeline, types.WalRecord{LSN: types.LSN(req.LSN), Data: req.Data})
		return common.NewAppendResponse(committed, err)

	default:
		return common.NewErrorResponse(
			fmt.Sprintf("safekeeper adapter - unsupported message type: %s", req.MsgType),
		)
	}
}
