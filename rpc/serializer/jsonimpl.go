package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dStor/rpc/common"
)

// NewJSONSerializer creates a serializer producing the readable wire shape
// {"type","timeline_id","lsn","length","data"} with a base64 payload.
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

type jsonSerializerImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Name() string {
	return "json"
}

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("json: encode %s message: %w", msg.MsgType, err)
	}
	return b, nil
}

// Deserialize rejects fields the message does not know, a peer sending them
// speaks another protocol version.
func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var decoded common.Message
	if err := dec.Decode(&decoded); err != nil {
		return fmt.Errorf("json: decode message: %w", err)
	}
	*msg = decoded
	return nil
}
