package serializer

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"github.com/ValentinKolb/dStor/rpc/common"
	"sync"
)

// NewGOBSerializer creates a serializer using Go's gob format, for log keepers
// written in Go
func NewGOBSerializer() IRPCSerializer {
	return &gobSerializerImpl{}
}

// gobSerializerImpl encodes every message as a self describing gob stream.
// Encoding buffers are pooled since append requests carry whole pages.
type gobSerializerImpl struct{}

var gobBuffers = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (g gobSerializerImpl) Name() string {
	return "gob"
}

func (g gobSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	buf := gobBuffers.Get().(*bytes.Buffer)
	buf.Reset()
	defer gobBuffers.Put(buf)

	if err := gob.NewEncoder(buf).Encode(msg); err != nil {
		return nil, fmt.Errorf("gob: encode %s message: %w", msg.MsgType, err)
	}

	// the buffer goes back to the pool, the frame needs its own copy
	return bytes.Clone(buf.Bytes()), nil
}

func (g gobSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	var decoded common.Message
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&decoded); err != nil {
		return fmt.Errorf("gob: decode message: %w", err)
	}
	*msg = decoded
	return nil
}
