package serializer

import "github.com/ValentinKolb/dStor/rpc/common"

// IRPCSerializer encodes the messages of the safekeeper stream. Client and
// log keeper must agree on the serializer, the frame itself carries no hint.
type IRPCSerializer interface {
	// Name is the configuration name of the serializer (binary, json, gob)
	Name() string
	// Serialize encodes one request or response into the payload of a frame
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize decodes a frame payload into msg, overwriting all of its fields
	Deserialize(b []byte, msg *common.Message) error
}
