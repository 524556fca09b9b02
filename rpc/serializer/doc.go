// Package serializer provides message serialization for the safekeeper byte stream.
// It defines a common interface and multiple implementations for serializing and
// deserializing messages between the WAL client and the log keeper.
//
// Key Components:
//
//   - IRPCSerializer: Core interface that all serializer implementations must satisfy.
//
//   - binarySerializerImpl: Custom binary format. A flags byte marks which optional
//     fields are present so only those are encoded. Ok is carried by its flag alone.
//
//   - jsonSerializerImpl: JSON encoding. Produces the documented wire shape
//     {"type","timeline_id","lsn","length","data"} and is useful for debugging
//     or interoperability with log keepers written in other languages.
//
//   - gobSerializerImpl: Go's gob encoding. Larger payloads and slower than
//     binary, kept for compatibility with Go-only peers.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use.
//
// Usage:
//
//	serializer := serializer.NewBinarySerializer()
//	data, err := serializer.Serialize(message)
//	// ... send data ...
//	var receivedMsg common.Message
//	err = serializer.Deserialize(receivedData, &receivedMsg)
package serializer
