package codec

import (
	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackCodec encodes frames as MessagePack.
// Smaller and faster than JSON for native Go peers (WebSocket and stream channels),
// at the cost of readability. Maps decode as map[string]any and integers keep their
// narrowest encoded width (int8, uint16, ...) when the target is an interface.
type MsgpackCodec struct{}

func (c *MsgpackCodec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (c *MsgpackCodec) Decode(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (c *MsgpackCodec) Type() CodecType {
	return CodecTypeMsgpack
}
