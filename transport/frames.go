package transport

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// frameField is the protobuf field number of each frame in an encoded
// multi-part message.
const frameField protowire.Number = 1

// Message is an ordered multi-part message.
type Message [][]byte

// EncodeFrames packs frames as repeated length-delimited field 1, i.e. the
// wire form of `repeated bytes frames = 1;`.
func EncodeFrames(frames ...[]byte) []byte {
	size := 0
	for _, f := range frames {
		size += protowire.SizeTag(frameField) + protowire.SizeBytes(len(f))
	}
	b := make([]byte, 0, size)
	for _, f := range frames {
		b = protowire.AppendTag(b, frameField, protowire.BytesType)
		b = protowire.AppendBytes(b, f)
	}
	return b
}

// DecodeFrames is the inverse of EncodeFrames.
func DecodeFrames(b []byte) (Message, error) {
	var out Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("transport: bad frame tag: %w", protowire.ParseError(n))
		}
		if num != frameField || typ != protowire.BytesType {
			return nil, fmt.Errorf("transport: unexpected field %d (wire type %d)", num, typ)
		}
		b = b[n:]
		v, m := protowire.ConsumeBytes(b)
		if m < 0 {
			return nil, fmt.Errorf("transport: bad frame: %w", protowire.ParseError(m))
		}
		out = append(out, append([]byte(nil), v...))
		b = b[m:]
	}
	return out, nil
}
