package grpctransport

import (
	"encoding/binary"
	"fmt"

	"google.golang.org/grpc/encoding"

	"github.com/distribd/qimw/transport"
)

// codecName is registered as a gRPC content-subtype so connections carry
// transport.Message directly instead of requiring a generated protobuf
// schema for every deployment (spec §6 "message shape is opaque at this
// layer").
const codecName = "qimwmsg"

func init() {
	encoding.RegisterCodec(messageCodec{})
}

type messageCodec struct{}

func (messageCodec) Name() string { return codecName }

// Marshal encodes a *transport.Message as:
// type(1) | service(4) | object(4) | action(4) | len(payload)(4) | payload.
func (messageCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(*transport.Message)
	if !ok {
		return nil, fmt.Errorf("grpctransport: codec cannot marshal %T", v)
	}
	buf := make([]byte, 17+len(msg.Payload))
	buf[0] = byte(msg.Type)
	binary.BigEndian.PutUint32(buf[1:5], msg.Service)
	binary.BigEndian.PutUint32(buf[5:9], msg.Object)
	binary.BigEndian.PutUint32(buf[9:13], msg.Action)
	binary.BigEndian.PutUint32(buf[13:17], uint32(len(msg.Payload)))
	copy(buf[17:], msg.Payload)
	return buf, nil
}

func (messageCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(*transport.Message)
	if !ok {
		return fmt.Errorf("grpctransport: codec cannot unmarshal into %T", v)
	}
	if len(data) < 17 {
		return fmt.Errorf("grpctransport: short message frame (%d bytes)", len(data))
	}
	msg.Type = transport.MessageType(data[0])
	msg.Service = binary.BigEndian.Uint32(data[1:5])
	msg.Object = binary.BigEndian.Uint32(data[5:9])
	msg.Action = binary.BigEndian.Uint32(data[9:13])
	n := binary.BigEndian.Uint32(data[13:17])
	if len(data) < int(17+n) {
		return fmt.Errorf("grpctransport: truncated payload")
	}
	msg.Payload = append([]byte(nil), data[17:17+n]...)
	return nil
}
