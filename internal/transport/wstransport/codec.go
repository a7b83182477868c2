package wstransport

import (
	"encoding/binary"
	"fmt"

	"github.com/distribd/qimw/transport"
)

// encode/decode frame a transport.Message as a single WebSocket binary
// message: type(1) | service(4) | object(4) | action(4) | payload.
func encode(msg transport.Message) []byte {
	buf := make([]byte, 13+len(msg.Payload))
	buf[0] = byte(msg.Type)
	binary.BigEndian.PutUint32(buf[1:5], msg.Service)
	binary.BigEndian.PutUint32(buf[5:9], msg.Object)
	binary.BigEndian.PutUint32(buf[9:13], msg.Action)
	copy(buf[13:], msg.Payload)
	return buf
}

func decode(data []byte) (transport.Message, error) {
	if len(data) < 13 {
		return transport.Message{}, fmt.Errorf("wstransport: short frame (%d bytes)", len(data))
	}
	return transport.Message{
		Type:    transport.MessageType(data[0]),
		Service: binary.BigEndian.Uint32(data[1:5]),
		Object:  binary.BigEndian.Uint32(data[5:9]),
		Action:  binary.BigEndian.Uint32(data[9:13]),
		Payload: append([]byte(nil), data[13:]...),
	}, nil
}
