package grpctransport

import (
	"google.golang.org/grpc"

	"github.com/distribd/qimw/transport"
)

const (
	serviceName    = "qimw.Transport"
	streamFullName = "/" + serviceName + "/Stream"
)

// streamHandler adapts grpc's raw StreamHandler signature to a plain
// function receiving one bidi transport.Message stream per connection.
type streamHandler func(stream grpc.ServerStream) error

func bidiStreamDesc(handle streamHandler) grpc.StreamDesc {
	return grpc.StreamDesc{
		StreamName: "Stream",
		Handler: func(srv any, stream grpc.ServerStream) error {
			return handle(stream)
		},
		ServerStreams: true,
		ClientStreams: true,
	}
}

func serviceDesc(handle streamHandler) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{bidiStreamDesc(handle)},
		Metadata:    "qimw/transport.proto",
	}
}

func sendMessage(s grpc.Stream, msg transport.Message) error {
	return s.SendMsg(&msg)
}

func recvMessage(s grpc.Stream) (transport.Message, error) {
	var msg transport.Message
	if err := s.RecvMsg(&msg); err != nil {
		return transport.Message{}, err
	}
	return msg, nil
}
