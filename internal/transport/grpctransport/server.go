// Package grpctransport implements the "tcp" protocol over
// google.golang.org/grpc, using a custom codec (codec.go) so the
// transport carries raw transport.Message frames instead of requiring a
// generated protobuf schema per deployment.
package grpctransport

import (
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"

	"github.com/distribd/qimw/transport"
)

// Server accepts inbound gRPC connections and hands each one back as a
// transport.Socket through Accept.
type Server struct {
	url    transport.URL
	srv    *grpc.Server
	lis    net.Listener
	accept chan *socket

	mu      sync.Mutex
	sockets []*socket
}

// Listen starts a gRPC server bound to url and returns a Server whose
// Accept channel yields one Socket per incoming stream.
func Listen(url transport.URL, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf("%s:%d", url.Host, url.Port))
	if err != nil {
		return nil, fmt.Errorf("grpctransport: listen %s: %w", url, err)
	}

	s := &Server{url: url, lis: lis, accept: make(chan *socket, 16)}
	s.srv = grpc.NewServer(opts...)
	desc := serviceDesc(func(stream grpc.ServerStream) error {
		sock := newSocket(url, stream, func() error { return nil })
		s.mu.Lock()
		s.sockets = append(s.sockets, sock)
		s.mu.Unlock()

		select {
		case s.accept <- sock:
		default:
		}

		<-sock.disconnected
		return nil
	})
	s.srv.RegisterService(&desc, nil)

	go func() {
		_ = s.srv.Serve(lis)
	}()

	return s, nil
}

// Accept yields the next inbound connection as a transport.Socket.
func (s *Server) Accept() <-chan *socket { return s.accept }

// Addr returns the listener's actual bound address, useful when Listen
// was called with port 0 and the caller needs to discover which port the
// kernel assigned (e.g. in tests).
func (s *Server) Addr() net.Addr { return s.lis.Addr() }

// Close stops the server and every accepted socket.
func (s *Server) Close() error {
	s.srv.GracefulStop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sock := range s.sockets {
		_ = sock.Close()
	}
	return nil
}
