package grpctransport

import (
	"context"
	"sync"

	"google.golang.org/grpc"

	"github.com/distribd/qimw/transport"
)

// socket wraps one gRPC bidi stream (client- or server-side) as a
// transport.Socket. Sends are serialized since grpc.Stream.SendMsg is not
// safe for concurrent use from multiple goroutines.
type socket struct {
	url    transport.URL
	stream grpc.Stream

	sendMu sync.Mutex

	mu      sync.Mutex
	handler map[uint32]transport.Handler
	capsMu  sync.Mutex
	caps    map[string]bool

	recv         chan transport.Message
	disconnected chan error
	closeOnce    sync.Once
	closeFn      func() error
}

func newSocket(url transport.URL, stream grpc.Stream, closeFn func() error) *socket {
	s := &socket{
		url:          url,
		stream:       stream,
		handler:      map[uint32]transport.Handler{},
		caps:         map[string]bool{},
		recv:         make(chan transport.Message, 64),
		disconnected: make(chan error, 1),
		closeFn:      closeFn,
	}
	go s.pump()
	return s
}

// pump reads frames off the gRPC stream, dispatching Call messages to a
// bound Handler locally and delivering everything else (Reply/Error/Event)
// to Recv.
func (s *socket) pump() {
	for {
		msg, err := recvMessage(s.stream)
		if err != nil {
			s.fail(err)
			return
		}
		if msg.Type == transport.Call {
			s.mu.Lock()
			h, ok := s.handler[msg.Service]
			s.mu.Unlock()
			if !ok {
				_ = s.Send(transport.Message{Type: transport.Error, Service: msg.Service, Object: msg.Object, Action: msg.Action, Payload: []byte("no such service")})
				continue
			}
			go func(msg transport.Message) {
				reply, err := h(context.Background(), msg)
				if err != nil {
					reply = transport.Message{Type: transport.Error, Service: msg.Service, Object: msg.Object, Action: msg.Action, Payload: []byte(err.Error())}
				}
				_ = s.Send(reply)
			}(msg)
			continue
		}
		select {
		case s.recv <- msg:
		default:
		}
	}
}

// fail tears the socket down after a read error, waking every goroutine
// blocked on Disconnected: the buffered send lets the first reader observe
// the actual error, and closing the channel afterwards unblocks any other
// reader with a zero value, satisfying the "closed exactly once" contract
// even though only one waiter sees the real error.
func (s *socket) fail(err error) {
	s.closeOnce.Do(func() {
		close(s.recv)
		s.disconnected <- err
		close(s.disconnected)
	})
}

func (s *socket) URL() transport.URL { return s.url }

func (s *socket) Send(msg transport.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return sendMessage(s.stream, msg)
}

func (s *socket) Recv() <-chan transport.Message { return s.recv }

func (s *socket) Disconnected() <-chan error { return s.disconnected }

func (s *socket) RemoteCapability(name string, def bool) bool {
	s.capsMu.Lock()
	defer s.capsMu.Unlock()
	if v, ok := s.caps[name]; ok {
		return v
	}
	return def
}

func (s *socket) Bind(serviceID uint32, h transport.Handler) {
	s.mu.Lock()
	s.handler[serviceID] = h
	s.mu.Unlock()
}

func (s *socket) Close() error {
	s.closeOnce.Do(func() {
		close(s.recv)
		s.disconnected <- nil
		close(s.disconnected)
	})
	if s.closeFn != nil {
		return s.closeFn()
	}
	return nil
}
