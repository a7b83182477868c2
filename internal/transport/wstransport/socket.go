// Package wstransport implements the "tcps" protocol over
// github.com/gorilla/websocket (a TLS-terminated WebSocket), framing each
// transport.Message as one binary WebSocket message (codec.go).
package wstransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/distribd/qimw/transport"
)

type socket struct {
	url  transport.URL
	conn *websocket.Conn

	sendMu sync.Mutex

	mu      sync.Mutex
	handler map[uint32]transport.Handler

	capsMu sync.Mutex
	caps   map[string]bool

	recv         chan transport.Message
	disconnected chan error
	closeOnce    sync.Once
}

func newSocket(url transport.URL, conn *websocket.Conn) *socket {
	s := &socket{
		url:          url,
		conn:         conn,
		handler:      map[uint32]transport.Handler{},
		caps:         map[string]bool{},
		recv:         make(chan transport.Message, 64),
		disconnected: make(chan error, 1),
	}
	go s.pump()
	return s
}

func (s *socket) pump() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail(err)
			return
		}
		msg, err := decode(data)
		if err != nil {
			continue
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
// blocked on Disconnected the same way grpctransport's socket.fail does:
// one buffered send carries the real error, then closing the channel wakes
// any other waiter with a zero value.
func (s *socket) fail(err error) {
	s.closeOnce.Do(func() {
		close(s.recv)
		s.disconnected <- err
		close(s.disconnected)
		_ = s.conn.Close()
	})
}

func (s *socket) URL() transport.URL { return s.url }

func (s *socket) Send(msg transport.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, encode(msg)); err != nil {
		return fmt.Errorf("wstransport: send: %w", err)
	}
	return nil
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
	return s.conn.Close()
}
