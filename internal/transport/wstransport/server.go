package wstransport

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/distribd/qimw/transport"
)

// Server upgrades incoming HTTP connections to WebSocket and hands each
// one back as a transport.Socket through Accept.
type Server struct {
	url      transport.URL
	upgrader websocket.Upgrader
	accept   chan *socket
}

// NewServer returns a Server; register its Handler with an *http.ServeMux
// to start accepting connections at url.
func NewServer(url transport.URL) *Server {
	return &Server{
		url:      url,
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		accept:   make(chan *socket, 16),
	}
}

// Handler is an http.HandlerFunc that upgrades the request and publishes
// the resulting socket on Accept.
func (s *Server) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sock := newSocket(s.url, conn)
	select {
	case s.accept <- sock:
	default:
		_ = sock.Close()
	}
}

// Accept yields the next inbound connection as a transport.Socket.
func (s *Server) Accept() <-chan *socket { return s.accept }
