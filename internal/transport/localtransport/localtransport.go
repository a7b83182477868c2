// Package localtransport implements the "inproc" transport protocol: an
// in-process transport.Socket pair connected by channels, with no network
// I/O. It backs same-binary service-to-service calls and tests. Its
// protocol name deliberately avoids "local" to not collide with the
// resolver's own "local" meaning — "hosted in this process, skip the
// transport layer entirely" (spec §4.6) — which is a different thing from
// "dial over a channel instead of a socket", what this package actually does.
package localtransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/distribd/qimw/transport"
)

// Registry is a process-wide directory of listening local endpoints,
// analogous to a loopback interface: Listen publishes a URL, Dialer.Dial
// looks it up.
type Registry struct {
	mu        sync.Mutex
	listeners map[string]*listener
}

// NewRegistry returns an empty local-endpoint registry.
func NewRegistry() *Registry {
	return &Registry{listeners: map[string]*listener{}}
}

type listener struct {
	url     transport.URL
	handler map[uint32]transport.Handler
	mu      sync.Mutex
}

// Listen publishes url as accepting connections; returns a *Listener whose
// Bind attaches a serviceId's Handler, mirroring transport.Socket.Bind on
// the accepting side.
func (reg *Registry) Listen(url transport.URL) (*Listener, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	key := url.String()
	if _, exists := reg.listeners[key]; exists {
		return nil, fmt.Errorf("localtransport: %s already listening", key)
	}
	l := &listener{url: url, handler: map[uint32]transport.Handler{}}
	reg.listeners[key] = l
	return &Listener{reg: reg, l: l}, nil
}

// Listener is the accepting side's handle, used to bind per-service
// handlers and to stop listening.
type Listener struct {
	reg *Registry
	l   *listener
}

// Bind attaches h to serviceID for any socket dialed to this listener's URL.
func (ln *Listener) Bind(serviceID uint32, h transport.Handler) {
	ln.l.mu.Lock()
	ln.l.handler[serviceID] = h
	ln.l.mu.Unlock()
}

// Close stops accepting new connections for this URL.
func (ln *Listener) Close() {
	ln.reg.mu.Lock()
	delete(ln.reg.listeners, ln.l.url.String())
	ln.reg.mu.Unlock()
}

// Dialer dials URLs published via a Registry's Listen.
type Dialer struct {
	reg *Registry
}

// NewDialer returns a transport.Dialer for the "inproc" protocol backed by reg.
func NewDialer(reg *Registry) *Dialer { return &Dialer{reg: reg} }

func (d *Dialer) Protocol() string { return "inproc" }

func (d *Dialer) Dial(ctx context.Context, url transport.URL) (transport.Socket, error) {
	d.reg.mu.Lock()
	l, ok := d.reg.listeners[url.String()]
	d.reg.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("localtransport: no listener at %s", url)
	}

	client := newSocket(url)
	server := newSocket(url)
	client.peer, server.peer = server, client

	go server.serve(l)

	return client, nil
}

// socket is both ends of a local connection: Send on one side delivers
// directly to the peer's Recv channel.
type socket struct {
	url  transport.URL
	peer *socket

	mu     sync.Mutex
	closed bool

	recv         chan transport.Message
	disconnected chan error

	capMu sync.Mutex
	caps  map[string]bool
}

func newSocket(url transport.URL) *socket {
	return &socket{
		url:          url,
		recv:         make(chan transport.Message, 64),
		disconnected: make(chan error, 1),
		caps:         map[string]bool{},
	}
}

func (s *socket) URL() transport.URL { return s.url }

func (s *socket) Send(msg transport.Message) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return fmt.Errorf("localtransport: send on closed socket")
	}
	select {
	case s.peer.recv <- msg:
		return nil
	default:
		return fmt.Errorf("localtransport: peer receive buffer full")
	}
}

func (s *socket) Recv() <-chan transport.Message { return s.recv }

func (s *socket) Disconnected() <-chan error { return s.disconnected }

func (s *socket) RemoteCapability(name string, def bool) bool {
	s.capMu.Lock()
	defer s.capMu.Unlock()
	if v, ok := s.caps[name]; ok {
		return v
	}
	return def
}

func (s *socket) Bind(serviceID uint32, h transport.Handler) {
	// The dialing side does not serve calls; only the accepting side
	// (serve, below) dispatches through a listener's bound handlers.
}

// Close tears the socket down, waking every goroutine blocked on
// Disconnected: the buffered send lets one reader observe the nil "clean
// close" error, and closing the channel afterwards unblocks any other
// reader with a zero value, satisfying the "closed exactly once" contract.
func (s *socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.recv)
	s.disconnected <- nil
	close(s.disconnected)
	return nil
}

// serve reads incoming Call messages on the accepting side and dispatches
// them into the listener's bound handler, writing the reply back to peer.
func (s *socket) serve(l *listener) {
	// ClientServerSocket: the accepting side of an in-process connection
	// can always be reused for the reverse direction, since there is no
	// real network hop to avoid duplicating (spec §4.6 capability check).
	s.capMu.Lock()
	s.caps["ClientServerSocket"] = true
	s.capMu.Unlock()

	for msg := range s.recv {
		if msg.Type != transport.Call {
			continue
		}
		l.mu.Lock()
		h, ok := l.handler[msg.Service]
		l.mu.Unlock()
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
	}
}
