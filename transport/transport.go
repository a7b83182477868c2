// Package transport defines the external transport contract consumed by
// the core (see spec §6): the boundary the directory, resolver and object
// runtime use to send and receive messages. Byte framing and socket I/O
// are deliberately not specified here — concrete implementations live
// under internal/transport/.
package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// URL identifies where a service accepts connections.
type URL struct {
	Protocol string // "tcp", "tcps", "inproc", ...
	Host     string
	Port     uint16
}

// String renders the canonical form used as a cache key (socket cache
// entries, the localtransport listener registry).
func (u URL) String() string {
	return fmt.Sprintf("%s://%s:%d", u.Protocol, u.Host, u.Port)
}

// ParseURL parses the canonical form produced by String, the wire
// representation an endpoint list is reduced to when it crosses a
// directory.ServiceInfo onto the wire (spec §4.5 "endpoints").
func ParseURL(s string) (URL, error) {
	proto, rest, ok := strings.Cut(s, "://")
	if !ok {
		return URL{}, fmt.Errorf("transport: malformed endpoint %q", s)
	}
	host, portStr, ok := strings.Cut(rest, ":")
	if !ok {
		return URL{}, fmt.Errorf("transport: malformed endpoint %q", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return URL{}, fmt.Errorf("transport: malformed endpoint %q: %w", s, err)
	}
	return URL{Protocol: proto, Host: host, Port: uint16(port)}, nil
}

// MessageType is the kind of envelope carried over a Socket.
type MessageType int

const (
	Call MessageType = iota
	Reply
	Error
	Event
	Post
)

func (t MessageType) String() string {
	switch t {
	case Call:
		return "Call"
	case Reply:
		return "Reply"
	case Error:
		return "Error"
	case Event:
		return "Event"
	case Post:
		return "Post"
	default:
		return "Unknown"
	}
}

// Message is opaque at this layer. The core routes by (Service, Object,
// Action); Payload is handed to the object runtime's codec unexamined.
type Message struct {
	Type    MessageType
	Service uint32
	Object  uint32
	Action  uint32
	Payload []byte
}

// Handler dispatches one incoming Call into a bound object and produces
// the reply (or error) message to send back. It is supplied by whatever
// binds a serviceId to a Socket (directory.Directory, or any user service).
type Handler func(ctx context.Context, msg Message) (Message, error)

// Socket is a single connection to a remote peer. Implementations must
// be safe for concurrent use: Send may be called from any goroutine,
// Recv/Disconnected are read from the socket cache and resolver.
type Socket interface {
	// URL is the endpoint this socket is connected to.
	URL() URL

	// Send transmits msg and fails fast on a dead connection. The
	// localtransport socket never blocks (it fails when the peer's buffer
	// is full); the grpctransport and wstransport sockets write
	// synchronously under a send mutex and can block on a congested peer.
	Send(msg Message) error

	// Recv delivers inbound Event/Reply/Error messages. The grpctransport
	// and wstransport sockets drop a message that arrives while this
	// buffered channel is full. Closed when the socket disconnects.
	Recv() <-chan Message

	// Disconnected is closed exactly once, when the socket transitions
	// to the Disconnected state. The error (nil for a clean close)
	// mirrors the "errno" argument of the disconnected(socket, errno)
	// contract event.
	Disconnected() <-chan error

	// RemoteCapability reports whether the remote peer advertised the
	// named capability during the connection handshake. def is returned
	// when the capability is unknown.
	RemoteCapability(name string, def bool) bool

	// Bind attaches a Handler that serves incoming Call messages
	// addressed to serviceID on this socket.
	Bind(serviceID uint32, h Handler)

	// Close tears down the connection. Idempotent.
	Close() error
}

// Dialer establishes Sockets for one protocol.
type Dialer interface {
	// Protocol names the scheme this dialer serves ("tcp", "tcps", "inproc").
	Protocol() string
	// Dial connects to url and blocks until connected or ctx is done.
	Dial(ctx context.Context, url URL) (Socket, error)
}
