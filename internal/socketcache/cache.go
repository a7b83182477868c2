// Package socketcache implements C2: a cache of transport.Socket
// connections keyed by endpoint URL, with a per-endpoint connection-state
// machine, coalesced concurrent connects, and a circuit breaker over
// repeated dial failures (spec §4.2 "TransportSocketCache").
package socketcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/distribd/qimw/transport"
)

// State is an endpoint's connection lifecycle stage (spec §4.2).
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return "Disconnected"
	}
}

type entry struct {
	mu      sync.Mutex
	state   State
	socket  transport.Socket
	breaker *gobreaker.CircuitBreaker
}

// Cache dials and reuses sockets by endpoint, coalescing concurrent
// connect attempts to the same URL into a single dial (grounded on
// transportsocketcache.hpp's requests-in-flight map, replaced here with
// golang.org/x/sync/singleflight) and tripping a per-endpoint circuit
// breaker after repeated dial failures so a dead service doesn't get
// hammered by every caller resolving it.
type Cache struct {
	mu      sync.Mutex
	byURL   map[string]*entry
	dialers map[string]transport.Dialer
	group   singleflight.Group
	closed  bool
}

// New returns a Cache that dials through dialers, keyed by
// transport.Dialer.Protocol().
func New(dialers ...transport.Dialer) *Cache {
	c := &Cache{
		byURL:   map[string]*entry{},
		dialers: map[string]transport.Dialer{},
	}
	for _, d := range dialers {
		c.dialers[d.Protocol()] = d
	}
	return c
}

// Get returns the cached socket for url, dialing it if necessary.
// Concurrent Get calls for the same url share one dial attempt; each
// caller observes the socket (or error) that attempt produced. The
// entry's own mutex is released before the singleflight group resolves
// its waiters, so a waiter's continuation never blocks holding a lock
// this Cache itself needs (spec §4.2 "never resolve a promise while
// holding the per-endpoint mutex").
func (c *Cache) Get(ctx context.Context, url transport.URL) (transport.Socket, error) {
	key := url.String()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("socketcache: cache shut down")
	}
	e, ok := c.byURL[key]
	if !ok {
		e = &entry{breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    key,
			Timeout: 30 * time.Second,
		})}
		c.byURL[key] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	if e.state == Connected && e.socket != nil {
		sock := e.socket
		e.mu.Unlock()
		return sock, nil
	}
	e.state = Connecting
	e.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A caller that arrives just after another attempt finished finds
		// that attempt's socket here instead of dialing a second time.
		e.mu.Lock()
		if e.state == Connected && e.socket != nil {
			sock := e.socket
			e.mu.Unlock()
			return sock, nil
		}
		e.mu.Unlock()
		return e.breaker.Execute(func() (any, error) {
			d, ok := c.dialers[url.Protocol]
			if !ok {
				return nil, fmt.Errorf("socketcache: no dialer for protocol %q", url.Protocol)
			}
			return d.Dial(ctx, url)
		})
	})

	e.mu.Lock()
	if err != nil {
		e.state = Disconnected
		e.mu.Unlock()
		return nil, err
	}
	sock := v.(transport.Socket)
	e.socket = sock
	e.state = Connected
	e.mu.Unlock()

	go c.watchDisconnect(key, e, sock)

	return sock, nil
}

// GetAny tries endpoints in order, restricted to protocolFilter when it is
// non-empty, and returns the socket for the first one that connects
// successfully — short-circuiting the rest (spec §4.2 "socket(endpoints,
// protocolFilter)"). The last error observed is returned if every
// candidate endpoint fails to connect, or an immediate error if none
// match protocolFilter at all.
func (c *Cache) GetAny(ctx context.Context, endpoints []transport.URL, protocolFilter string) (transport.Socket, error) {
	var lastErr error
	matched := false
	for _, ep := range endpoints {
		if protocolFilter != "" && ep.Protocol != protocolFilter {
			continue
		}
		matched = true
		sock, err := c.Get(ctx, ep)
		if err == nil {
			return sock, nil
		}
		lastErr = err
	}
	if !matched {
		return nil, fmt.Errorf("socketcache: no %s endpoint among %d candidates", protocolFilter, len(endpoints))
	}
	return nil, lastErr
}

// watchDisconnect drops an entry back to Disconnected once its socket
// reports a disconnect, so the next Get redials instead of handing back a
// dead socket.
func (c *Cache) watchDisconnect(key string, e *entry, sock transport.Socket) {
	<-sock.Disconnected()
	e.mu.Lock()
	if e.socket == sock {
		e.socket = nil
		e.state = Disconnected
	}
	e.mu.Unlock()
}

// State reports the current connection state for url, Disconnected if
// never seen.
func (c *Cache) State(url transport.URL) State {
	c.mu.Lock()
	e, ok := c.byURL[url.String()]
	c.mu.Unlock()
	if !ok {
		return Disconnected
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close closes every cached socket, aggregating every individual Close
// error into a single error via go.uber.org/multierr rather than
// stopping at the first failure, and marks the cache dying so any
// subsequent Get/GetAny fails immediately with "cache shut down" instead
// of dialing (spec §4.2 "close()").
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	entries := make([]*entry, 0, len(c.byURL))
	for _, e := range c.byURL {
		entries = append(entries, e)
	}
	c.byURL = map[string]*entry{}
	c.mu.Unlock()

	var errs error
	for _, e := range entries {
		e.mu.Lock()
		sock := e.socket
		e.socket = nil
		e.state = Disconnected
		e.mu.Unlock()
		if sock != nil {
			errs = multierr.Append(errs, sock.Close())
		}
	}
	return errs
}
