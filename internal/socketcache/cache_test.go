package socketcache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/distribd/qimw/transport"
)

type fakeSocket struct {
	disconnected chan error
	closed       atomic.Bool
}

func newFakeSocket() *fakeSocket { return &fakeSocket{disconnected: make(chan error, 1)} }

func (f *fakeSocket) URL() transport.URL                          { return transport.URL{} }
func (f *fakeSocket) Send(transport.Message) error                { return nil }
func (f *fakeSocket) Recv() <-chan transport.Message               { return nil }
func (f *fakeSocket) Disconnected() <-chan error                   { return f.disconnected }
func (f *fakeSocket) RemoteCapability(name string, def bool) bool  { return def }
func (f *fakeSocket) Bind(serviceID uint32, h transport.Handler)   {}
func (f *fakeSocket) Close() error                                 { f.closed.Store(true); return nil }

type fakeDialer struct {
	protocol string
	dials    atomic.Int32
	fail     bool
	sock     *fakeSocket
}

func (d *fakeDialer) Protocol() string { return d.protocol }

func (d *fakeDialer) Dial(ctx context.Context, url transport.URL) (transport.Socket, error) {
	d.dials.Add(1)
	if d.fail {
		return nil, errors.New("dial failed")
	}
	return d.sock, nil
}

func TestGetDialsOnceThenCaches(t *testing.T) {
	dialer := &fakeDialer{protocol: "tcp", sock: newFakeSocket()}
	c := New(dialer)
	url := transport.URL{Protocol: "tcp", Host: "h", Port: 1}

	s1, err := c.Get(context.Background(), url)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	s2, err := c.Get(context.Background(), url)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if s1 != s2 {
		t.Fatal("second Get should return the cached socket, not redial")
	}
	if dialer.dials.Load() != 1 {
		t.Fatalf("dialed %d times, want exactly 1", dialer.dials.Load())
	}
	if c.State(url) != Connected {
		t.Fatalf("got state %v, want Connected", c.State(url))
	}
}

func TestGetConcurrentCallsCoalesceIntoOneDial(t *testing.T) {
	dialer := &fakeDialer{protocol: "tcp", sock: newFakeSocket()}
	c := New(dialer)
	url := transport.URL{Protocol: "tcp", Host: "h", Port: 2}

	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			_, _ = c.Get(context.Background(), url)
			done <- struct{}{}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
	if dialer.dials.Load() != 1 {
		t.Fatalf("dialed %d times for %d concurrent callers, want exactly 1", dialer.dials.Load(), n)
	}
}

func TestGetUnknownProtocolFails(t *testing.T) {
	c := New(&fakeDialer{protocol: "tcp", sock: newFakeSocket()})
	_, err := c.Get(context.Background(), transport.URL{Protocol: "udp", Host: "h", Port: 1})
	if err == nil {
		t.Fatal("expected an error for a protocol with no registered dialer")
	}
}

func TestSocketDisconnectResetsStateToRedialable(t *testing.T) {
	sock := newFakeSocket()
	dialer := &fakeDialer{protocol: "tcp", sock: sock}
	c := New(dialer)
	url := transport.URL{Protocol: "tcp", Host: "h", Port: 3}

	if _, err := c.Get(context.Background(), url); err != nil {
		t.Fatalf("Get: %v", err)
	}
	sock.disconnected <- nil

	deadline := time.After(time.Second)
	for c.State(url) != Disconnected {
		select {
		case <-deadline:
			t.Fatal("state never dropped back to Disconnected after the socket disconnected")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestGetAnyTriesEndpointsInOrderAndShortCircuits(t *testing.T) {
	good := newFakeSocket()
	dialer := &fakeDialer{protocol: "tcp", sock: good}
	c := New(dialer)

	endpoints := []transport.URL{
		{Protocol: "tcps", Host: "skip", Port: 1},
		{Protocol: "tcp", Host: "first", Port: 2},
		{Protocol: "tcp", Host: "second", Port: 3},
	}
	sock, err := c.GetAny(context.Background(), endpoints, "tcp")
	if err != nil {
		t.Fatalf("GetAny: %v", err)
	}
	if sock != good {
		t.Fatal("expected the first matching endpoint's socket")
	}
	if dialer.dials.Load() != 1 {
		t.Fatalf("dialed %d times, want exactly 1 (short-circuit on first success)", dialer.dials.Load())
	}
}

func TestGetAnyFailsWhenNoEndpointMatchesProtocol(t *testing.T) {
	c := New(&fakeDialer{protocol: "tcp", sock: newFakeSocket()})
	_, err := c.GetAny(context.Background(), []transport.URL{{Protocol: "tcps", Host: "h", Port: 1}}, "tcp")
	if err == nil {
		t.Fatal("expected an error when no endpoint matches the protocol filter")
	}
}

func TestGetFailsAfterClose(t *testing.T) {
	c := New(&fakeDialer{protocol: "tcp", sock: newFakeSocket()})
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_, err := c.Get(context.Background(), transport.URL{Protocol: "tcp", Host: "h", Port: 1})
	if err == nil {
		t.Fatal("expected Get to fail after Close")
	}
}

func TestCloseAggregatesEveryCachedSocket(t *testing.T) {
	sockA := newFakeSocket()
	sockB := newFakeSocket()
	dialerA := &fakeDialer{protocol: "tcp", sock: sockA}
	dialerB := &fakeDialer{protocol: "tcps", sock: sockB}
	c := New(dialerA, dialerB)

	if _, err := c.Get(context.Background(), transport.URL{Protocol: "tcp", Host: "a", Port: 1}); err != nil {
		t.Fatalf("Get a: %v", err)
	}
	if _, err := c.Get(context.Background(), transport.URL{Protocol: "tcps", Host: "b", Port: 1}); err != nil {
		t.Fatalf("Get b: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !sockA.closed.Load() || !sockB.closed.Load() {
		t.Fatal("Close should close every cached socket")
	}
}
