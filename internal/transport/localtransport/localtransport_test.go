package localtransport

import (
	"context"
	"testing"
	"time"

	"github.com/distribd/qimw/transport"
)

func TestDialerProtocolIsInproc(t *testing.T) {
	d := NewDialer(NewRegistry())
	if got := d.Protocol(); got != "inproc" {
		t.Fatalf("got %q, want inproc", got)
	}
}

func TestDialWithNoListenerFails(t *testing.T) {
	d := NewDialer(NewRegistry())
	_, err := d.Dial(context.Background(), transport.URL{Protocol: "inproc", Host: "nowhere", Port: 1})
	if err == nil {
		t.Fatal("expected an error dialing an unpublished url")
	}
}

func TestCallRoundTripsThroughBoundHandler(t *testing.T) {
	reg := NewRegistry()
	url := transport.URL{Protocol: "inproc", Host: "svc", Port: 1}
	ln, err := reg.Listen(url)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	ln.Bind(5, func(ctx context.Context, msg transport.Message) (transport.Message, error) {
		return transport.Message{Type: transport.Reply, Service: msg.Service, Object: msg.Object, Action: msg.Action, Payload: []byte("pong")}, nil
	})

	d := NewDialer(reg)
	sock, err := d.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sock.Close()

	if err := sock.Send(transport.Message{Type: transport.Call, Service: 5, Action: 1, Payload: []byte("ping")}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case reply := <-sock.Recv():
		if reply.Type != transport.Reply || string(reply.Payload) != "pong" {
			t.Fatalf("got %+v, want a Reply carrying pong", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("never received a reply")
	}
}

func TestCallToUnboundServiceReturnsError(t *testing.T) {
	reg := NewRegistry()
	url := transport.URL{Protocol: "inproc", Host: "svc", Port: 2}
	ln, err := reg.Listen(url)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	d := NewDialer(reg)
	sock, err := d.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer sock.Close()

	if err := sock.Send(transport.Message{Type: transport.Call, Service: 99, Action: 1}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case reply := <-sock.Recv():
		if reply.Type != transport.Error {
			t.Fatalf("got %+v, want an Error message for an unbound service", reply)
		}
	case <-time.After(time.Second):
		t.Fatal("never received the expected error reply")
	}
}

func TestCloseSignalsDisconnected(t *testing.T) {
	reg := NewRegistry()
	url := transport.URL{Protocol: "inproc", Host: "svc", Port: 3}
	ln, err := reg.Listen(url)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	d := NewDialer(reg)
	sock, err := d.Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := sock.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-sock.Disconnected():
	default:
		t.Fatal("Disconnected channel should be signalled after Close")
	}
	if err := sock.Close(); err != nil {
		t.Fatalf("double close should be a no-op, got %v", err)
	}
}
