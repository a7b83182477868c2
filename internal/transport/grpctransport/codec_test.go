package grpctransport

import (
	"bytes"
	"testing"

	"github.com/distribd/qimw/transport"
)

func TestMessageCodecRoundTrip(t *testing.T) {
	want := &transport.Message{Type: transport.Call, Service: 1, Object: 2, Action: 3, Payload: []byte("hello")}

	c := messageCodec{}
	data, err := c.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got transport.Message
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Type != want.Type || got.Service != want.Service || got.Object != want.Object || got.Action != want.Action {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if !bytes.Equal(got.Payload, want.Payload) {
		t.Fatalf("got payload %q, want %q", got.Payload, want.Payload)
	}
}

func TestMessageCodecRoundTripEmptyPayload(t *testing.T) {
	want := &transport.Message{Type: transport.Reply, Service: 5}
	c := messageCodec{}
	data, err := c.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got transport.Message
	if err := c.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(got.Payload) != 0 {
		t.Fatalf("got payload %q, want empty", got.Payload)
	}
}

func TestMessageCodecRejectsShortFrame(t *testing.T) {
	c := messageCodec{}
	var got transport.Message
	if err := c.Unmarshal([]byte{1, 2, 3}, &got); err == nil {
		t.Fatal("expected an error unmarshalling a frame shorter than the fixed header")
	}
}

func TestMessageCodecRejectsTruncatedPayload(t *testing.T) {
	want := &transport.Message{Type: transport.Call, Payload: []byte("hello world")}
	c := messageCodec{}
	data, err := c.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got transport.Message
	if err := c.Unmarshal(data[:len(data)-3], &got); err == nil {
		t.Fatal("expected an error unmarshalling a frame whose declared payload length exceeds the data")
	}
}

func TestDialerProtocolIsTCP(t *testing.T) {
	d := NewDialer()
	if got := d.Protocol(); got != "tcp" {
		t.Fatalf("got %q, want tcp", got)
	}
}
