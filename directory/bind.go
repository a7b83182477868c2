package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/distribd/qimw/object"
	"github.com/distribd/qimw/transport"
)

// WireCodec is however a bound socket's Call/Reply payloads are encoded.
// resolver.JSONCodec satisfies this structurally; this package does not
// import resolver, to avoid a cycle (resolver already imports directory).
type WireCodec interface {
	DecodeParams(payload []byte) ([]object.Value, error)
	EncodeValue(v object.Value) ([]byte, error)
}

// Bind exposes dir's five remote operations (spec §4.5) as method IDs on
// the bootstrap service (id 1) over sock, dispatched through the same
// dynamic object machinery (object.Object.MetaCall) every other object in
// the core uses — not a hand-rolled switch per wire action — and
// unregisters everything sock registered once it disconnects.
func Bind(sock transport.Socket, dir *Directory, codec WireCodec) {
	obj := NewBoundObject(dir, sock)

	sock.Bind(BootstrapServiceID, func(ctx context.Context, msg transport.Message) (transport.Message, error) {
		params, err := codec.DecodeParams(msg.Payload)
		if err != nil {
			return transport.Message{}, fmt.Errorf("directory: decoding action %d params: %w", msg.Action, err)
		}

		v, err := obj.MetaCall(ctx, msg.Action, params, object.CallDirect, "", nil).Wait(ctx)
		if err != nil {
			payload, _ := codec.EncodeValue(object.From(err.Error()))
			return transport.Message{Type: transport.Error, Service: msg.Service, Object: msg.Object, Action: msg.Action, Payload: payload}, nil
		}

		payload, err := codec.EncodeValue(v)
		if err != nil {
			return transport.Message{}, fmt.Errorf("directory: encoding action %d result: %w", msg.Action, err)
		}
		return transport.Message{Type: transport.Reply, Service: msg.Service, Object: msg.Object, Action: msg.Action, Payload: payload}, nil
	})

	go func() {
		err := <-sock.Disconnected()
		dir.HandleDisconnect(sock)
		slog.Info("socket disconnected", "component", "directory", "error", err)
	}()
}
