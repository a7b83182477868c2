package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/distribd/qimw/object"
	"github.com/distribd/qimw/transport"
)

// Codec turns method parameters into a wire payload and a reply payload
// back into a result. The actual wire grammar is out of scope (spec §1);
// Codec is the seam a concrete implementation plugs into.
type Codec interface {
	Encode(params []object.Value) ([]byte, error)
	Decode(payload []byte) (object.Value, error)
}

// MetaFetcher retrieves the MetaObject for serviceID over sock. Decoding
// the metadata wire format is likewise out of scope; callers supply
// however their deployment serializes it.
type MetaFetcher func(ctx context.Context, sock transport.Socket, serviceID uint32) (object.MetaObject, error)

// remoteCall is a single request awaiting its matching Reply/Error
// message, keyed by (objectID, action) since the opaque message shape
// (spec §6) carries no independent call-id field. Only one call per
// (object, action) pair is tracked at a time: a second concurrent call to
// the same action replaces the first call's pending entry.
type remoteCall struct {
	done chan transport.Message
}

// RemoteObject is a proxy bound to (socket, serviceID, metaObject): every
// method call is forwarded over the wire and the reply demultiplexed back
// to the caller (spec §3 "RemoteObject").
type RemoteObject struct {
	sock      transport.Socket
	serviceID uint32
	objectID  uint32
	meta      object.MetaObject
	codec     Codec
	obj       *object.Object

	mu      sync.Mutex
	pending map[uint32]*remoteCall // keyed by action

	closeOnce sync.Once
	closed    chan struct{}
}

// NewRemoteObject builds a RemoteObject and the object.Object proxy whose
// methods forward through it. objectID is almost always 0 (the service's
// main object); it is kept distinct from serviceID to mirror the wire
// message's separate service/object fields (spec §6).
func NewRemoteObject(sock transport.Socket, serviceID, objectID uint32, meta object.MetaObject, codec Codec) *RemoteObject {
	r := &RemoteObject{
		sock:      sock,
		serviceID: serviceID,
		objectID:  objectID,
		meta:      meta,
		codec:     codec,
		pending:   map[uint32]*remoteCall{},
		closed:    make(chan struct{}),
	}
	r.obj = object.NewObject(meta, object.ThreadingMultiThread, nil)
	for id, mm := range meta.Methods() {
		id, mm := id, mm
		r.obj.SetMethod(id, func(ctx context.Context, _ any, params []object.Value) (object.Value, error) {
			return r.call(ctx, mm.ID, params)
		}, object.HintAuto)
	}
	go r.pump()
	return r
}

// Object returns the local proxy object.
func (r *RemoteObject) Object() *object.Object { return r.obj }

// Socket returns the backing socket this proxy forwards calls over.
func (r *RemoteObject) Socket() transport.Socket { return r.sock }

// pump demultiplexes inbound Reply/Error messages to their waiting
// caller, and tears the proxy down on disconnect.
func (r *RemoteObject) pump() {
	for {
		select {
		case msg, ok := <-r.sock.Recv():
			if !ok {
				r.Close()
				return
			}
			if msg.Object != r.objectID {
				continue
			}
			r.mu.Lock()
			rc, ok := r.pending[msg.Action]
			if ok {
				delete(r.pending, msg.Action)
			}
			r.mu.Unlock()
			if ok {
				rc.done <- msg
			}
		case <-r.closed:
			return
		}
	}
}

func (r *RemoteObject) call(ctx context.Context, action uint32, params []object.Value) (object.Value, error) {
	payload, err := r.codec.Encode(params)
	if err != nil {
		return object.Value{}, fmt.Errorf("resolver: encoding call to action %d: %w", action, err)
	}

	rc := &remoteCall{done: make(chan transport.Message, 1)}
	r.mu.Lock()
	r.pending[action] = rc
	r.mu.Unlock()

	if err := r.sock.Send(transport.Message{
		Type:    transport.Call,
		Service: r.serviceID,
		Object:  r.objectID,
		Action:  action,
		Payload: payload,
	}); err != nil {
		r.mu.Lock()
		delete(r.pending, action)
		r.mu.Unlock()
		return object.Value{}, fmt.Errorf("resolver: sending call to action %d: %w", action, err)
	}

	select {
	case msg := <-rc.done:
		if msg.Type == transport.Error {
			v, _ := r.codec.Decode(msg.Payload)
			return object.Value{}, fmt.Errorf("resolver: remote error calling action %d: %s", action, v.String())
		}
		return r.codec.Decode(msg.Payload)
	case <-r.closed:
		return object.Value{}, fmt.Errorf("resolver: remote object closed during call to action %d", action)
	case <-ctx.Done():
		return object.Value{}, ctx.Err()
	}
}

// Close tears the proxy down. Idempotent.
func (r *RemoteObject) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}
