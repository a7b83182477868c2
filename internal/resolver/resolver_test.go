package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/distribd/qimw/directory"
	"github.com/distribd/qimw/internal/socketcache"
	"github.com/distribd/qimw/internal/transport/localtransport"
	"github.com/distribd/qimw/object"
	"github.com/distribd/qimw/transport"
)

type mapRegistrar struct {
	services map[string]*object.Object
}

func (m *mapRegistrar) Lookup(name string) (*object.Object, bool) {
	obj, ok := m.services[name]
	return obj, ok
}

type fakeDirClient struct {
	infos map[string]directory.ServiceInfo
}

func (f *fakeDirClient) Service(ctx context.Context, name string) (directory.ServiceInfo, error) {
	info, ok := f.infos[name]
	if !ok {
		return directory.ServiceInfo{}, nil
	}
	return info, nil
}

func (f *fakeDirClient) LocalSocket() (transport.Socket, bool) { return nil, false }

const echoMethodID = 1

func echoMeta() object.MetaObject {
	m := object.NewMetaObject()
	m.AddMethod(object.MetaMethod{ID: echoMethodID, Name: "echo", ParamsSignature: "s", ReturnSignature: "s"})
	return m
}

func staticMeta(meta object.MetaObject) MetaFetcher {
	return func(ctx context.Context, sock transport.Socket, serviceID uint32) (object.MetaObject, error) {
		return meta, nil
	}
}

func TestServiceReturnsLocalObjectWithoutTouchingDirectory(t *testing.T) {
	meta := echoMeta()
	obj := object.NewObject(meta, object.ThreadingMultiThread, nil)
	obj.SetMethod(echoMethodID, func(ctx context.Context, _ any, params []object.Value) (object.Value, error) {
		return params[0], nil
	}, object.HintAuto)

	r := New(nil, &fakeDirClient{}, &mapRegistrar{services: map[string]*object.Object{"echo": obj}}, nil, JSONCodec{}, nil)

	got, err := r.Service(context.Background(), "echo", "")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if got != obj {
		t.Fatal("expected the exact local object instance back")
	}
}

func TestServiceLocalProtocolFailsWhenNotLocallyHosted(t *testing.T) {
	r := New(nil, &fakeDirClient{}, &mapRegistrar{services: map[string]*object.Object{}}, nil, JSONCodec{}, nil)
	_, err := r.Service(context.Background(), "missing", "local")
	if err == nil {
		t.Fatal("expected an error requesting protocol=local for a service with no local registration")
	}
}

func TestServiceNoEndpointsFails(t *testing.T) {
	dir := &fakeDirClient{infos: map[string]directory.ServiceInfo{
		"echo": {Name: "echo", ServiceID: 2},
	}}
	r := New(nil, dir, &mapRegistrar{services: map[string]*object.Object{}}, nil, JSONCodec{}, nil)
	_, err := r.Service(context.Background(), "echo", "")
	if err == nil {
		t.Fatal("expected an error resolving a service with no endpoints")
	}
}

// buildRemoteFixture wires a real localtransport listener serving echoMeta's
// one method, and a Resolver configured to reach it as a remote service.
func buildRemoteFixture(t *testing.T) (*Resolver, transport.URL) {
	t.Helper()
	reg := localtransport.NewRegistry()
	url := transport.URL{Protocol: "inproc", Host: "echo-remote", Port: 1}
	ln, err := reg.Listen(url)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(ln.Close)

	remoteObj := object.NewObject(echoMeta(), object.ThreadingMultiThread, nil)
	remoteObj.SetMethod(echoMethodID, func(ctx context.Context, _ any, params []object.Value) (object.Value, error) {
		return params[0], nil
	}, object.HintAuto)

	codec := JSONCodec{}
	ln.Bind(2, func(ctx context.Context, msg transport.Message) (transport.Message, error) {
		params, err := codec.DecodeParams(msg.Payload)
		if err != nil {
			return transport.Message{}, err
		}
		future := remoteObj.MetaCall(ctx, msg.Action, params, object.CallAuto, "", nil)
		result, err := future.Wait(ctx)
		if err != nil {
			return transport.Message{}, err
		}
		payload, err := codec.EncodeValue(result)
		if err != nil {
			return transport.Message{}, err
		}
		return transport.Message{Type: transport.Reply, Service: msg.Service, Object: msg.Object, Action: msg.Action, Payload: payload}, nil
	})

	dir := &fakeDirClient{infos: map[string]directory.ServiceInfo{
		"echo-remote": {Name: "echo-remote", ServiceID: 2, Endpoints: []transport.URL{url}},
	}}

	r := New(
		socketcache.New(localtransport.NewDialer(reg)),
		dir,
		&mapRegistrar{services: map[string]*object.Object{}},
		staticMeta(remoteObj.MetaObject()),
		codec,
		nil,
	)
	return r, url
}

func TestServiceResolvesRemoteObjectAndRoundTrips(t *testing.T) {
	r, _ := buildRemoteFixture(t)

	obj, err := r.Service(context.Background(), "echo-remote", "")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	future := obj.MetaCall(ctx, echoMethodID, []object.Value{object.From("hi")}, object.CallAuto, "", nil)
	v, err := future.Wait(ctx)
	if err != nil {
		t.Fatalf("remote call failed: %v", err)
	}
	if v.Scalar != "hi" {
		t.Fatalf("got %v, want hi", v.Scalar)
	}
}

func TestServiceCachesRemoteObjectAcrossCalls(t *testing.T) {
	r, _ := buildRemoteFixture(t)

	obj1, err := r.Service(context.Background(), "echo-remote", "")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	obj2, err := r.Service(context.Background(), "echo-remote", "")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if obj1 != obj2 {
		t.Fatal("a second Service call for the same name should return the cached proxy")
	}
}

func TestServiceRemovedClosesAndForgetsProxy(t *testing.T) {
	r, _ := buildRemoteFixture(t)
	obj, err := r.Service(context.Background(), "echo-remote", "")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	_ = obj

	r.ServiceRemoved("echo-remote")

	r.mu.Lock()
	_, stillCached := r.remoteObjects["echo-remote"]
	r.mu.Unlock()
	if stillCached {
		t.Fatal("ServiceRemoved should drop the proxy from the cache")
	}
}
