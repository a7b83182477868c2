package directory

import (
	"context"
	"testing"

	"github.com/distribd/qimw/transport"
)

type fakeSocket struct {
	disconnected chan error
}

func newFakeSocket() *fakeSocket { return &fakeSocket{disconnected: make(chan error, 1)} }

func (f *fakeSocket) URL() transport.URL                               { return transport.URL{} }
func (f *fakeSocket) Send(transport.Message) error                     { return nil }
func (f *fakeSocket) Recv() <-chan transport.Message                   { return nil }
func (f *fakeSocket) Disconnected() <-chan error                       { return f.disconnected }
func (f *fakeSocket) RemoteCapability(name string, def bool) bool      { return def }
func (f *fakeSocket) Bind(serviceID uint32, h transport.Handler)       {}
func (f *fakeSocket) Close() error                                     { return nil }

func TestNewBootstrapsAsServiceID1(t *testing.T) {
	dir := New("host-1", nil)
	info := dir.Service("ServiceDirectory")
	if info.ServiceID != BootstrapServiceID {
		t.Fatalf("got bootstrap id %d, want %d", info.ServiceID, BootstrapServiceID)
	}
}

func TestRegisterServiceRejectsDuplicateName(t *testing.T) {
	dir := New("host-1", nil)
	id1, err := dir.RegisterService(ServiceInfo{Name: "echo"}, nil)
	if err != nil || id1 == 0 {
		t.Fatalf("first registration should succeed, got id=%d err=%v", id1, err)
	}
	id2, err := dir.RegisterService(ServiceInfo{Name: "echo"}, nil)
	if err != nil {
		t.Fatalf("duplicate registration should not error, got %v", err)
	}
	if id2 != 0 {
		t.Fatalf("got id %d for a duplicate name, want 0", id2)
	}
}

func TestRegisterServiceDefaultsMachineID(t *testing.T) {
	dir := New("host-1", nil)
	id, _ := dir.RegisterService(ServiceInfo{Name: "echo"}, nil)
	_ = dir.ServiceReady(id)
	info := dir.Service("echo")
	if info.MachineID == "" {
		t.Fatal("machine id should default to a non-empty value when not supplied")
	}
}

func TestServiceReadyEmitsServiceRegistered(t *testing.T) {
	dir := New("host-1", nil)
	var seen []string
	dir.OnServiceRegistered(func(info ServiceInfo) { seen = append(seen, info.Name) })

	id, _ := dir.RegisterService(ServiceInfo{Name: "echo"}, nil)
	if err := dir.ServiceReady(id); err != nil {
		t.Fatalf("ServiceReady: %v", err)
	}

	if len(seen) != 1 || seen[0] != "echo" {
		t.Fatalf("got %v, want [echo]", seen)
	}
}

func TestServiceInvisibleUntilReady(t *testing.T) {
	dir := New("host-1", nil)
	id, _ := dir.RegisterService(ServiceInfo{Name: "echo"}, nil)
	_ = id
	if info := dir.Service("echo"); info.Name != "" {
		t.Fatalf("a pending service should not be visible via Service(), got %+v", info)
	}
}

func TestUnregisterServiceEmitsServiceUnregistered(t *testing.T) {
	dir := New("host-1", nil)
	var seen []string
	dir.OnServiceUnregistered(func(info ServiceInfo) { seen = append(seen, info.Name) })

	id, _ := dir.RegisterService(ServiceInfo{Name: "echo"}, nil)
	_ = dir.ServiceReady(id)
	if err := dir.UnregisterService(id); err != nil {
		t.Fatalf("UnregisterService: %v", err)
	}
	if len(seen) != 1 || seen[0] != "echo" {
		t.Fatalf("got %v, want [echo]", seen)
	}
	if info := dir.Service("echo"); info.Name != "" {
		t.Fatal("service should be gone after unregistering")
	}
}

func TestHandleDisconnectUnregistersEverythingOnThatSocket(t *testing.T) {
	dir := New("host-1", nil)
	sock := newFakeSocket()

	idA, _ := dir.RegisterService(ServiceInfo{Name: "a"}, sock)
	idB, _ := dir.RegisterService(ServiceInfo{Name: "b"}, sock)
	_ = dir.ServiceReady(idA)
	_ = dir.ServiceReady(idB)

	idOther, _ := dir.RegisterService(ServiceInfo{Name: "c"}, newFakeSocket())
	_ = dir.ServiceReady(idOther)

	dir.HandleDisconnect(sock)

	if info := dir.Service("a"); info.Name != "" {
		t.Fatal("service a should be gone after its socket disconnected")
	}
	if info := dir.Service("b"); info.Name != "" {
		t.Fatal("service b should be gone after its socket disconnected")
	}
	if info := dir.Service("c"); info.Name == "" {
		t.Fatal("service c was registered on a different socket and should survive")
	}
}

func TestLocalClientResolvesReadyService(t *testing.T) {
	dir := New("host-1", nil)
	id, _ := dir.RegisterService(ServiceInfo{Name: "echo", Endpoints: []transport.URL{{Protocol: "inproc", Host: "echo", Port: 1}}}, nil)
	if err := dir.ServiceReady(id); err != nil {
		t.Fatalf("ServiceReady: %v", err)
	}

	c := LocalClient{Dir: dir}
	info, err := c.Service(context.Background(), "echo")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if info.ServiceID != id {
		t.Fatalf("got id %d, want %d", info.ServiceID, id)
	}
	if _, ok := c.LocalSocket(); ok {
		t.Fatal("LocalClient.LocalSocket should always report false")
	}
}

func TestLocalClientFailsForUnknownService(t *testing.T) {
	c := LocalClient{Dir: New("host-1", nil)}
	if _, err := c.Service(context.Background(), "missing"); err == nil {
		t.Fatal("expected an error for an unregistered name")
	}
}

func TestUnsubscribeStopsFutureEvents(t *testing.T) {
	dir := New("host-1", nil)
	var count int
	link := dir.OnServiceRegistered(func(ServiceInfo) { count++ })
	if !dir.UnsubscribeRegistered(link) {
		t.Fatal("expected unsubscribe to report success")
	}

	id, _ := dir.RegisterService(ServiceInfo{Name: "echo"}, nil)
	_ = dir.ServiceReady(id)
	if count != 0 {
		t.Fatalf("got %d events after unsubscribing, want 0", count)
	}
}
