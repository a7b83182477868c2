package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/distribd/qimw/directory"
	"github.com/distribd/qimw/internal/transport/grpctransport"
	"github.com/distribd/qimw/transport"
)

// serveDirectory runs srv's accept loop, binding each accepted socket to
// dir, and signals bound once a socket has been fully bound so a test
// can dial and call against it without racing directory.Bind.
func serveDirectory(srv *grpctransport.Server, dir *directory.Directory) <-chan struct{} {
	bound := make(chan struct{}, 1)
	go func() {
		for sock := range srv.Accept() {
			directory.Bind(sock, dir, JSONCodec{})
			select {
			case bound <- struct{}{}:
			default:
			}
		}
	}()
	return bound
}

// TestRemoteDirectoryClientResolvesAcrossRealSockets runs a directory
// behind a real gRPC listener, as a genuinely separate peer from the
// RemoteDirectoryClient dialing it — the end-to-end path spec §2's data
// flow and §4.6 describe, not an in-process Go call.
func TestRemoteDirectoryClientResolvesAcrossRealSockets(t *testing.T) {
	url := transport.URL{Protocol: "tcp", Host: "127.0.0.1", Port: 0}
	srv, err := grpctransport.Listen(url)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	dir := directory.New("host-1", nil)
	id, err := dir.RegisterService(directory.ServiceInfo{
		Name:      "echo",
		MachineID: "host-1",
		Endpoints: []transport.URL{{Protocol: "tcp", Host: "127.0.0.1", Port: 9001}},
	}, nil)
	if err != nil || id == 0 {
		t.Fatalf("RegisterService: id=%d err=%v", id, err)
	}
	if err := dir.ServiceReady(id); err != nil {
		t.Fatalf("ServiceReady: %v", err)
	}

	bound := serveDirectory(srv, dir)

	addr := srv.Addr().(*net.TCPAddr)
	dialURL := transport.URL{Protocol: "tcp", Host: "127.0.0.1", Port: uint16(addr.Port)}

	dialer := grpctransport.NewDialer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sock, err := dialer.Dial(ctx, dialURL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sock.Close()
	<-bound // wait for the server side to have Bind-ed this socket

	client := NewRemoteDirectoryClient(sock, JSONCodec{})
	defer client.Close()

	info, err := client.Service(ctx, "echo")
	if err != nil {
		t.Fatalf("Service: %v", err)
	}
	if info.ServiceID != id {
		t.Fatalf("got ServiceID %d, want %d", info.ServiceID, id)
	}
	if info.MachineID != "host-1" {
		t.Fatalf("got MachineID %q, want host-1", info.MachineID)
	}
	if len(info.Endpoints) != 1 || info.Endpoints[0].String() != "tcp://127.0.0.1:9001" {
		t.Fatalf("got Endpoints %+v, want [tcp://127.0.0.1:9001]", info.Endpoints)
	}

	if sock, ok := client.LocalSocket(); !ok || sock == nil {
		t.Fatal("RemoteDirectoryClient.LocalSocket should report a real backing socket")
	}
}

func TestRemoteDirectoryClientErrorsForUnknownService(t *testing.T) {
	url := transport.URL{Protocol: "tcp", Host: "127.0.0.1", Port: 0}
	srv, err := grpctransport.Listen(url)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	dir := directory.New("host-1", nil)
	bound := serveDirectory(srv, dir)

	addr := srv.Addr().(*net.TCPAddr)
	dialURL := transport.URL{Protocol: "tcp", Host: "127.0.0.1", Port: uint16(addr.Port)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sock, err := grpctransport.NewDialer().Dial(ctx, dialURL)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer sock.Close()
	<-bound

	client := NewRemoteDirectoryClient(sock, JSONCodec{})
	defer client.Close()

	if _, err := client.Service(ctx, "missing"); err == nil {
		t.Fatal("expected an error resolving an unregistered name")
	}
}
