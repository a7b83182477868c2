package resolver

import (
	"context"
	"fmt"

	"github.com/distribd/qimw/directory"
	"github.com/distribd/qimw/object"
	"github.com/distribd/qimw/transport"
)

// DirectoryMetaFetcher is the production MetaFetcher for a directoryd
// peer's bootstrap object. Unlike an arbitrary service's metaobject,
// directory.Meta() is a fixed part of the wire contract every directoryd
// implements — it needs no wire round trip to discover, the same way a
// gRPC client's reflection root descriptor is compiled in rather than
// fetched via reflection on itself.
func DirectoryMetaFetcher(_ context.Context, _ transport.Socket, _ uint32) (object.MetaObject, error) {
	return directory.Meta(), nil
}

// RemoteDirectoryClient implements DirectoryClient by issuing real wire
// calls through a RemoteObject bound to the directory's bootstrap
// service, id 1 (spec §2 data flow, §4.6): Service sends a service(name)
// Call over sock and decodes the reply, instead of
// reading an in-process map the way LocalClient does.
type RemoteDirectoryClient struct {
	ro *RemoteObject
}

// NewRemoteDirectoryClient builds a RemoteDirectoryClient bound to sock,
// which must already be connected to a directoryd-equivalent peer.
func NewRemoteDirectoryClient(sock transport.Socket, codec Codec) *RemoteDirectoryClient {
	ro := NewRemoteObject(sock, directory.BootstrapServiceID, 0, directory.Meta(), codec)
	return &RemoteDirectoryClient{ro: ro}
}

// Service implements DirectoryClient.
func (c *RemoteDirectoryClient) Service(ctx context.Context, name string) (directory.ServiceInfo, error) {
	v, err := c.ro.Object().MetaCall(ctx, directory.ActionService, []object.Value{object.From(name)}, object.CallDirect, "", nil).Wait(ctx)
	if err != nil {
		return directory.ServiceInfo{}, fmt.Errorf("resolver: remote directory service(%s): %w", name, err)
	}
	info, err := directory.ValueToServiceInfo(v)
	if err != nil {
		// service(name) replies with an empty record for an absent
		// service (spec §4.5); ValueToServiceInfo rejects a nameless
		// record, so that case surfaces here as "no such service".
		return directory.ServiceInfo{}, fmt.Errorf("resolver: no such service %q", name)
	}
	return info, nil
}

// LocalSocket implements DirectoryClient: a RemoteDirectoryClient always
// has a backing socket (unlike LocalClient, which has none), so the
// resolver can try the ClientServerSocket capability shortcut against it.
func (c *RemoteDirectoryClient) LocalSocket() (transport.Socket, bool) {
	return c.ro.Socket(), true
}

// Close releases the underlying RemoteObject.
func (c *RemoteDirectoryClient) Close() error { return c.ro.Close() }
