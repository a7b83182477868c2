// Package directory implements C5: the authoritative service name
// registry (spec §4.5). It tracks which service ID was registered over
// which socket so that a socket disconnect unregisters everything that
// came in over it, and emits ServiceRegistered/ServiceUnregistered
// signals to every subscriber.
package directory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/distribd/qimw/object"
	"github.com/distribd/qimw/transport"
)

// BootstrapServiceID is the directory's own, fixed service ID (spec §3
// "the ID 1 is reserved for the directory itself").
const BootstrapServiceID uint32 = 1

// ServiceInfo is a registered service's name, assigned ID, host machine
// and ordered endpoint list (spec §3).
type ServiceInfo struct {
	Name      string
	ServiceID uint32
	MachineID string
	Endpoints []transport.URL
}

// Directory is the name → ServiceInfo registry. Service ID 1 is reserved
// for the directory itself at construction time, per spec §3.
type Directory struct {
	mu sync.Mutex

	nextID uint32

	nameToID    map[string]uint32
	pending     map[uint32]ServiceInfo
	connected   map[uint32]ServiceInfo
	socketToIDs map[transport.Socket]map[uint32]struct{}

	registered   *signalFanout
	unregistered *signalFanout
}

// New returns a Directory with its own bootstrap entry already registered
// and ready under BootstrapServiceID, asserting the invariant that the
// very first ID ever assigned is 1 (spec §3 "the directory bootstraps
// itself by registering under ID 1 before serving any other request").
func New(machineID string, endpoints []transport.URL) *Directory {
	d := &Directory{
		nextID:       BootstrapServiceID,
		nameToID:     map[string]uint32{},
		pending:      map[uint32]ServiceInfo{},
		connected:    map[uint32]ServiceInfo{},
		socketToIDs:  map[transport.Socket]map[uint32]struct{}{},
		registered:   newSignalFanout(),
		unregistered: newSignalFanout(),
	}
	id, _ := d.registerService(ServiceInfo{
		Name:      "ServiceDirectory",
		MachineID: machineID,
		Endpoints: endpoints,
	}, nil)
	if id != BootstrapServiceID {
		panic("directory: bootstrap registration did not receive id 1")
	}
	_ = d.ServiceReady(id)
	return d
}

// RegisterService assigns info a new ID and records it as pending,
// returning 0 if the name is already taken (spec §4.5). sock is the
// connection the registration arrived on, for disconnect cleanup; nil
// for the directory's own bootstrap entry.
func (d *Directory) RegisterService(info ServiceInfo, sock transport.Socket) (uint32, error) {
	return d.registerService(info, sock)
}

func (d *Directory) registerService(info ServiceInfo, sock transport.Socket) (uint32, error) {
	if info.MachineID == "" {
		info.MachineID = object.MachineID()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.nameToID[info.Name]; taken {
		slog.Warn("service already registered", "component", "directory", "name", info.Name)
		return 0, nil
	}

	id := d.nextID
	d.nextID++
	info.ServiceID = id

	d.nameToID[info.Name] = id
	d.pending[id] = info

	if sock != nil {
		ids, ok := d.socketToIDs[sock]
		if !ok {
			ids = map[uint32]struct{}{}
			d.socketToIDs[sock] = ids
		}
		ids[id] = struct{}{}
	}

	return id, nil
}

// ServiceReady promotes a pending registration to connected and emits a
// ServiceRegistered event (spec §4.5).
func (d *Directory) ServiceReady(id uint32) error {
	d.mu.Lock()
	info, ok := d.pending[id]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("directory: service %d is not pending", id)
	}
	delete(d.pending, id)
	d.connected[id] = info
	d.mu.Unlock()

	d.serviceReady(id)
	return nil
}

func (d *Directory) serviceReady(id uint32) {
	d.mu.Lock()
	info := d.connected[id]
	d.mu.Unlock()
	d.registered.emit(info)
}

// UnregisterService removes id from every index and emits a
// ServiceUnregistered event to subscribers (spec §4.5).
func (d *Directory) UnregisterService(id uint32) error {
	d.mu.Lock()
	info, ok := d.connected[id]
	if !ok {
		info, ok = d.pending[id]
	}
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("directory: no such service %d", id)
	}
	delete(d.nameToID, info.Name)
	delete(d.connected, id)
	delete(d.pending, id)
	for _, ids := range d.socketToIDs {
		delete(ids, id)
	}
	d.mu.Unlock()

	d.unregistered.emit(info)
	return nil
}

// Services returns a snapshot of every connected (ready) service.
func (d *Directory) Services() []ServiceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]ServiceInfo, 0, len(d.connected))
	for _, info := range d.connected {
		out = append(out, info)
	}
	return out
}

// Service returns the connected entry named name, or the zero value if
// absent (spec §4.5 "service(name) → empty record when absent").
func (d *Directory) Service(name string) ServiceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	id, ok := d.nameToID[name]
	if !ok {
		return ServiceInfo{}
	}
	if info, ok := d.connected[id]; ok {
		return info
	}
	return ServiceInfo{}
}

// HandleDisconnect unregisters every service that was registered over
// sock. It snapshots the ID list before unregistering because
// UnregisterService mutates socketToIDs out from under an in-progress
// range (spec §4.5 "disconnect cleanup").
func (d *Directory) HandleDisconnect(sock transport.Socket) {
	d.mu.Lock()
	ids := d.socketToIDs[sock]
	snapshot := make([]uint32, 0, len(ids))
	for id := range ids {
		snapshot = append(snapshot, id)
	}
	delete(d.socketToIDs, sock)
	d.mu.Unlock()

	for _, id := range snapshot {
		_ = d.UnregisterService(id)
	}
}

// LocalClient adapts an in-process Directory to the shape
// resolver.DirectoryClient expects (structurally — this package does not
// import resolver, to avoid a cycle): Service resolves synchronously
// since no network hop is involved, and LocalSocket always reports false,
// since a genuinely in-process directory has no backing socket for the
// ClientServerSocket capability shortcut to apply to (spec §4.6).
type LocalClient struct {
	Dir *Directory
}

// Service implements resolver.DirectoryClient.
func (c LocalClient) Service(ctx context.Context, name string) (ServiceInfo, error) {
	info := c.Dir.Service(name)
	if info.Name == "" {
		return ServiceInfo{}, fmt.Errorf("directory: no such service %q", name)
	}
	return info, nil
}

// LocalSocket implements resolver.DirectoryClient.
func (c LocalClient) LocalSocket() (transport.Socket, bool) { return nil, false }

// OnServiceRegistered subscribes to ServiceRegistered events, returning a
// SignalLink for UnsubscribeRegistered.
func (d *Directory) OnServiceRegistered(fn func(ServiceInfo)) object.SignalLink {
	return d.registered.connect(fn)
}

// OnServiceUnregistered subscribes to ServiceUnregistered events.
func (d *Directory) OnServiceUnregistered(fn func(ServiceInfo)) object.SignalLink {
	return d.unregistered.connect(fn)
}

// UnsubscribeRegistered removes a subscription installed by
// OnServiceRegistered.
func (d *Directory) UnsubscribeRegistered(link object.SignalLink) bool {
	return d.registered.disconnect(link)
}

// UnsubscribeUnregistered removes a subscription installed by
// OnServiceUnregistered.
func (d *Directory) UnsubscribeUnregistered(link object.SignalLink) bool {
	return d.unregistered.disconnect(link)
}
