// Package resolver implements C6: the client-side orchestrator that
// turns a service name into a cached, ready-to-use object.Object proxy
// (spec §4.6 "SessionServiceResolver").
package resolver

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/distribd/qimw/directory"
	"github.com/distribd/qimw/internal/eventloop"
	"github.com/distribd/qimw/internal/socketcache"
	"github.com/distribd/qimw/object"
	"github.com/distribd/qimw/transport"
)

// DirectoryClient is however the resolver reaches the service directory:
// in-process when the directory lives in the same binary, over a
// RemoteObject otherwise.
type DirectoryClient interface {
	Service(ctx context.Context, name string) (directory.ServiceInfo, error)

	// LocalSocket returns the socket backing this client's directory
	// connection, and whether the directory is reachable at all (as
	// opposed to being genuinely local, with no socket). Used for the
	// ClientServerSocket capability shortcut below.
	LocalSocket() (transport.Socket, bool)
}

// LocalRegistrar looks up services hosted in this same process, so
// Service() can return them without going through the directory or a
// socket at all (spec §4.6 "local shortcut").
type LocalRegistrar interface {
	Lookup(name string) (*object.Object, bool)
}

// Resolver is C6. Request coalescing by name is implemented with
// golang.org/x/sync/singleflight rather than a hand-rolled requests
// table: concurrent Service(name) calls for the same name share one
// resolution and are notified in the order Go's singleflight wakes
// waiters, which preserves the single-future-per-name guarantee (spec §5
// "resolving the shared future notifies all waiters in registration
// order") without this package managing its own reqId bookkeeping.
type Resolver struct {
	cache *socketcache.Cache
	dir   DirectoryClient
	local LocalRegistrar
	meta  MetaFetcher
	codec Codec
	loop  eventloop.Loop // used only for deleteLater orphan disposal

	mu            sync.Mutex
	remoteObjects map[string]*RemoteObject
	group         singleflight.Group
}

// New returns a Resolver. loop may be nil; when set, it is used to defer
// disposal of a RemoteObject that loses a registration race, matching the
// orphaned-resource rule below.
func New(cache *socketcache.Cache, dir DirectoryClient, local LocalRegistrar, meta MetaFetcher, codec Codec, loop eventloop.Loop) *Resolver {
	return &Resolver{
		cache:         cache,
		dir:           dir,
		local:         local,
		meta:          meta,
		codec:         codec,
		loop:          loop,
		remoteObjects: map[string]*RemoteObject{},
	}
}

// Service resolves name to an object.Object proxy. protocol filters which
// endpoint family to use ("" or "local" means no preference beyond the
// local shortcut); a non-empty, non-"local" protocol restricts C2's dial
// to a matching endpoint.
func (r *Resolver) Service(ctx context.Context, name string, protocol string) (*object.Object, error) {
	if protocol == "" || protocol == "local" {
		if obj, ok := r.local.Lookup(name); ok {
			return obj, nil
		}
		if protocol == "local" {
			return nil, fmt.Errorf("resolver: no local object for %s", name)
		}
	}

	r.mu.Lock()
	if ro, ok := r.remoteObjects[name]; ok {
		r.mu.Unlock()
		return ro.Object(), nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do(name, func() (any, error) {
		return r.resolve(ctx, name, protocol)
	})
	if err != nil {
		return nil, err
	}
	return v.(*RemoteObject).Object(), nil
}

func (r *Resolver) resolve(ctx context.Context, name, protocol string) (*RemoteObject, error) {
	// Re-check the cache: a previous singleflight call for this name
	// (already evicted from the group by the time we got here) may have
	// just populated it.
	r.mu.Lock()
	if ro, ok := r.remoteObjects[name]; ok {
		r.mu.Unlock()
		return ro, nil
	}
	r.mu.Unlock()

	info, err := r.dir.Service(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("resolver: looking up %s: %w", name, err)
	}
	if len(info.Endpoints) == 0 {
		return nil, fmt.Errorf("resolver: no endpoints for %s", name)
	}

	// REDESIGN: when a protocol was requested and no endpoint offers it,
	// return the error at once rather than going on to request a socket.
	// When protocol is "" every endpoint is a candidate, in order.
	hasMatch := protocol == ""
	for _, ep := range info.Endpoints {
		if ep.Protocol == protocol {
			hasMatch = true
			break
		}
	}
	if !hasMatch {
		return nil, fmt.Errorf("resolver: no %s endpoint for %s", protocol, name)
	}

	var sock transport.Socket
	if dirSock, ok := r.dir.LocalSocket(); ok && dirSock.RemoteCapability("ClientServerSocket", false) {
		// Reuse the directory's existing inbound socket instead of
		// opening a reverse connection to ourselves (spec §4.6).
		sock = dirSock
	} else {
		// GetAny tries every endpoint in order and short-circuits on the
		// first successful connect (spec §4.2 "socket(endpoints,
		// protocolFilter)").
		sock, err = r.cache.GetAny(ctx, info.Endpoints, protocol)
		if err != nil {
			return nil, fmt.Errorf("resolver: connecting to %s: %w", name, err)
		}
	}

	meta, err := r.meta(ctx, sock, info.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("resolver: fetching metaobject for %s: %w", name, err)
	}

	candidate := NewRemoteObject(sock, info.ServiceID, 0, meta, r.codec)

	r.mu.Lock()
	if existing, ok := r.remoteObjects[name]; ok {
		r.mu.Unlock()
		r.disposeOrphan(candidate)
		return existing, nil
	}
	r.remoteObjects[name] = candidate
	r.mu.Unlock()

	return candidate, nil
}

// disposeOrphan closes a RemoteObject that lost a registration race.
// Closing synchronously here would run inside this resolution's own call
// stack, which may itself be a continuation of a signal/callback delivery
// that candidate's own teardown would try to disconnect from — deferring
// to the event loop breaks that reentrant-deadlock path (spec §4.6
// "orphaned-resource rule").
func (r *Resolver) disposeOrphan(candidate *RemoteObject) {
	if r.loop == nil {
		_ = candidate.Close()
		return
	}
	r.loop.Post(0, func(context.Context) { _ = candidate.Close() })
}

// ServiceRemoved drops name from the cache and closes its proxy,
// triggered by a directory ServiceUnregistered event (spec §4.6
// "serviceRemoved").
func (r *Resolver) ServiceRemoved(name string) {
	r.mu.Lock()
	ro, ok := r.remoteObjects[name]
	delete(r.remoteObjects, name)
	r.mu.Unlock()
	if ok {
		_ = ro.Close()
	}
}
