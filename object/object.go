// Package object implements C3 (DynamicObject) and C4 (Metadispatch): a
// polymorphic object model keyed by numeric method/signal/property IDs,
// dispatched through an event loop with optional per-object locking,
// statistics and tracing (spec §4.3, §4.4).
package object

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/distribd/qimw/internal/dispatch"
	"github.com/distribd/qimw/internal/eventloop"
)

// Function is a dispatchable method body. ctx carries the caller's
// context (and, when executing inside an event loop, that loop's
// marker — see eventloop.Loop.IsInLoopThread). receiver is the object's
// Manageable facet for framework-range IDs, or the Object itself
// otherwise (spec §4.4 "Parameter handling").
type Function func(ctx context.Context, receiver any, params []Value) (Value, error)

type methodEntry struct {
	fn   Function
	hint ThreadingHint
}

type signalEntry struct {
	sig       *signalBase
	ownedByUs bool
}

type propertyEntry struct {
	prop      *propertyBase
	ownedByUs bool
}

// Object is the dynamic object runtime: method/signal/property tables
// keyed by numeric ID, plus the metadata catalog and threading policy
// that Metadispatch consults on every call.
type Object struct {
	mu sync.RWMutex

	methods    map[uint32]*methodEntry
	signals    map[uint32]*signalEntry
	properties map[uint32]*propertyEntry
	meta       MetaObject

	threadingModel ThreadingModel
	loop           eventloop.Loop

	// Manageable facet: stats/trace toggles and storage.
	manageable *Manageable
}

// Manageable is the framework-provided operation set grafted onto every
// DynamicObject: call statistics, tracing, and event-loop hookup (spec
// §9 glossary). It is also the receiver object handed to method bodies
// registered in the Manageable ID range.
type Manageable struct {
	mu           sync.Mutex
	statsEnabled bool
	traceEnabled bool
	histogram    *dispatch.Histogram
	traces       *dispatch.TraceRing[EventTrace]
	lockTimeout  time.Duration
	objectLock   *timedMutex
}

// NewObject returns an empty Object bound to loop (nil is allowed: with a
// nil loop, MetaCall runs every async dispatch on a new goroutine).
func NewObject(meta MetaObject, threadingModel ThreadingModel, loop eventloop.Loop) *Object {
	o := &Object{
		methods:    map[uint32]*methodEntry{},
		signals:    map[uint32]*signalEntry{},
		properties: map[uint32]*propertyEntry{},
		meta:       meta,
		threadingModel: threadingModel,
		loop:       loop,
		manageable: &Manageable{
			histogram:   dispatch.NewHistogram(64, 10*time.Minute),
			traces:      dispatch.NewTraceRing[EventTrace](1024),
			lockTimeout: DeadlockTimeout(),
		},
	}
	if threadingModel == ThreadingSingleThread {
		o.manageable.objectLock = newTimedMutex()
	}
	return o
}

// SetMethod registers a method body under id.
func (o *Object) SetMethod(id uint32, fn Function, hint ThreadingHint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.methods[id] = &methodEntry{fn: fn, hint: hint}
}

// SetSignal installs a user-supplied signal — ownedByUs is false, so
// destruction leaves it alone (spec §9 "owned-by-us flag").
func (o *Object) SetSignal(id uint32, name string, paramsSig Signature) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.signals[id] = &signalEntry{sig: newSignalBase(), ownedByUs: false}
	o.meta.AddSignal(MetaSignal{ID: id, Name: name, ParamsSignature: paramsSig})
}

// SetProperty installs a user-supplied property.
func (o *Object) SetProperty(id uint32, name string, sig Signature, initial Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pb := newPropertyBase(nil)
	pb.val = initial
	o.properties[id] = &propertyEntry{prop: pb, ownedByUs: false}
	o.meta.AddProperty(MetaProperty{ID: id, Name: name, Signature: sig})
	// wire the property's signal lazily via createSignal on first connect
}

// MetaObject returns the object's introspection catalog.
func (o *Object) MetaObject() MetaObject {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.meta
}

// EnableStats turns on per-method call statistics collection.
func (o *Object) EnableStats(on bool) { o.manageable.mu.Lock(); o.manageable.statsEnabled = on; o.manageable.mu.Unlock() }

// EnableTrace turns on Call/Result/Error trace emission.
func (o *Object) EnableTrace(on bool) { o.manageable.mu.Lock(); o.manageable.traceEnabled = on; o.manageable.mu.Unlock() }

// Stats returns the recorded statistics for methodID.
func (o *Object) Stats(methodID uint32) dispatch.MethodStats {
	return o.manageable.histogram.Stats(methodID)
}

// Traces returns every currently-retained trace event, in no particular
// order (the ring is a bounded LRU, not a log).
func (o *Object) Traces() []EventTrace { return o.manageable.traces.All() }

// createSignal materializes the signal for id on first use: it may
// already exist, may be the implicit change-signal of a property, or may
// come straight from the meta object's catalog (spec §4.3 "Signal
// materialization"). Returns nil if id is not a known signal or
// property.
func (o *Object) createSignal(id uint32) *signalBase {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.signals[id]; ok {
		return e.sig
	}
	if pe, ok := o.properties[id]; ok {
		if pe.prop.signal == nil {
			pe.prop.signal = newSignalBase()
		}
		o.signals[id] = &signalEntry{sig: pe.prop.signal, ownedByUs: false}
		return pe.prop.signal
	}
	if _, ok := o.meta.Signal(id); ok {
		sb := newSignalBase()
		o.signals[id] = &signalEntry{sig: sb, ownedByUs: true}
		return sb
	}
	return nil
}

func (o *Object) property(id uint32) (*propertyBase, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if pe, ok := o.properties[id]; ok {
		return pe.prop, nil
	}
	mp, ok := o.meta.Property(id)
	if !ok {
		return nil, fmt.Errorf("object: id %d is not a property", id)
	}
	pb := newPropertyBase(nil)
	// A signal already materialized under this id (a MetaConnect before
	// the first read or write) becomes the property's change signal.
	if se, ok := o.signals[id]; ok {
		pb.signal = se.sig
	}
	o.properties[id] = &propertyEntry{prop: pb, ownedByUs: true}
	_ = mp
	return pb, nil
}

// MetaConnect subscribes sub to event/property id, returning an opaque
// SignalLink for later MetaDisconnect (spec §4.3). Subscribing to a
// property ID subscribes to its change signal.
func (o *Object) MetaConnect(eventID uint32, sub Subscriber) (SignalLink, error) {
	s := o.createSignal(eventID)
	if s == nil {
		return 0, fmt.Errorf("object: cannot find signal %d", eventID)
	}
	local := s.connect(sub)
	return MakeSignalLink(eventID, local), nil
}

// MetaDisconnect removes the subscription identified by link.
func (o *Object) MetaDisconnect(link SignalLink) error {
	s := o.createSignal(link.EventID())
	if s == nil {
		return fmt.Errorf("object: cannot find local signal connection")
	}
	if !s.disconnect(link.localID()) {
		return fmt.Errorf("object: cannot find local signal connection")
	}
	return nil
}

// MetaProperty reads a property's current value.
func (o *Object) MetaProperty(id uint32) (Value, error) {
	p, err := o.property(id)
	if err != nil {
		return Value{}, err
	}
	return p.value(), nil
}

// MetaSetProperty writes a property's value and triggers its signal.
func (o *Object) MetaSetProperty(id uint32, v Value) error {
	p, err := o.property(id)
	if err != nil {
		return err
	}
	p.setValue(v)
	return nil
}

// MetaPost is fire-and-forget: if signalID is actually a method, it is
// dispatched as a queued call and any error is logged, never propagated
// (spec §4.3, §7 "metaPost... logs and drops").
func (o *Object) MetaPost(ctx context.Context, signalID uint32, params []Value) {
	if s := o.createSignal(signalID); s != nil {
		s.trigger(params)
		return
	}
	if _, ok := o.meta.Method(signalID); ok {
		fut := o.MetaCall(ctx, signalID, params, CallQueued, "", nil)
		go func() {
			if _, err := fut.Wait(context.Background()); err != nil {
				o.logPostError(signalID, err)
			}
		}()
		return
	}
	o.logPostError(signalID, fmt.Errorf("no such event %d", signalID))
}

func (o *Object) logPostError(id uint32, err error) {
	// Deliberately swallowed beyond a log line: metaPost never
	// propagates (spec §7).
	slog.Warn("metaPost failed", "component", "object", "event", id, "error", err)
}
