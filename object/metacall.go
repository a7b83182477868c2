package object

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/distribd/qimw/internal/dispatch"
	"github.com/distribd/qimw/internal/eventloop"
)

// tracer emits the same Call/Result/Error facts EventTrace records as
// OpenTelemetry spans — a second view of one fact, not a second source of
// truth (spec §4.4, §7 "log category strings carry component hierarchy").
var tracer = otel.Tracer("github.com/distribd/qimw/object")

// MetaCall dispatches methodID with params, honoring the method's own
// threading hint, the object's threading model, and the caller's
// requested call type — the sync/async decision and locking decision are
// ported verbatim from the original's free metaCall function
// (dynamicobject.cpp):
//
//	sync := true
//	if el != nil: sync = el.isInEventLoopThread()
//	else if methodHint != Auto: sync = methodHint == Direct
//	else: sync = callType != Queued
//
//	doLock := el != nil && objectThreadingModel == SingleThread && methodHint == Auto
//
// returnSig is the optional caller-declared return signature (spec §4.3
// "return signature check"); pass "" to skip the check entirely.
// loopOverride lets a caller dispatch against a different loop than the
// object's own (spec §4.4 "an explicit event loop argument overrides the
// object's"); pass nil to use the object's loop.
func (o *Object) MetaCall(ctx context.Context, methodID uint32, params []Value, callType CallType, returnSig Signature, loopOverride eventloop.Loop) *eventloop.Future[Value] {
	o.mu.RLock()
	me, ok := o.methods[methodID]
	meta, hasMeta := o.meta.Method(methodID)
	o.mu.RUnlock()
	if !ok {
		return eventloop.Failed[Value](fmt.Errorf("object: no such method %d", methodID))
	}

	if returnSig != "" && hasMeta {
		declared := meta.ReturnSignature
		forward := declared.ConvertibleTo(returnSig)
		reverse := returnSig.ConvertibleTo(declared)
		if !forward && !reverse {
			return eventloop.Failed[Value](fmt.Errorf("object: cannot convert %s to %s", declared, returnSig))
		}
		if !forward && reverse {
			slog.Warn("metaCall: only the reverse direction converts, proceeding anyway",
				"component", "object", "method", methodID, "declared", string(declared), "requested", string(returnSig))
		}
	}

	el := o.loop
	if loopOverride != nil {
		el = loopOverride
	}

	var sync bool
	switch {
	case el != nil:
		sync = el.IsInLoopThread(ctx)
	case me.hint != HintAuto:
		sync = me.hint == HintDirect
	default:
		sync = callType != CallQueued
	}

	doLock := el != nil && o.threadingModel == ThreadingSingleThread && me.hint == HintAuto

	traceID := o.beginTrace(methodID, params)

	if sync {
		v, err, sample := o.invoke(ctx, me, methodID, params, doLock)
		o.endTrace(traceID, methodID, v, err, sample)
		if err != nil {
			return eventloop.Failed[Value](err)
		}
		return eventloop.Resolved(v)
	}

	if el == nil {
		p, f := eventloop.NewPromise[Value]()
		go func() {
			v, err, sample := o.invoke(ctx, me, methodID, params, doLock)
			o.endTrace(traceID, methodID, v, err, sample)
			if err != nil {
				p.SetError(err)
				return
			}
			p.SetValue(v)
		}()
		return f
	}

	return eventloop.Async(el, 0, func(loopCtx context.Context) (Value, error) {
		v, err, sample := o.invoke(loopCtx, me, methodID, params, doLock)
		o.endTrace(traceID, methodID, v, err, sample)
		return v, err
	})
}

// invoke runs the method body, optionally under the object's recursive
// lock, and, when EnableStats is on, records wall and CPU time statistics
// whether or not the method body returns an error (spec §4.4 "elapsed
// wall and CPU time"); a call that times out acquiring the lock is not
// recorded. The CPU reading comes from
// measureCPU, which pins the calling goroutine to its OS thread for the
// duration of the call; sample.CPU is zero if the platform's rusage call
// failed, rather than a process-wide approximation that would mislead
// under concurrent dispatch.
func (o *Object) invoke(ctx context.Context, me *methodEntry, methodID uint32, params []Value, doLock bool) (Value, error, dispatch.Sample) {
	ctx, span := tracer.Start(ctx, "metaCall#"+strconv.FormatUint(uint64(methodID), 10))
	defer span.End()

	start := time.Now()

	var receiver any = o
	if IsManageableID(methodID) {
		receiver = o.manageable
	}

	if doLock {
		lockCtx, unlock, err := o.manageable.objectLock.lock(ctx, o.manageable.lockTimeout)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return Value{}, err, dispatch.Sample{Wall: time.Since(start)}
		}
		ctx = lockCtx
		defer unlock()
	}

	var v Value
	var callErr error
	cpu, _ := measureCPU(func() {
		v, callErr = me.fn(ctx, receiver, params)
	})
	sample := dispatch.Sample{Wall: time.Since(start), CPU: cpu}
	o.manageable.mu.Lock()
	statsOn := o.manageable.statsEnabled
	o.manageable.mu.Unlock()
	if statsOn {
		o.manageable.histogram.Record(methodID, sample)
	}
	if callErr != nil {
		span.SetStatus(codes.Error, callErr.Error())
	}
	return v, callErr, sample
}

func (o *Object) beginTrace(methodID uint32, params []Value) uint32 {
	o.manageable.mu.Lock()
	enabled := o.manageable.traceEnabled
	o.manageable.mu.Unlock()
	if !enabled {
		return 0
	}
	id := o.manageable.traces.NextID()
	o.manageable.traces.Add(id, EventTrace{
		TraceID:  id,
		Kind:     TraceCall,
		MethodID: methodID,
		Args:     SanitizeArgs(params),
		Entry:    time.Now(),
	})
	return id
}

func (o *Object) endTrace(traceID, methodID uint32, v Value, err error, sample dispatch.Sample) {
	if traceID == 0 {
		return
	}
	o.manageable.mu.Lock()
	enabled := o.manageable.traceEnabled
	o.manageable.mu.Unlock()
	if !enabled {
		return
	}
	if err != nil {
		o.manageable.traces.Add(traceID, EventTrace{
			TraceID:      traceID,
			Kind:         TraceError,
			MethodID:     methodID,
			ErrorMessage: err.Error(),
			Entry:        time.Now(),
			WallElapsed:  sample.Wall,
			CPUElapsed:   sample.CPU,
		})
		return
	}
	o.manageable.traces.Add(traceID, EventTrace{
		TraceID:     traceID,
		Kind:        TraceResult,
		MethodID:    methodID,
		Result:      Sanitize(v),
		Entry:       time.Now(),
		WallElapsed: sample.Wall,
		CPUElapsed:  sample.CPU,
	})
}
