package object

import "time"

// ThreadingModel is the per-object threading policy (spec §4.3/§4.4).
type ThreadingModel int

const (
	ThreadingDefault ThreadingModel = iota
	ThreadingSingleThread
	ThreadingMultiThread
)

// ThreadingHint is the per-method override an object's method table may
// carry (spec §4.4 "methodThreadingHint"). Unlike the per-call CallType,
// a method only ever hints Auto or Direct — "Queued" is a caller
// decision, not something a method declares about itself.
type ThreadingHint int

const (
	HintAuto ThreadingHint = iota
	HintDirect
)

// CallType is the per-call dispatch request (spec §4.4 "requestedCallType").
type CallType int

const (
	CallAuto CallType = iota
	CallDirect
	CallQueued
)

// Manageable ID range: event/method IDs in [ManageableStartID,
// ManageableEndID) are framework-provided operations (stats, tracing,
// event loop hookup) whose receiver is the object's Manageable facet
// rather than the object itself (spec §4.3, §9 glossary).
const (
	ManageableStartID uint32 = 0xFFFF0000
	ManageableEndID    uint32 = 0xFFFFFFFF
)

// IsManageableID reports whether id falls in the framework-reserved range.
func IsManageableID(id uint32) bool {
	return id >= ManageableStartID && id < ManageableEndID
}

// EventTrace is one Call/Result/Error trace entry (spec §4.4).
type EventTrace struct {
	TraceID      uint32
	Kind         TraceKind
	MethodID     uint32
	Args         []Value // Call only, sanitized
	Result       Value   // Result only, sanitized
	ErrorMessage string  // Error only
	Entry        time.Time
	WallElapsed  time.Duration
	CPUElapsed   time.Duration
	// CallerThread is always zero: Go exposes no public goroutine or OS
	// thread identity a caller could read here (goroutines are not pinned
	// to an OS thread except during the LockOSThread window invoke uses
	// internally to read CPU time, and that identity isn't meaningful to
	// a trace consumer anyway). Kept for wire/schema parity with the
	// original's caller-thread-id field rather than removed.
	CallerThread int
}

// TraceKind is the kind of an EventTrace entry.
type TraceKind int

const (
	TraceCall TraceKind = iota
	TraceResult
	TraceError
)

func (k TraceKind) String() string {
	switch k {
	case TraceCall:
		return "Call"
	case TraceResult:
		return "Result"
	case TraceError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Per-method call statistics (count, wall/CPU totals, min/max) are
// internal/dispatch.MethodStats: the histogram storage lives outside this
// package to avoid an import cycle with the metaCall decision logic, so
// Object.Stats returns that type directly rather than a local copy.
