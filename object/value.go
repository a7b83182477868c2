package object

// Kind classifies a Value for the purposes of signature checking and the
// argument-sanitization rule in §4.4: any sub-value whose Kind is Unknown,
// Object, Raw or Pointer is replaced with the sentinel string
// "**UNSERIALIZABLE**" before it is traced or logged.
type Kind int

const (
	KindUnknown Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindList
	KindMap
	KindTuple
	KindDynamic
	KindObject
	KindRaw
	KindPointer
)

// unserializable is the sentinel value substituted for anything that
// cannot safely cross into a trace event or a stats dump.
const unserializable = "**UNSERIALIZABLE**"

// Value is a dynamically-typed value flowing through method calls,
// signals and properties. It stands in for the wire-format AnyValue of
// the original implementation; the actual marshalling codec is out of
// scope (see spec §1) — Value only needs to support structural
// inspection (Kind) and recursion for sanitization.
type Value struct {
	Kind Kind
	// Scalar holds bool, integer, float and string values directly, in
	// the Go type they were given to From (e.g. a uint64 stays a uint64).
	Scalar any
	// List holds the elements for KindList/KindTuple.
	List []Value
	// Map holds entries for KindMap.
	Map map[string]Value
}

// From wraps a Go value into a Value, inferring its Kind.
func From(v any) Value {
	switch t := v.(type) {
	case nil:
		return Value{Kind: KindUnknown}
	case bool:
		return Value{Kind: KindBool, Scalar: t}
	case int, int32, int64, uint, uint32, uint64:
		return Value{Kind: KindInt, Scalar: t}
	case float32, float64:
		return Value{Kind: KindFloat, Scalar: t}
	case string:
		return Value{Kind: KindString, Scalar: t}
	case []Value:
		return Value{Kind: KindList, List: t}
	case map[string]Value:
		return Value{Kind: KindMap, Map: t}
	default:
		return Value{Kind: KindDynamic, Scalar: t}
	}
}

// String returns the Scalar itself when it is a string, and the sentinel
// for every other Value (numbers, bools, lists and maps included). Used
// for log lines and error messages, not wire transmission.
func (v Value) String() string {
	if v.Scalar != nil {
		if s, ok := v.Scalar.(string); ok {
			return s
		}
	}
	return unserializable
}

// traceValidateKind mirrors traceValidateSignature in dynamicobject.cpp:
// refuse to trace Unknown (not serializable), Object (too expensive), Raw
// (possibly big) or Pointer.
func traceValidateKind(k Kind) bool {
	switch k {
	case KindUnknown, KindObject, KindRaw, KindPointer:
		return false
	default:
		return true
	}
}

// Sanitize recurses structurally through lists, maps and tuples and
// replaces any sub-value with a rejected Kind with the unserializable
// sentinel, exactly as dynamicobject.cpp's traceValidateValue does for
// the args it hands to a Call trace event.
func Sanitize(v Value) Value {
	if !traceValidateKind(v.Kind) {
		return Value{Kind: KindString, Scalar: unserializable}
	}
	switch v.Kind {
	case KindList, KindTuple:
		out := make([]Value, len(v.List))
		for i, e := range v.List {
			out[i] = Sanitize(e)
		}
		return Value{Kind: v.Kind, List: out}
	case KindMap:
		out := make(map[string]Value, len(v.Map))
		for k, e := range v.Map {
			out[k] = Sanitize(e)
		}
		return Value{Kind: KindMap, Map: out}
	default:
		return v
	}
}

// SanitizeArgs sanitizes a parameter slice, as used when building the
// sanitized args payload of a Call trace event.
func SanitizeArgs(args []Value) []Value {
	out := make([]Value, len(args))
	for i, a := range args {
		out[i] = Sanitize(a)
	}
	return out
}
