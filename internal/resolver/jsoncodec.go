package resolver

import (
	"encoding/json"
	"fmt"

	"github.com/distribd/qimw/object"
)

// wireValue is the JSON-friendly projection of object.Value used by
// JSONCodec. Lists, tuples and maps are projected element by element;
// every other Kind carries its Scalar as-is, so only values that
// encoding/json can represent round-trip (numbers come back as float64).
type wireValue struct {
	Kind  object.Kind          `json:"kind"`
	Value any                  `json:"value,omitempty"`
	List  []wireValue          `json:"list,omitempty"`
	Map   map[string]wireValue `json:"map,omitempty"`
}

// JSONCodec is a default resolver.Codec using encoding/json. The wire
// grammar itself is explicitly out of scope (spec §1); this is one
// concrete, pluggable choice among many a deployment could install.
type JSONCodec struct{}

func toWire(v object.Value) wireValue {
	switch v.Kind {
	case object.KindList, object.KindTuple:
		list := make([]wireValue, len(v.List))
		for i, e := range v.List {
			list[i] = toWire(e)
		}
		return wireValue{Kind: v.Kind, List: list}
	case object.KindMap:
		m := make(map[string]wireValue, len(v.Map))
		for k, e := range v.Map {
			m[k] = toWire(e)
		}
		return wireValue{Kind: v.Kind, Map: m}
	default:
		return wireValue{Kind: v.Kind, Value: v.Scalar}
	}
}

func fromWire(w wireValue) object.Value {
	switch w.Kind {
	case object.KindList, object.KindTuple:
		list := make([]object.Value, len(w.List))
		for i, e := range w.List {
			list[i] = fromWire(e)
		}
		return object.Value{Kind: w.Kind, List: list}
	case object.KindMap:
		m := make(map[string]object.Value, len(w.Map))
		for k, e := range w.Map {
			m[k] = fromWire(e)
		}
		return object.Value{Kind: object.KindMap, Map: m}
	default:
		return object.Value{Kind: w.Kind, Scalar: w.Value}
	}
}

func (JSONCodec) Encode(params []object.Value) ([]byte, error) {
	wire := make([]wireValue, len(params))
	for i, p := range params {
		wire[i] = toWire(p)
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("resolver: encoding params: %w", err)
	}
	return data, nil
}

// DecodeParams decodes a Call message's payload back into the parameter
// list, the server-side counterpart to Encode.
func (JSONCodec) DecodeParams(payload []byte) ([]object.Value, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var wire []wireValue
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("resolver: decoding params: %w", err)
	}
	params := make([]object.Value, len(wire))
	for i, w := range wire {
		params[i] = fromWire(w)
	}
	return params, nil
}

// EncodeValue encodes a single return value for a Reply message payload,
// the server-side counterpart to Decode.
func (JSONCodec) EncodeValue(v object.Value) ([]byte, error) {
	data, err := json.Marshal(toWire(v))
	if err != nil {
		return nil, fmt.Errorf("resolver: encoding result: %w", err)
	}
	return data, nil
}

func (JSONCodec) Decode(payload []byte) (object.Value, error) {
	if len(payload) == 0 {
		return object.Value{}, nil
	}
	var w wireValue
	if err := json.Unmarshal(payload, &w); err != nil {
		return object.Value{}, fmt.Errorf("resolver: decoding reply: %w", err)
	}
	return fromWire(w), nil
}
