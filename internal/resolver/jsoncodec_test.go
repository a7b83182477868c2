package resolver

import (
	"testing"

	"github.com/distribd/qimw/object"
)

func TestJSONCodecEncodeDecodeScalars(t *testing.T) {
	c := JSONCodec{}
	params := []object.Value{object.From("hello"), object.From(int64(42)), object.From(true)}

	data, err := c.Encode(params)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := c.DecodeParams(data)
	if err != nil {
		t.Fatalf("DecodeParams: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d params, want 3", len(got))
	}
	if got[0].Scalar != "hello" {
		t.Fatalf("got %v, want hello", got[0].Scalar)
	}
}

func TestJSONCodecEncodeDecodeNestedList(t *testing.T) {
	c := JSONCodec{}
	v := object.Value{Kind: object.KindList, List: []object.Value{object.From("a"), object.From("b")}}

	data, err := c.EncodeValue(v)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	got, err := c.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != object.KindList || len(got.List) != 2 {
		t.Fatalf("got %+v, want a 2-element list", got)
	}
}

func TestJSONCodecDecodeEmptyPayloadIsZeroValue(t *testing.T) {
	c := JSONCodec{}
	got, err := c.Decode(nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Kind != object.KindUnknown {
		t.Fatalf("got %+v, want the zero Value for an empty payload", got)
	}
}
