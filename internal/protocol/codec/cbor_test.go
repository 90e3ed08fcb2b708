package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	B string `cbor:"2,keyasint"`
	A int64  `cbor:"1,keyasint"`
}

func TestMarshalDeterministic(t *testing.T) {
	first, err := Marshal(sample{A: 7, B: "x"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	second, err := Marshal(sample{B: "x", A: 7})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("encoding not deterministic: % x vs % x", first, second)
	}
	// map(2) key 1 first
	if first[0] != 0xA2 || first[1] != 0x01 {
		t.Fatalf("unexpected key order: % x", first)
	}
}

func TestUnmarshalIgnoresUnknownKeys(t *testing.T) {
	type wider struct {
		A int64  `cbor:"1,keyasint"`
		B string `cbor:"2,keyasint"`
		C bool   `cbor:"9,keyasint"`
	}
	raw, err := Marshal(wider{A: 1, B: "b", C: true})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got sample
	if err := Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.A != 1 || got.B != "b" {
		t.Fatalf("unexpected value: %+v", got)
	}
}
