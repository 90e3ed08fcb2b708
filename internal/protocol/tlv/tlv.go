// Package tlv reads and writes the type-length-value field list that makes
// up a message envelope.
//
// Each field is a 7 byte header (BE16 id, u8 type, BE32 length) followed by
// length bytes of value.
package tlv

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const HeaderLen = 7

var (
	ErrShortFieldHeader = errors.New("tlv: short field header")
	ErrShortFieldValue  = errors.New("tlv: short field value")
)

// Value types carried by envelope fields.
const (
	TypeU32   uint8 = 3
	TypeU64   uint8 = 4
	TypeBytes uint8 = 7
)

type Field struct {
	ID    uint16
	Type  uint8
	Value []byte
}

func U32(id uint16, v uint32) Field {
	return Field{ID: id, Type: TypeU32, Value: binary.BigEndian.AppendUint32(nil, v)}
}

func U64(id uint16, v uint64) Field {
	return Field{ID: id, Type: TypeU64, Value: binary.BigEndian.AppendUint64(nil, v)}
}

// Bytes copies v so later writes to it do not change the field.
func Bytes(id uint16, v []byte) Field {
	return Field{ID: id, Type: TypeBytes, Value: append([]byte(nil), v...)}
}

// Uint32 reads a 4 byte big-endian value.
func (f Field) Uint32() (uint32, error) {
	if len(f.Value) != 4 {
		return 0, fmt.Errorf("tlv: field %d: u32 value has %d bytes", f.ID, len(f.Value))
	}
	return binary.BigEndian.Uint32(f.Value), nil
}

// Uint64 reads an 8 byte big-endian value.
func (f Field) Uint64() (uint64, error) {
	if len(f.Value) != 8 {
		return 0, fmt.Errorf("tlv: field %d: u64 value has %d bytes", f.ID, len(f.Value))
	}
	return binary.BigEndian.Uint64(f.Value), nil
}

// AppendField appends the encoding of f to dst.
func AppendField(dst []byte, f Field) []byte {
	dst = binary.BigEndian.AppendUint16(dst, f.ID)
	dst = append(dst, f.Type)
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(f.Value)))
	return append(dst, f.Value...)
}

// EncodeFields writes fields in order.
func EncodeFields(fields []Field) []byte {
	n := 0
	for _, f := range fields {
		n += HeaderLen + len(f.Value)
	}
	out := make([]byte, 0, n)
	for _, f := range fields {
		out = AppendField(out, f)
	}
	return out
}

// DecodeFields splits b into fields. Field ids it does not recognise are
// kept; a truncated trailing field fails the whole list.
func DecodeFields(b []byte) ([]Field, error) {
	var fields []Field
	for len(b) > 0 {
		if len(b) < HeaderLen {
			return nil, ErrShortFieldHeader
		}
		f := Field{ID: binary.BigEndian.Uint16(b), Type: b[2]}
		n := binary.BigEndian.Uint32(b[3:HeaderLen])
		b = b[HeaderLen:]
		if uint64(n) > uint64(len(b)) {
			return nil, fmt.Errorf("%w: field %d wants %d bytes, %d left", ErrShortFieldValue, f.ID, n, len(b))
		}
		f.Value = append([]byte(nil), b[:n]...)
		b = b[n:]
		fields = append(fields, f)
	}
	return fields, nil
}

// Lookup returns the first field with id.
func Lookup(fields []Field, id uint16) (Field, bool) {
	for _, f := range fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}
