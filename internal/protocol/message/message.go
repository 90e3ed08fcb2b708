// Package message maps agent messages onto the envelope carried inside a
// frame: a TLV header validated by schema plus a CBOR body per type.
package message

import (
	"errors"
	"fmt"

	"github.com/danmuck/healthmon/internal/protocol/codec"
	"github.com/danmuck/healthmon/internal/protocol/schema"
	"github.com/danmuck/healthmon/internal/protocol/tlv"
)

const ProtocolVersion uint32 = 1

var (
	ErrMalformedEnvelope = errors.New("message: malformed envelope")
	ErrMalformedBody     = errors.New("message: malformed body")
)

// Type is the envelope message_type.
type Type uint32

const (
	TypeUnknown  = Type(schema.MsgUnknown)
	TypeHealth   = Type(schema.MsgHealth)
	TypeAck      = Type(schema.MsgAck)
	TypeSettings = Type(schema.MsgSettings)
	TypeCommand  = Type(schema.MsgCommand)
)

func (t Type) String() string {
	switch t {
	case TypeHealth:
		return "HEALTH"
	case TypeAck:
		return "ACK"
	case TypeSettings:
		return "SETTINGS"
	case TypeCommand:
		return "COMMAND"
	default:
		return "UNKNOWN"
	}
}

type Envelope struct {
	ProtocolVersion uint32
	Sequence        uint64
	DeviceID        uint64
	Type            Type
	Message         []byte
}

// EncodeEnvelope serializes e with fields in id order, so equal envelopes
// produce equal bytes.
func EncodeEnvelope(e Envelope) []byte {
	return tlv.EncodeFields([]tlv.Field{
		tlv.U32(schema.FieldProtocolVersion, e.ProtocolVersion),
		tlv.U64(schema.FieldSequence, e.Sequence),
		tlv.U64(schema.FieldDeviceID, e.DeviceID),
		tlv.U32(schema.FieldMessageType, uint32(e.Type)),
		tlv.Bytes(schema.FieldMessage, e.Message),
	})
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	fields, err := tlv.DecodeFields(b)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if err := schema.Validate(fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var e Envelope
	f, _ := tlv.Lookup(fields, schema.FieldProtocolVersion)
	if e.ProtocolVersion, err = f.Uint32(); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	f, _ = tlv.Lookup(fields, schema.FieldSequence)
	if e.Sequence, err = f.Uint64(); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	f, _ = tlv.Lookup(fields, schema.FieldDeviceID)
	if e.DeviceID, err = f.Uint64(); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	f, _ = tlv.Lookup(fields, schema.FieldMessageType)
	mt, err := f.Uint32()
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	e.Type = Type(mt)
	f, _ = tlv.Lookup(fields, schema.FieldMessage)
	e.Message = f.Value
	return e, nil
}

func encode(t Type, sequence, deviceID uint64, body any) ([]byte, error) {
	raw, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("message: encode %s body: %w", t, err)
	}
	return EncodeEnvelope(Envelope{
		ProtocolVersion: ProtocolVersion,
		Sequence:        sequence,
		DeviceID:        deviceID,
		Type:            t,
		Message:         raw,
	}), nil
}

// Inbound is a decoded envelope with its typed body. Exactly one body
// pointer is set for a known Type; none for TypeUnknown.
type Inbound struct {
	Envelope Envelope
	Type     Type
	Health   *HealthMessage
	Ack      *Ack
	Settings *Settings
	Command  *Command
}

// Decode parses an envelope and its type-specific body. An unsupported
// message_type is not an error: it yields Type TypeUnknown.
func Decode(b []byte) (Inbound, error) {
	env, err := DecodeEnvelope(b)
	if err != nil {
		return Inbound{}, err
	}
	in := Inbound{Envelope: env, Type: env.Type}
	if !schema.Known(uint32(env.Type)) {
		in.Type = TypeUnknown
		return in, nil
	}
	switch env.Type {
	case TypeHealth:
		in.Health = &HealthMessage{}
		err = codec.Unmarshal(env.Message, in.Health)
	case TypeAck:
		in.Ack = &Ack{}
		err = codec.Unmarshal(env.Message, in.Ack)
	case TypeSettings:
		in.Settings = &Settings{}
		err = codec.Unmarshal(env.Message, in.Settings)
	case TypeCommand:
		in.Command = &Command{}
		err = codec.Unmarshal(env.Message, in.Command)
	}
	if err != nil {
		return Inbound{}, fmt.Errorf("%w: %s: %v", ErrMalformedBody, env.Type, err)
	}
	return in, nil
}
