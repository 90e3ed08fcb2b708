package schema

import (
	"fmt"

	logs "github.com/danmuck/healthmon/internal/logging"
	"github.com/danmuck/healthmon/internal/protocol/tlv"
)

// Message type IDs carried in the envelope.
const (
	MsgUnknown  uint32 = 0
	MsgHealth   uint32 = 1
	MsgAck      uint32 = 2
	MsgSettings uint32 = 3
	MsgCommand  uint32 = 4
)

// Envelope field IDs.
const (
	FieldProtocolVersion uint16 = 1
	FieldSequence        uint16 = 2
	FieldDeviceID        uint16 = 3
	FieldMessageType     uint16 = 4
	FieldMessage         uint16 = 5
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var envelope = []Requirement{
	{FieldProtocolVersion, tlv.TypeU32},
	{FieldSequence, tlv.TypeU64},
	{FieldDeviceID, tlv.TypeU64},
	{FieldMessageType, tlv.TypeU32},
	{FieldMessage, tlv.TypeBytes},
}

// Validate enforces the envelope fields every message carries.
// Unknown fields are ignored.
func Validate(fields []tlv.Field) error {
	logs.Tracef("schema.Validate fields=%d", len(fields))
	mt := MsgUnknown
	if f, ok := tlv.Lookup(fields, FieldMessageType); ok && f.Type == tlv.TypeU32 {
		mt, _ = f.Uint32()
	}
	for _, req := range envelope {
		f, found := tlv.Lookup(fields, req.ID)
		if !found {
			logs.Warnf("schema.Validate missing field message_type=%d field_id=%d", mt, req.ID)
			return ValidationError{MessageType: mt, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			logs.Warnf(
				"schema.Validate type mismatch message_type=%d field_id=%d got=%d want=%d",
				mt,
				req.ID,
				f.Type,
				req.Type,
			)
			return ValidationError{MessageType: mt, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	return nil
}

// Known reports whether messageType is one this agent understands.
func Known(messageType uint32) bool {
	switch messageType {
	case MsgHealth, MsgAck, MsgSettings, MsgCommand:
		return true
	}
	return false
}
