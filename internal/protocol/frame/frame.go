package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"iter"
)

const (
	MarkerLen = 2
	LengthLen = 2
	CRCLen    = 4

	// Overhead is every byte of a frame that is not payload.
	Overhead = MarkerLen + LengthLen + CRCLen + MarkerLen
	// MinFrameLen is the smallest valid frame: overhead plus one payload byte.
	MinFrameLen = Overhead + 1

	MaxPayloadLen = 0xFFFF
	MaxFrameLen   = Overhead + MaxPayloadLen
)

var (
	StartMarker = [MarkerLen]byte{0xC0, 0xB1}
	StopMarker  = [MarkerLen]byte{0xC0, 0xB1}
)

var (
	ErrEmptyPayload    = errors.New("frame: empty payload")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
	ErrShortFrame      = errors.New("frame: short frame")
	ErrBadStart        = errors.New("frame: missing start marker")
	ErrBadStop         = errors.New("frame: missing stop marker")
	ErrLengthMismatch  = errors.New("frame: declared length mismatch")
	ErrChecksum        = errors.New("frame: crc32 mismatch")
)

// Encode wraps payload as start | len | payload | crc32 | stop.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > MaxPayloadLen {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, 0, Overhead+len(payload))
	buf = append(buf, StartMarker[:]...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(payload)))
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint32(buf, crc32.ChecksumIEEE(payload))
	buf = append(buf, StopMarker[:]...)
	return buf, nil
}

// Decode validates one complete frame and returns a copy of its payload.
func Decode(frame []byte) ([]byte, error) {
	if err := Validate(frame); err != nil {
		return nil, err
	}
	payload := frame[MarkerLen+LengthLen : len(frame)-CRCLen-MarkerLen]
	return bytes.Clone(payload), nil
}

// Validate checks markers, declared length and checksum of one frame.
func Validate(frame []byte) error {
	if len(frame) < MinFrameLen {
		return ErrShortFrame
	}
	if !bytes.Equal(frame[:MarkerLen], StartMarker[:]) {
		return ErrBadStart
	}
	if !bytes.Equal(frame[len(frame)-MarkerLen:], StopMarker[:]) {
		return ErrBadStop
	}
	declared := int(binary.BigEndian.Uint16(frame[MarkerLen : MarkerLen+LengthLen]))
	payload := frame[MarkerLen+LengthLen : len(frame)-CRCLen-MarkerLen]
	if declared != len(payload) {
		return ErrLengthMismatch
	}
	crcAt := len(frame) - CRCLen - MarkerLen
	if binary.BigEndian.Uint32(frame[crcAt:crcAt+CRCLen]) != crc32.ChecksumIEEE(payload) {
		return ErrChecksum
	}
	return nil
}

// Frames lazily yields every valid frame found in buf, in order.
//
// Each start marker is a candidate whose extent comes from its declared
// length. Candidates that run past the end of buf, lack the stop marker or
// fail the checksum are skipped by advancing one byte, so corruption never
// hides a valid frame that follows it. Yielded slices alias buf.
func Frames(buf []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		i := 0
		for i+MinFrameLen <= len(buf) {
			n, ok := candidateAt(buf, i)
			if !ok {
				i++
				continue
			}
			if !yield(buf[i : i+n]) {
				return
			}
			i += n
		}
	}
}

// Scan collects Frames(buf).
func Scan(buf []byte) [][]byte {
	var out [][]byte
	for f := range Frames(buf) {
		out = append(out, f)
	}
	return out
}

// candidateAt reports the length of the valid frame starting at i.
func candidateAt(buf []byte, i int) (int, bool) {
	end, complete := candidateEnd(buf, i)
	if !complete {
		return 0, false
	}
	if Validate(buf[i:end]) != nil {
		return 0, false
	}
	return end - i, true
}

// candidateEnd returns where a frame starting at i would end according to
// its declared length, and whether that many bytes are present. A zero
// end means there is no start marker or declared length at i.
func candidateEnd(buf []byte, i int) (int, bool) {
	if i+MarkerLen > len(buf) || !bytes.Equal(buf[i:i+MarkerLen], StartMarker[:]) {
		return 0, false
	}
	if i+MarkerLen+LengthLen > len(buf) {
		return len(buf), false
	}
	declared := int(binary.BigEndian.Uint16(buf[i+MarkerLen : i+MarkerLen+LengthLen]))
	end := i + Overhead + declared
	return end, end <= len(buf)
}
