package frame

import "bytes"

// Reassembler recovers frames from a byte stream delivered in arbitrary
// chunks. Bytes of a candidate that is still incomplete at the end of a
// chunk are held and prepended to the next one; everything else that is
// not part of a valid frame is discarded.
type Reassembler struct {
	pending []byte
}

// Feed appends data to the held tail and returns the complete valid frames.
// Returned frames do not alias data.
func (r *Reassembler) Feed(data []byte) [][]byte {
	buf := make([]byte, 0, len(r.pending)+len(data))
	buf = append(buf, r.pending...)
	buf = append(buf, data...)

	var out [][]byte
	tail := -1
	i := 0
	for i < len(buf) {
		end, complete := candidateEnd(buf, i)
		switch {
		case end == 0:
			if i == len(buf)-1 && buf[i] == StartMarker[0] && tail < 0 {
				tail = i
			}
			i++
		case !complete:
			if tail < 0 {
				tail = i
			}
			i++
		case Validate(buf[i:end]) == nil:
			out = append(out, bytes.Clone(buf[i:end]))
			// an incomplete candidate before this frame was not a real frame
			tail = -1
			i = end
		default:
			i++
		}
	}

	r.pending = r.pending[:0]
	if tail >= 0 {
		r.pending = append(r.pending, buf[tail:]...)
	}
	return out
}

// Pending reports how many bytes are held for the next Feed.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}

// Reset drops any held bytes, e.g. after the connection is replaced.
func (r *Reassembler) Reset() {
	r.pending = r.pending[:0]
}
