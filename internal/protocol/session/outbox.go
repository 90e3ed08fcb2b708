package session

import "sync"

// AckGate holds the delivery state shared by the send path and the ack
// handler: whether a sent record is still unacknowledged, which one, and
// how many reconnects happened in a row. All methods are safe for
// concurrent use.
type AckGate struct {
	mu       sync.Mutex
	pending  bool
	inFlight int64
	attempts int
}

// Arm marks id as sent and awaiting its ack. Call it before the write so
// an ack that races the write completion is not lost.
func (g *AckGate) Arm(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = true
	g.inFlight = id
}

// Disarm undoes Arm after a failed write, unless id was acked meanwhile.
func (g *AckGate) Disarm(id int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight == id {
		g.pending = false
		g.inFlight = 0
	}
}

func (g *AckGate) Pending() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pending
}

func (g *AckGate) InFlight() (int64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight, g.pending
}

// Expire clears a pending ack as a failed delivery and counts a
// reconnect. It reports whether an ack was pending.
func (g *AckGate) Expire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.pending {
		return false
	}
	g.pending = false
	g.inFlight = 0
	g.attempts++
	return true
}

// Ack clears the pending flag when the acked record existed or is the one
// in flight. It reports whether the flag was cleared.
func (g *AckGate) Ack(id int64, deleted bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !deleted && !(g.pending && g.inFlight == id) {
		return false
	}
	g.pending = false
	g.inFlight = 0
	return true
}

// Fail counts a reconnect and returns the new count.
func (g *AckGate) Fail() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts++
	return g.attempts
}

func (g *AckGate) ResetAttempts() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts = 0
}

func (g *AckGate) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}
