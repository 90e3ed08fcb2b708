// Package session owns the delivery reliability primitives shared by the
// transport and the delivery coordinator.
//
// Ownership boundary:
// - reconnect backoff schedule
// - transport and delivery timing defaults
// - ack gating of the single in-flight record
package session
