// Package delivery drives queued health records to the collector with at
// most one unacknowledged record in flight.
package delivery

import (
	"context"
	"time"

	"github.com/danmuck/healthmon/internal/health"
	logs "github.com/danmuck/healthmon/internal/logging"
	"github.com/danmuck/healthmon/internal/observability"
	"github.com/danmuck/healthmon/internal/protocol/frame"
	"github.com/danmuck/healthmon/internal/protocol/message"
	"github.com/danmuck/healthmon/internal/protocol/session"
)

// Queue is the outbound health queue.
type Queue interface {
	List(ctx context.Context) ([]health.Record, error)
	Delete(ctx context.Context, id int64) (bool, error)
	SetRetries(ctx context.Context, id int64, retries int) (bool, error)
}

// Link is the transport the coordinator writes frames to.
type Link interface {
	Send(b []byte) bool
	Restart(ctx context.Context)
}

type Config struct {
	DeviceID     uint64
	SendInterval time.Duration
	MaxRetries   int
	Backoff      session.BackoffConfig
}

func DefaultConfig() Config {
	s := session.DefaultConfig()
	return Config{
		SendInterval: s.SendInterval,
		MaxRetries:   s.MaxSendRetries,
		Backoff:      s.Backoff,
	}
}

// Coordinator owns the ack-pending flag and the reconnect counter. The
// delivery loop and the inbound ack handler share them through an
// AckGate.
type Coordinator struct {
	queue  Queue
	link   Link
	online func() bool
	cfg    Config

	gate session.AckGate
	wake chan struct{}
}

// NewCoordinator builds a coordinator. online reports whether the device
// has network connectivity; nil means always online.
func NewCoordinator(q Queue, link Link, online func() bool, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.SendInterval < 0 {
		cfg.SendInterval = 0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if len(cfg.Backoff.Steps) == 0 && cfg.Backoff.Max == 0 {
		cfg.Backoff = def.Backoff
	}
	if online == nil {
		online = func() bool { return true }
	}
	return &Coordinator{
		queue:  q,
		link:   link,
		online: online,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
	}
}

// RunCycle performs one delivery pass over the queue.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	if c.gate.Expire() {
		logs.Warnf("delivery.Coordinator.RunCycle previous send not acked, reconnecting attempts=%d", c.gate.Attempts())
		observability.RecordReconnect("ack_timeout")
		c.link.Restart(ctx)
		return nil
	}

	records, err := c.queue.List(ctx)
	if err != nil {
		return err
	}
	logs.Debugf("delivery.Coordinator.RunCycle pending=%d", len(records))
	observability.SetQueueDepth("health", len(records))

	for _, r := range records {
		if r.Retries >= c.cfg.MaxRetries {
			logs.Infof("delivery.Coordinator.RunCycle dropping id=%d retries=%d", r.ID, r.Retries)
			if _, err := c.queue.Delete(ctx, r.ID); err != nil {
				return err
			}
			observability.RecordDropped("max_retries")
			continue
		}

		b, err := c.encode(r)
		if err != nil {
			// an unencodable record never becomes sendable
			logs.Errf("delivery.Coordinator.RunCycle dropping id=%d err=%v", r.ID, err)
			if _, err := c.queue.Delete(ctx, r.ID); err != nil {
				return err
			}
			observability.RecordDropped("encode")
			continue
		}

		c.gate.Arm(r.ID)
		if !c.link.Send(b) {
			c.gate.Disarm(r.ID)
			attempts := c.gate.Fail()
			logs.Warnf("delivery.Coordinator.RunCycle send failed id=%d attempts=%d", r.ID, attempts)
			observability.RecordSendFailure()
			observability.RecordReconnect("send_failed")
			c.link.Restart(ctx)
			return nil
		}
		observability.RecordFrameSent()
		if _, err := c.queue.SetRetries(ctx, r.ID, r.Retries+1); err != nil {
			return err
		}
		logs.Debugf("delivery.Coordinator.RunCycle sent id=%d retries=%d", r.ID, r.Retries+1)

		if err := sleep(ctx, c.cfg.SendInterval); err != nil {
			return err
		}
		c.gate.ResetAttempts()
		if c.gate.Pending() {
			// wait for this ack before sending the next record
			return nil
		}
	}
	return nil
}

func (c *Coordinator) encode(r health.Record) ([]byte, error) {
	payload, err := message.EncodeHealth(r, c.cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	return frame.Encode(payload)
}

// HandleAck deletes the acknowledged record and clears the ack-pending
// flag when a record was deleted or the sequence is the one in flight.
func (c *Coordinator) HandleAck(ctx context.Context, sequence uint64) (bool, error) {
	id := int64(sequence)
	deleted, err := c.queue.Delete(ctx, id)
	if err != nil {
		logs.Errf("delivery.Coordinator.HandleAck delete id=%d err=%v", id, err)
	}
	inFlight, _ := c.gate.InFlight()
	cleared := c.gate.Ack(id, deleted)
	observability.RecordAck(deleted)
	logs.Debugf("delivery.Coordinator.HandleAck id=%d in_flight=%d deleted=%t cleared=%t", id, inFlight, deleted, cleared)
	return deleted, err
}

// ConnectivityRestored resets the reconnect counter, restarts the link and
// wakes the delivery loop.
func (c *Coordinator) ConnectivityRestored(ctx context.Context) {
	logs.Infof("delivery.Coordinator.ConnectivityRestored")
	c.gate.ResetAttempts()
	observability.RecordReconnect("connectivity_restored")
	c.link.Restart(ctx)
	c.Nudge()
}

// Nudge wakes Run from its backoff wait.
func (c *Coordinator) Nudge() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run repeats delivery cycles while the device is online, waiting the
// backoff delay for the current reconnect count between cycles.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if c.online() {
			if err := c.RunCycle(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logs.Errf("delivery.Coordinator.Run cycle err=%v", err)
			}
		}
		delay := c.Delay()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-c.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Delay is the wait before the next cycle.
func (c *Coordinator) Delay() time.Duration {
	return session.NextBackoffDelay(c.cfg.Backoff, c.gate.Attempts())
}

func (c *Coordinator) Attempts() int {
	return c.gate.Attempts()
}

func (c *Coordinator) AckPending() bool {
	return c.gate.Pending()
}

// InFlight returns the id of the record awaiting an ack, if any.
func (c *Coordinator) InFlight() (int64, bool) {
	return c.gate.InFlight()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
