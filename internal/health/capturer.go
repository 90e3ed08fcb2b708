package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	logs "github.com/danmuck/healthmon/internal/logging"
)

const DefaultIgnitionDebounce = 2 * time.Second

// Queue is the outbound queue snapshots are saved into.
type Queue interface {
	Save(ctx context.Context, r *Record) error
}

// StateStore persists the values compared across restarts and events.
type StateStore interface {
	LastIgnition(ctx context.Context) (bool, error)
	SetLastIgnition(ctx context.Context, on bool) error
	LastBootTimestamp(ctx context.Context) (int64, error)
	SetLastBootTimestamp(ctx context.Context, ts int64) error
}

// Hooks are called after a snapshot was queued. Nil hooks are skipped.
type Hooks struct {
	// ConnectivityRestored runs on a network event while the link is up.
	ConnectivityRestored func()
	// ContextChanged runs on ignition and network events so waiting
	// commands re-check their preconditions.
	ContextChanged func()
	// Captured runs for every queued snapshot.
	Captured func(Record)
}

type CapturerConfig struct {
	IgnitionDebounce time.Duration
	Hooks            Hooks
}

// Capturer turns device events into queued snapshots. Events are handled
// one at a time.
type Capturer struct {
	provider Provider
	queue    Queue
	state    StateStore
	cfg      CapturerConfig
	now      func() time.Time

	mu sync.Mutex
}

func NewCapturer(p Provider, q Queue, s StateStore, cfg CapturerConfig) *Capturer {
	if cfg.IgnitionDebounce < 0 {
		cfg.IgnitionDebounce = 0
	}
	return &Capturer{provider: p, queue: q, state: s, cfg: cfg, now: time.Now}
}

// HandleEvent captures and queues a snapshot for event. An ignition event
// whose state matches the last persisted one after the debounce window is
// a duplicate and is dropped.
func (c *Capturer) HandleEvent(ctx context.Context, event EventType) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if event.IsIgnition() {
		dup, err := c.duplicateIgnition(ctx)
		if err != nil {
			return err
		}
		if dup {
			logs.Infof("health.Capturer.HandleEvent ignoring duplicate event=%s", event)
			return nil
		}
	}

	rec := Capture(c.provider, event, c.now())
	if err := c.queue.Save(ctx, &rec); err != nil {
		return fmt.Errorf("health: queue snapshot: %w", err)
	}
	logs.Infof("health.Capturer.HandleEvent queued id=%d event=%s", rec.ID, event)
	if err := c.state.SetLastIgnition(ctx, rec.IgnitionOn); err != nil {
		logs.Warnf("health.Capturer.HandleEvent persist ignition err=%v", err)
	}

	if c.cfg.Hooks.Captured != nil {
		c.cfg.Hooks.Captured(rec)
	}
	if event == EventNetworkStatusChanged && rec.Network.Connected && c.cfg.Hooks.ConnectivityRestored != nil {
		c.cfg.Hooks.ConnectivityRestored()
	}
	if (event.IsIgnition() || event == EventNetworkStatusChanged) && c.cfg.Hooks.ContextChanged != nil {
		c.cfg.Hooks.ContextChanged()
	}
	return nil
}

// CheckBoot raises EventBootTimestampChanged when the device booted since
// the last persisted boot timestamp.
func (c *Capturer) CheckBoot(ctx context.Context) (bool, error) {
	last, err := c.state.LastBootTimestamp(ctx)
	if err != nil {
		return false, fmt.Errorf("health: read boot timestamp: %w", err)
	}
	current := c.provider.BootTimestamp()
	if current == last {
		return false, nil
	}
	logs.Infof("health.Capturer.CheckBoot boot timestamp changed last=%d current=%d", last, current)
	if err := c.state.SetLastBootTimestamp(ctx, current); err != nil {
		return false, fmt.Errorf("health: persist boot timestamp: %w", err)
	}
	return true, c.HandleEvent(ctx, EventBootTimestampChanged)
}

func (c *Capturer) duplicateIgnition(ctx context.Context) (bool, error) {
	last, err := c.state.LastIgnition(ctx)
	if err != nil {
		return false, fmt.Errorf("health: read ignition state: %w", err)
	}
	if c.cfg.IgnitionDebounce > 0 {
		timer := time.NewTimer(c.cfg.IgnitionDebounce)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false, ctx.Err()
		case <-timer.C:
		}
	}
	return c.provider.IgnitionOn() == last, nil
}
