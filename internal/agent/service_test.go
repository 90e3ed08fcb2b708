package agent

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/healthmon/internal/command"
	"github.com/danmuck/healthmon/internal/effector"
	"github.com/danmuck/healthmon/internal/health"
	"github.com/danmuck/healthmon/internal/protocol/frame"
	"github.com/danmuck/healthmon/internal/protocol/message"
	"github.com/danmuck/healthmon/internal/testutil/fakedevice"
	"github.com/danmuck/healthmon/internal/testutil/testlog"
)

const testDeviceID = 4242

// collector is a loopback server that records health frames and can push
// frames back to the agent.
type collector struct {
	ln net.Listener

	mu      sync.Mutex
	conn    net.Conn
	health  []message.Envelope
	autoAck bool
}

func newCollector(t *testing.T, autoAck bool) *collector {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	c := &collector{ln: ln, autoAck: autoAck}
	go c.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
	})
	return c
}

func (c *collector) serve() {
	for {
		conn, err := c.ln.Accept()
		if err != nil {
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		go c.read(conn)
	}
}

func (c *collector) read(conn net.Conn) {
	var asm frame.Reassembler
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		for _, f := range asm.Feed(buf[:n]) {
			payload, err := frame.Decode(f)
			if err != nil {
				continue
			}
			in, err := message.Decode(payload)
			if err != nil || in.Type != message.TypeHealth {
				continue
			}
			c.mu.Lock()
			c.health = append(c.health, in.Envelope)
			ack := c.autoAck
			c.mu.Unlock()
			if ack {
				b, _ := message.EncodeAck(in.Envelope.Sequence, in.Envelope.DeviceID)
				_ = c.push(b)
			}
		}
	}
}

func (c *collector) push(payload []byte) error {
	f, err := frame.Encode(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return net.ErrClosed
	}
	_, err = conn.Write(f)
	return err
}

func (c *collector) received() []message.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Envelope(nil), c.health...)
}

func (c *collector) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

type fakeRebooter struct {
	calls atomic.Int32
}

func (r *fakeRebooter) Reboot() error {
	r.calls.Add(1)
	return nil
}

func testServiceConfig(t *testing.T, addr string) ServiceConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultServiceConfig()
	cfg.DeviceID = testDeviceID
	cfg.ServerAddress = addr
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.SpoolDir = filepath.Join(dir, "events")
	cfg.SettingsFile = filepath.Join(dir, "settings.yaml")
	cfg.HeartbeatInterval = 50 * time.Millisecond
	cfg.CommandPoll = 10 * time.Millisecond
	cfg.IgnitionDebounce = 0
	cfg.Session.ConnectTimeout = 500 * time.Millisecond
	cfg.Session.WriteTimeout = 200 * time.Millisecond
	cfg.Session.ReadTimeout = 20 * time.Millisecond
	cfg.Session.PollInterval = 10 * time.Millisecond
	cfg.Session.SendInterval = 10 * time.Millisecond
	return cfg
}

type harness struct {
	svc    *Service
	dev    *fakedevice.Device
	reboot *fakeRebooter
	col    *collector
	cancel context.CancelFunc
	done   chan error
}

func startAgent(t *testing.T, autoAck bool) *harness {
	t.Helper()
	col := newCollector(t, autoAck)
	dev := fakedevice.New(testDeviceID)
	dev.SetConnected(true)
	rb := &fakeRebooter{}

	svc, err := Open(context.Background(), testServiceConfig(t, col.ln.Addr().String()), Deps{
		Provider:  dev,
		Effectors: &command.Effectors{Rebooter: rb},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{svc: svc, dev: dev, reboot: rb, col: col, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- svc.RunContext(ctx) }()
	t.Cleanup(func() {
		h.stop(t)
		_ = svc.Close()
	})
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err, ok := <-h.done:
		if ok && err != nil {
			t.Fatalf("run: %v", err)
		}
		close(h.done)
	case <-time.After(3 * time.Second):
		t.Fatalf("agent did not stop")
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func queueDepths(t *testing.T, s *Service) (int, int) {
	t.Helper()
	st, err := s.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	return st.HealthQueue, st.CommandQueue
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultServiceConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrDeviceIDRequired) {
		t.Fatalf("expected ErrDeviceIDRequired, got %v", err)
	}
	cfg.DeviceID = 1
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults with a device id must validate: %v", err)
	}
	cfg.HeartbeatInterval = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidHeartbeatInterval) {
		t.Fatalf("expected ErrInvalidHeartbeatInterval, got %v", err)
	}
	if _, err := Open(context.Background(), cfg, Deps{}); !errors.Is(err, ErrInvalidHeartbeatInterval) {
		t.Fatalf("open must validate, got %v", err)
	}
}

func TestCloseCancelsPendingRestart(t *testing.T) {
	testlog.Start(t)
	rs := &effector.RestartScheduler{Command: []string{"systemctl", "restart", "fleet-app"}}
	svc, err := Open(context.Background(), testServiceConfig(t, "127.0.0.1:1"), Deps{
		Provider:  fakedevice.New(testDeviceID),
		Effectors: &command.Effectors{Rebooter: &fakeRebooter{}, Restarter: rs},
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rs.ScheduleRestart(time.Hour)
	if err := svc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rs.Stop() {
		t.Fatalf("restart must already be canceled by Close")
	}
}

func TestBootSnapshotDeliveredAndAcked(t *testing.T) {
	testlog.Start(t)
	h := startAgent(t, true)

	waitFor(t, "boot snapshot acked", func() bool {
		hq, _ := queueDepths(t, h.svc)
		return hq == 0 && len(h.col.received()) == 1
	})
	env := h.col.received()[0]
	if env.DeviceID != testDeviceID || env.ProtocolVersion != message.ProtocolVersion || env.Sequence == 0 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if h.svc.coord.AckPending() {
		t.Fatalf("ack must clear the pending flag")
	}
}

func TestUnackedSnapshotStaysQueued(t *testing.T) {
	testlog.Start(t)
	h := startAgent(t, false)

	waitFor(t, "boot snapshot sent", func() bool { return len(h.col.received()) == 1 })
	if hq, _ := queueDepths(t, h.svc); hq != 1 {
		t.Fatalf("unacked snapshot must stay queued, depth=%d", hq)
	}
	seq := h.col.received()[0].Sequence
	st, err := h.svc.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.AckPending || st.InFlightID != int64(seq) {
		t.Fatalf("expected record %d in flight, got %+v", seq, st)
	}

	b, err := message.EncodeAck(seq, testDeviceID)
	if err != nil {
		t.Fatalf("encode ack: %v", err)
	}
	if err := h.col.push(b); err != nil {
		t.Fatalf("push ack: %v", err)
	}
	waitFor(t, "late ack applied", func() bool {
		hq, _ := queueDepths(t, h.svc)
		return hq == 0
	})
}

func TestInboundCommandRunsToCompletion(t *testing.T) {
	testlog.Start(t)
	h := startAgent(t, true)
	waitFor(t, "collector connection", h.col.connected)

	b, err := message.EncodeCommand(message.Command{Type: message.CommandReboot, Parameters: "0;2"}, 77, testDeviceID)
	if err != nil {
		t.Fatalf("encode command: %v", err)
	}
	if err := h.col.push(b); err != nil {
		t.Fatalf("push command: %v", err)
	}
	waitFor(t, "reboot issued", func() bool { return h.reboot.calls.Load() == 1 })
	waitFor(t, "command dequeued", func() bool {
		_, cq := queueDepths(t, h.svc)
		return cq == 0
	})
}

func TestInboundSettingsWritten(t *testing.T) {
	testlog.Start(t)
	h := startAgent(t, true)
	waitFor(t, "collector connection", h.col.connected)

	b, err := message.EncodeSettings(message.Settings{Key: "upload_interval", Value: "120", Type: message.SettingsInteger}, 5, testDeviceID)
	if err != nil {
		t.Fatalf("encode settings: %v", err)
	}
	if err := h.col.push(b); err != nil {
		t.Fatalf("push settings: %v", err)
	}
	store := effector.NewYAMLSettings(h.svc.cfg.SettingsFile)
	waitFor(t, "setting stored", func() bool {
		v, ok, err := store.Get("upload_interval")
		return err == nil && ok && v == 120
	})
}

func TestSpoolEventQueuesSnapshot(t *testing.T) {
	testlog.Start(t)
	h := startAgent(t, true)
	waitFor(t, "boot snapshot acked", func() bool {
		hq, _ := queueDepths(t, h.svc)
		return hq == 0 && len(h.col.received()) == 1
	})

	if err := h.svc.HandleEvent(context.Background(), health.EventSIMCardRemoved); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if hq, _ := queueDepths(t, h.svc); hq != 1 {
		t.Fatalf("expected snapshot queued, depth=%d", hq)
	}
	h.svc.coord.Nudge()
	waitFor(t, "event snapshot delivered", func() bool {
		hq, _ := queueDepths(t, h.svc)
		return hq == 0 && len(h.col.received()) == 2
	})
}

func TestStatusReportsActiveState(t *testing.T) {
	testlog.Start(t)
	h := startAgent(t, true)
	waitFor(t, "link connected", func() bool {
		st, err := h.svc.Status(context.Background())
		return err == nil && st.Link == "CONNECTED"
	})
	st, _ := h.svc.Status(context.Background())
	if st.RunID == "" || st.DeviceID != testDeviceID || !st.Online {
		t.Fatalf("unexpected status: %+v", st)
	}
}
