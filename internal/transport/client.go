// Package transport keeps the agent's single TCP link to the collector.
package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	logs "github.com/danmuck/healthmon/internal/logging"
	"github.com/danmuck/healthmon/internal/protocol/session"
)

var (
	ErrAddressRequired = errors.New("transport: server address required")
	ErrNotConnected    = errors.New("transport: not connected")
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// Handler receives every non-empty read from the receive loop. It runs on
// the loop goroutine.
type Handler func(data []byte)

type Config struct {
	Address string
	Session session.Config
}

// Client is a reconnectable TCP client. Each successful Connect opens a
// new connection generation; a receive loop only ever tears down the
// generation it was started for.
type Client struct {
	cfg    Config
	handle Handler

	mu      sync.Mutex
	conn    net.Conn
	gen     uint64
	state   State
	started bool

	loops sync.WaitGroup
}

func NewClient(cfg Config, handle Handler) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	def := session.DefaultConfig()
	if cfg.Session.ConnectTimeout <= 0 {
		cfg.Session.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.Session.WriteTimeout <= 0 {
		cfg.Session.WriteTimeout = def.WriteTimeout
	}
	if cfg.Session.ReadTimeout <= 0 {
		cfg.Session.ReadTimeout = def.ReadTimeout
	}
	if cfg.Session.PollInterval <= 0 {
		cfg.Session.PollInterval = def.PollInterval
	}
	if cfg.Session.ReadBuffer <= 0 {
		cfg.Session.ReadBuffer = def.ReadBuffer
	}
	if handle == nil {
		handle = func([]byte) {}
	}
	return &Client{cfg: cfg, handle: handle}, nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the collector, replacing any current connection. Failure
// is logged and leaves the client disconnected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.closeLocked()
	c.state = StateConnecting
	c.mu.Unlock()

	dialer := net.Dialer{Timeout: c.cfg.Session.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.state = StateDisconnected
		logs.Warnf("transport.Client.Connect addr=%q err=%v", c.cfg.Address, err)
		return err
	}
	if c.state != StateConnecting {
		// disconnected while dialing
		_ = conn.Close()
		return ErrNotConnected
	}
	c.gen++
	c.conn = conn
	c.state = StateConnected
	logs.Infof("transport.Client.Connect connected addr=%q gen=%d", c.cfg.Address, c.gen)
	return nil
}

// Send writes b in full. Any error drops the connection and returns false.
func (c *Client) Send(b []byte) bool {
	conn, gen := c.current()
	if conn == nil {
		logs.Debugf("transport.Client.Send not connected")
		return false
	}
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.Session.WriteTimeout)); err != nil {
		c.dropGen(gen, err)
		return false
	}
	n, err := conn.Write(b)
	if err != nil || n != len(b) {
		if err == nil {
			err = errors.New("short write")
		}
		c.dropGen(gen, err)
		return false
	}
	return true
}

// Receive performs one read of up to the read buffer size. It returns nil
// when nothing arrived or on error; read errors drop the connection.
func (c *Client) Receive() []byte {
	conn, gen := c.current()
	if conn == nil {
		return nil
	}
	return c.receiveOn(conn, gen)
}

func (c *Client) receiveOn(conn net.Conn, gen uint64) []byte {
	if err := conn.SetReadDeadline(time.Now().Add(c.cfg.Session.ReadTimeout)); err != nil {
		c.dropGen(gen, err)
		return nil
	}
	buf := make([]byte, c.cfg.Session.ReadBuffer)
	n, err := conn.Read(buf)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if n > 0 {
				return buf[:n]
			}
			return nil
		}
		c.dropGen(gen, err)
		if n > 0 {
			return buf[:n]
		}
		return nil
	}
	return buf[:n]
}

// Disconnect closes the current connection. Safe to call when already
// disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

// Start marks the client started, connects, and runs the receive loop for
// the new connection until it is replaced, the client is stopped or ctx
// ends.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()

	if err := c.Connect(ctx); err != nil {
		return
	}
	conn, gen := c.current()
	if conn == nil {
		return
	}
	c.loops.Add(1)
	go c.receiveLoop(ctx, conn, gen)
}

// Stop clears the started flag and disconnects.
func (c *Client) Stop() {
	c.mu.Lock()
	c.started = false
	c.closeLocked()
	c.mu.Unlock()
}

func (c *Client) Restart(ctx context.Context) {
	logs.Infof("transport.Client.Restart addr=%q", c.cfg.Address)
	c.Stop()
	c.Start(ctx)
}

// Close stops the client and waits for receive loops to exit. It must not
// be called from the Handler.
func (c *Client) Close() {
	c.Stop()
	c.loops.Wait()
}

func (c *Client) receiveLoop(ctx context.Context, conn net.Conn, gen uint64) {
	defer c.loops.Done()
	logs.Debugf("transport.Client.receiveLoop start gen=%d", gen)
	defer logs.Debugf("transport.Client.receiveLoop exit gen=%d", gen)

	ticker := time.NewTicker(c.cfg.Session.PollInterval)
	defer ticker.Stop()
	for c.live(gen) {
		if data := c.receiveOn(conn, gen); len(data) > 0 {
			c.handle(data)
		}
		select {
		case <-ctx.Done():
			c.dropGen(gen, ctx.Err())
			return
		case <-ticker.C:
		}
	}
}

func (c *Client) live(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.started && c.state == StateConnected && c.gen == gen
}

func (c *Client) current() (net.Conn, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return nil, 0
	}
	return c.conn, c.gen
}

// dropGen disconnects only if gen is still the current connection.
func (c *Client) dropGen(gen uint64, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen || c.conn == nil {
		return
	}
	logs.Warnf("transport.Client drop gen=%d err=%v", gen, cause)
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
}
